package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

const (
	threadsHome   = "https://www.threads.net/"
	threadsEditor = `div[contenteditable="true"]`
)

type threadsDriver struct {
	session
}

func (d *threadsDriver) LoginWithCookies(ctx context.Context, cookies []models.SessionCookie) error {
	if d.loggedIn {
		return nil
	}
	if err := d.setCookies(cookies); err != nil {
		return err
	}
	if err := d.goTo(threadsHome); err != nil {
		return err
	}
	if strings.Contains(d.page.URL(), "/login") {
		return errors.Wrap(faults.ErrSessionExpired, "threads redirected to login")
	}
	// threads shows a login prompt instead of redirecting when logged out
	if visible, _ := d.page.Locator(`a[href*="/login"]`).First().IsVisible(); visible {
		return errors.Wrap(faults.ErrSessionExpired, "threads shows login prompt")
	}
	d.loggedIn = true
	return nil
}

func (d *threadsDriver) Login(ctx context.Context, creds models.Credentials) error {
	if d.loggedIn {
		return nil
	}
	if err := d.goTo(threadsHome + "login/"); err != nil {
		return err
	}
	if err := d.typeInto(`input[autocomplete="username"]`, creds.Username); err != nil {
		return err
	}
	if err := d.typeInto(`input[autocomplete="current-password"]`, creds.Password); err != nil {
		return err
	}
	if err := d.clickSubmit(`div[role="button"]:has(div:text-is("Log in"))`); err != nil {
		return err
	}
	if err := d.waitGone(`input[autocomplete="current-password"]`); err != nil {
		return errors.Wrap(faults.ErrSessionExpired, "login form did not clear")
	}
	d.loggedIn = true
	return nil
}

func (d *threadsDriver) Post(ctx context.Context, content string) (string, error) {
	if !d.loggedIn {
		return "", errors.Wrap(faults.ErrAutomation, "not logged in")
	}
	if err := d.goTo(threadsHome); err != nil {
		return "", err
	}
	if err := d.clickSubmit(`div[role="button"]:has(svg[aria-label="Create"]), a[href="#"]:has(svg[aria-label="Create"])`); err != nil {
		return "", err
	}
	if err := d.typeInto(threadsEditor, content); err != nil {
		return "", err
	}
	time.Sleep(500 * time.Millisecond)
	if err := d.clickSubmit(`div[role="button"]:has(div:text-is("Post"))`); err != nil {
		return "", err
	}
	if err := d.waitGone(threadsEditor); err != nil {
		return "", err
	}
	return threadsHome, nil
}

func (d *threadsDriver) Reply(ctx context.Context, targetURL, content string) (string, error) {
	if !d.loggedIn {
		return "", errors.Wrap(faults.ErrAutomation, "not logged in")
	}
	if err := d.goTo(targetURL); err != nil {
		return "", err
	}
	if err := d.clickSubmit(`div[role="button"]:has(svg[aria-label="Reply"])`); err != nil {
		return "", err
	}
	if err := d.typeInto(threadsEditor, content); err != nil {
		return "", err
	}
	time.Sleep(500 * time.Millisecond)
	if err := d.clickSubmit(`div[role="button"]:has(div:text-is("Post"))`); err != nil {
		return "", err
	}
	if err := d.waitGone(threadsEditor); err != nil {
		return "", err
	}
	return targetURL, nil
}

func (d *threadsDriver) LatestPosts(ctx context.Context, handle string, count int) ([]string, error) {
	handle = strings.TrimPrefix(handle, "@")
	if err := d.goTo(fmt.Sprintf("%s@%s", threadsHome, handle)); err != nil {
		return nil, err
	}
	return d.collectTexts(`div[data-pressable-container] span`, count)
}
