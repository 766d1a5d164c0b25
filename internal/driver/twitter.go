package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/playwright-community/playwright-go"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

const (
	twitterHome     = "https://x.com/home"
	twitterLogin    = "https://x.com/i/flow/login"
	twitterComposer = `[data-testid="tweetTextarea_0"]`
)

type twitterDriver struct {
	session
}

func (d *twitterDriver) LoginWithCookies(ctx context.Context, cookies []models.SessionCookie) error {
	if d.loggedIn {
		return nil
	}
	if err := d.setCookies(cookies); err != nil {
		return err
	}
	if err := d.goTo(twitterHome); err != nil {
		return err
	}
	// an expired session bounces to the login flow instead of the timeline
	url := d.page.URL()
	if strings.Contains(url, "/login") || strings.Contains(url, "/i/flow") {
		return errors.Wrap(faults.ErrSessionExpired, "twitter redirected to login")
	}
	d.loggedIn = true
	return nil
}

func (d *twitterDriver) Login(ctx context.Context, creds models.Credentials) error {
	if d.loggedIn {
		return nil
	}
	if err := d.goTo(twitterLogin); err != nil {
		return err
	}
	if err := d.typeInto(`input[autocomplete="username"]`, creds.Username); err != nil {
		return err
	}
	// the "Next" button label is localized; Enter advances the flow in any locale
	if err := d.page.Keyboard().Press("Enter"); err != nil {
		return errors.Wrapf(faults.ErrAutomation, "advance login flow: %v", err)
	}

	// optional verification step: twitter sometimes asks for the account
	// email before showing the password field
	verify := d.page.Locator(`input[data-testid="ocfEnterTextTextInput"]`).First()
	if visible, _ := verify.IsVisible(); visible && creds.Email != "" {
		if err := d.typeInto(`input[data-testid="ocfEnterTextTextInput"]`, creds.Email); err != nil {
			return err
		}
		if err := d.page.Keyboard().Press("Enter"); err != nil {
			return errors.Wrapf(faults.ErrAutomation, "confirm email: %v", err)
		}
	}

	if err := d.typeInto(`input[name="password"]`, creds.Password); err != nil {
		return err
	}
	if err := d.clickSubmit(`[data-testid="LoginForm_Login_Button"]`); err != nil {
		return err
	}
	if err := d.page.WaitForURL("**/home**", playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(navTimeout),
	}); err != nil {
		return errors.Wrap(faults.ErrSessionExpired, "login did not reach the timeline")
	}
	d.loggedIn = true
	return nil
}

func (d *twitterDriver) Post(ctx context.Context, content string) (string, error) {
	if !d.loggedIn {
		return "", errors.Wrap(faults.ErrAutomation, "not logged in")
	}
	if err := d.goTo(twitterHome); err != nil {
		return "", err
	}
	if err := d.typeInto(twitterComposer, content); err != nil {
		return "", err
	}
	// let the editor's internal state settle before submitting
	time.Sleep(500 * time.Millisecond)
	if err := d.clickSubmit(`[data-testid="tweetButtonInline"]`); err != nil {
		return "", err
	}
	return d.confirmSubmission()
}

func (d *twitterDriver) Reply(ctx context.Context, targetURL, content string) (string, error) {
	if !d.loggedIn {
		return "", errors.Wrap(faults.ErrAutomation, "not logged in")
	}
	if err := d.goTo(targetURL); err != nil {
		return "", err
	}
	if err := d.clickSubmit(`[data-testid="reply"]`); err != nil {
		return "", err
	}
	if err := d.typeInto(twitterComposer, content); err != nil {
		return "", err
	}
	time.Sleep(500 * time.Millisecond)
	if err := d.clickSubmit(`[data-testid="tweetButton"]`); err != nil {
		return "", err
	}
	return d.confirmSubmission()
}

func (d *twitterDriver) LatestPosts(ctx context.Context, handle string, count int) ([]string, error) {
	if err := d.goTo(fmt.Sprintf("https://x.com/%s", strings.TrimPrefix(handle, "@"))); err != nil {
		return nil, err
	}
	return d.collectTexts(`article [data-testid="tweetText"]`, count)
}

// confirmSubmission verifies the tweet went out and returns the canonical
// status URL when the page navigated there, else the home timeline as a
// best-effort fallback.
func (d *twitterDriver) confirmSubmission() (string, error) {
	if err := d.waitGone(twitterComposer); err != nil {
		return "", err
	}
	if url := d.page.URL(); strings.Contains(url, "/status/") {
		return url, nil
	}
	return twitterHome, nil
}
