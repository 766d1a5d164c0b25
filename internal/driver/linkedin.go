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
	linkedinFeed   = "https://www.linkedin.com/feed/"
	linkedinLogin  = "https://www.linkedin.com/login"
	linkedinEditor = `div.ql-editor[contenteditable="true"]`
)

// linkedinDriver exposes comments rather than replies: Reply maps onto
// commenting under the target post.
type linkedinDriver struct {
	session
}

func (d *linkedinDriver) LoginWithCookies(ctx context.Context, cookies []models.SessionCookie) error {
	if d.loggedIn {
		return nil
	}
	if err := d.setCookies(cookies); err != nil {
		return err
	}
	if err := d.goTo(linkedinFeed); err != nil {
		return err
	}
	url := d.page.URL()
	if strings.Contains(url, "/login") || strings.Contains(url, "/checkpoint") || strings.Contains(url, "/authwall") {
		return errors.Wrap(faults.ErrSessionExpired, "linkedin redirected to login")
	}
	d.loggedIn = true
	return nil
}

func (d *linkedinDriver) Login(ctx context.Context, creds models.Credentials) error {
	if d.loggedIn {
		return nil
	}
	if err := d.goTo(linkedinLogin); err != nil {
		return err
	}
	if err := d.typeInto(`input#username`, creds.Username); err != nil {
		return err
	}
	if err := d.typeInto(`input#password`, creds.Password); err != nil {
		return err
	}
	if err := d.clickSubmit(`button[type="submit"]`); err != nil {
		return err
	}
	if err := d.page.WaitForURL("**/feed/**", playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(navTimeout),
	}); err != nil {
		return errors.Wrap(faults.ErrSessionExpired, "login did not reach the feed")
	}
	d.loggedIn = true
	return nil
}

func (d *linkedinDriver) Post(ctx context.Context, content string) (string, error) {
	if !d.loggedIn {
		return "", errors.Wrap(faults.ErrAutomation, "not logged in")
	}
	if err := d.goTo(linkedinFeed); err != nil {
		return "", err
	}
	// open the share box modal
	if err := d.clickSubmit(`button.share-box-feed-entry__trigger, button[id*="share"]`); err != nil {
		return "", err
	}
	if err := d.typeInto(linkedinEditor, content); err != nil {
		return "", err
	}
	time.Sleep(500 * time.Millisecond)
	if err := d.clickSubmit(`button.share-actions__primary-action`); err != nil {
		return "", err
	}
	// the modal closing is the success signal; linkedin does not navigate
	if err := d.waitGone(`button.share-actions__primary-action`); err != nil {
		return "", err
	}
	return linkedinFeed, nil
}

func (d *linkedinDriver) Reply(ctx context.Context, targetURL, content string) (string, error) {
	if !d.loggedIn {
		return "", errors.Wrap(faults.ErrAutomation, "not logged in")
	}
	if err := d.goTo(targetURL); err != nil {
		return "", err
	}
	if err := d.clickSubmit(`button[aria-label*="omment"]`); err != nil {
		return "", err
	}
	if err := d.typeInto(`div.comments-comment-box-comment__text-editor div[contenteditable="true"], `+linkedinEditor, content); err != nil {
		return "", err
	}
	time.Sleep(500 * time.Millisecond)
	if err := d.clickSubmit(`button.comments-comment-box__submit-button, button[class*="submit"]`); err != nil {
		return "", err
	}
	return targetURL, nil
}

func (d *linkedinDriver) LatestPosts(ctx context.Context, handle string, count int) ([]string, error) {
	url := fmt.Sprintf("https://www.linkedin.com/in/%s/recent-activity/all/", strings.Trim(handle, "/"))
	if err := d.goTo(url); err != nil {
		return nil, err
	}
	return d.collectTexts(`span.break-words`, count)
}
