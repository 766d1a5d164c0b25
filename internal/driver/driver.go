// Package driver implements platform-specific browser automation behind one
// capability interface: cookie/credential login, posting, replying, and
// reading a handle's latest posts.
//
// Drivers never retry internally. Any unexpected DOM state surfaces as a
// typed error; retry policy belongs to the dispatcher.
package driver

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/playwright-community/playwright-go"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

// Driver is the uniform capability surface every platform implements.
// Login and LoginWithCookies are idempotent: calling either when already
// logged in is a no-op.
type Driver interface {
	LoginWithCookies(ctx context.Context, cookies []models.SessionCookie) error
	Login(ctx context.Context, creds models.Credentials) error
	Post(ctx context.Context, content string) (string, error)
	Reply(ctx context.Context, targetURL, content string) (string, error)
	LatestPosts(ctx context.Context, handle string, count int) ([]string, error)
}

// New selects the driver for a platform. The switch is exhaustive over the
// Platform enum; an unknown value is a routing bug surfaced as ErrUnsupported.
func New(platform models.Platform, page playwright.Page) (Driver, error) {
	switch platform {
	case models.PlatformTwitter:
		return &twitterDriver{session: session{page: page}}, nil
	case models.PlatformLinkedIn:
		return &linkedinDriver{session: session{page: page}}, nil
	case models.PlatformThreads:
		return &threadsDriver{session: session{page: page}}, nil
	default:
		return nil, errors.Wrapf(faults.ErrUnsupported, "platform %q", platform)
	}
}

// Wait bounds for DOM interactions, in milliseconds (playwright convention).
const (
	navTimeout      = 30_000
	selectorTimeout = 15_000
	submitTimeout   = 10_000

	// typeDelay is the per-character delay. Platforms run framework-managed
	// rich-text editors that ignore programmatic value assignment and flag
	// non-human input cadence, so content is typed keystroke by keystroke.
	typeDelay = 35
)

// session is the shared state machine core: NotLoggedIn -> LoggedIn, then
// posting/replying always returns to LoggedIn.
type session struct {
	page     playwright.Page
	loggedIn bool
}

func (s *session) goTo(url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(navTimeout),
	})
	if err != nil {
		return errors.Wrapf(faults.ErrAutomation, "navigate to %s: %v", url, err)
	}
	return nil
}

// setCookies loads captured cookies into the page's cookie jar.
func (s *session) setCookies(cookies []models.SessionCookie) error {
	if len(cookies) == 0 {
		return errors.Wrap(faults.ErrSessionExpired, "no cookies in session payload")
	}
	if err := s.page.Context().AddCookies(toOptionalCookies(cookies)); err != nil {
		return errors.Wrapf(faults.ErrAutomation, "add cookies: %v", err)
	}
	return nil
}

// typeInto waits for a rich-text input to become interactive, focuses it, and
// simulates per-character keystrokes.
func (s *session) typeInto(selector, text string) error {
	input := s.page.Locator(selector).First()
	if err := input.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(selectorTimeout),
	}); err != nil {
		return errors.Wrapf(faults.ErrAutomation, "input %s never appeared: %v", selector, err)
	}
	if err := input.Click(); err != nil {
		return errors.Wrapf(faults.ErrAutomation, "focus %s: %v", selector, err)
	}
	if err := input.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(typeDelay),
	}); err != nil {
		return errors.Wrapf(faults.ErrAutomation, "type into %s: %v", selector, err)
	}
	return nil
}

// clickSubmit clicks the submit control once it is enabled.
func (s *session) clickSubmit(selector string) error {
	button := s.page.Locator(selector).First()
	if err := button.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(selectorTimeout),
	}); err != nil {
		return errors.Wrapf(faults.ErrAutomation, "submit control %s never appeared: %v", selector, err)
	}
	if err := button.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(submitTimeout)}); err != nil {
		return errors.Wrapf(faults.ErrAutomation, "click %s: %v", selector, err)
	}
	return nil
}

// waitGone waits for an element (usually the composer) to disappear, the
// cheapest signal that a submission went through.
func (s *session) waitGone(selector string) error {
	if err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateHidden,
		Timeout: playwright.Float(submitTimeout),
	}); err != nil {
		return errors.Wrapf(faults.ErrAutomation, "%s still present after submit: %v", selector, err)
	}
	return nil
}

// collectTexts returns the inner text of up to count matches.
func (s *session) collectTexts(selector string, count int) ([]string, error) {
	locator := s.page.Locator(selector)
	if err := locator.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(selectorTimeout),
	}); err != nil {
		return nil, errors.Wrapf(faults.ErrAutomation, "no posts found (%s): %v", selector, err)
	}
	texts, err := locator.AllInnerTexts()
	if err != nil {
		return nil, errors.Wrapf(faults.ErrAutomation, "read posts: %v", err)
	}
	if len(texts) > count {
		texts = texts[:count]
	}
	return texts, nil
}

func toOptionalCookies(cookies []models.SessionCookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: playwright.String(c.Domain),
			Path:   playwright.String(orDefault(c.Path, "/")),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if c.HTTPOnly {
			oc.HttpOnly = playwright.Bool(true)
		}
		if c.Secure {
			oc.Secure = playwright.Bool(true)
		}
		if ss := toSameSite(c.SameSite); ss != nil {
			oc.SameSite = ss
		}
		out = append(out, oc)
	}
	return out
}

func toSameSite(v string) *playwright.SameSiteAttribute {
	switch v {
	case "Strict", "strict":
		return playwright.SameSiteAttributeStrict
	case "Lax", "lax":
		return playwright.SameSiteAttributeLax
	case "None", "none", "no_restriction":
		return playwright.SameSiteAttributeNone
	default:
		return nil
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
