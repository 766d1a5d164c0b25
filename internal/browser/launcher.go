package browser

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/playwright-community/playwright-go"
)

// Target platforms fingerprint automated browsers aggressively; every
// instance launches with the automation-controlled flag disabled, a realistic
// desktop user agent, a fixed viewport, and the navigator.webdriver signal
// suppressed. Without these, login and posting fail outright.
const (
	desktopUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	viewportWidth    = 1280
	viewportHeight   = 800

	webdriverPatch = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`
)

var stealthArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--no-sandbox",
	"--disable-dev-shm-usage",
}

// Instance is a browser+page pair handed out by the pool.
type Instance interface {
	Page() playwright.Page
	Close() error
}

// Launcher creates browser instances. Two implementations exist: a local
// playwright-managed Chromium and a browserless/chrome container reached over
// CDP.
type Launcher interface {
	Launch(ctx context.Context) (Instance, error)
	Shutdown() error
}

type instance struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	// cleanup runs after the browser is closed (e.g. stopping a container)
	cleanup func() error
}

func (i *instance) Page() playwright.Page { return i.page }

func (i *instance) Close() error {
	_ = i.page.Close()
	_ = i.context.Close()
	err := i.browser.Close()
	if i.cleanup != nil {
		if cerr := i.cleanup(); err == nil {
			err = cerr
		}
	}
	return err
}

// PlaywrightLauncher launches headless Chromium through the playwright
// driver.
type PlaywrightLauncher struct {
	pw       *playwright.Playwright
	headless bool
}

// NewPlaywrightLauncher installs (if needed) and starts the playwright
// driver. Driver output is discarded so it cannot leak onto stdout.
func NewPlaywrightLauncher(headless bool) (*PlaywrightLauncher, error) {
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, errors.Wrap(err, "install playwright")
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, errors.Wrap(err, "start playwright")
	}
	return &PlaywrightLauncher{pw: pw, headless: headless}, nil
}

// Launch starts a fresh Chromium with the stealth configuration applied.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Instance, error) {
	browser, err := l.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.headless),
		Args:     stealthArgs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "launch browser")
	}
	return newStealthInstance(browser, nil)
}

// Shutdown stops the playwright driver.
func (l *PlaywrightLauncher) Shutdown() error {
	return l.pw.Stop()
}

// newStealthInstance builds context+page with the anti-detection profile on
// an already-launched browser.
func newStealthInstance(browser playwright.Browser, cleanup func() error) (Instance, error) {
	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(desktopUserAgent),
		Viewport:  &playwright.Size{Width: viewportWidth, Height: viewportHeight},
	})
	if err != nil {
		browser.Close()
		return nil, errors.Wrap(err, "create context")
	}
	if err := context.AddInitScript(playwright.Script{Content: playwright.String(webdriverPatch)}); err != nil {
		context.Close()
		browser.Close()
		return nil, errors.Wrap(err, "add init script")
	}
	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, errors.Wrap(err, "create page")
	}
	return &instance{browser: browser, context: context, page: page, cleanup: cleanup}, nil
}
