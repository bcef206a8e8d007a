package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/utils"
)

// stealthScript is injected before every page load to hide the automation
// fingerprint: webdriver flag, empty plugin list, missing chrome namespace
// and the permissions.query notification quirk.
const stealthScript = `() => {
	Object.defineProperty(navigator, 'webdriver', {get: () => false});
	Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
	Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
	window.chrome = {runtime: {}};
	const originalQuery = window.navigator.permissions.query;
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications' ?
			Promise.resolve({state: Notification.permission}) :
			originalQuery(parameters)
	);
}`

// BrowserFetcher renders pages in a process-wide headless Chrome. The
// browser launches lazily; concurrent first callers coalesce on a single
// launch instead of starting competing instances.
type BrowserFetcher struct {
	mu          sync.Mutex
	browser     *rod.Browser
	launcher    *launcher.Launcher
	initialized bool
	closed      bool

	rotator       *utils.UserAgentRotator
	logger        *logger.Logger
	timeout       time.Duration
	waitAfterLoad time.Duration
}

// BrowserConfig holds browser-fetcher settings.
type BrowserConfig struct {
	Timeout       time.Duration
	WaitAfterLoad time.Duration
}

// NewBrowserFetcher creates a browser fetcher; Chrome is not launched until
// the first fetch.
func NewBrowserFetcher(cfg BrowserConfig, log *logger.Logger) *BrowserFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WaitAfterLoad <= 0 {
		cfg.WaitAfterLoad = 2 * time.Second
	}
	return &BrowserFetcher{
		rotator:       utils.NewUserAgentRotator(true),
		logger:        log.WithComponent("browser-fetcher"),
		timeout:       cfg.Timeout,
		waitAfterLoad: cfg.WaitAfterLoad,
	}
}

// initialize launches Chrome once. The mutex makes concurrent callers wait
// for the first launch to finish rather than starting a second browser; a
// failed launch is retried by the next caller.
func (f *BrowserFetcher) initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("browser fetcher is closed")
	}
	if f.initialized {
		return nil
	}

	f.logger.Info("Launching headless Chrome...")

	l := launcher.New().
		Headless(true).
		Leakless(true).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-extensions").
		Set("disable-default-apps").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", "1920,1080")

	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch Chrome: %w", err)
	}

	browser := rod.New().ControlURL(url).NoDefaultDevice()
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("failed to connect to Chrome: %w", err)
	}

	f.launcher = l
	f.browser = browser
	f.initialized = true
	f.logger.Info("Headless Chrome ready")
	return nil
}

// Fetch renders the page and returns its HTML. The page is always closed,
// on success and on every error path.
func (f *BrowserFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if err := f.initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	page, err := f.browser.Timeout(f.timeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create page: %v", ErrNetwork, err)
	}
	defer page.Close()

	page = page.Context(ctx)

	if _, err := page.EvalOnNewDocument(stealthScript); err != nil {
		f.logger.WithError(err).Warn("Failed to install stealth script")
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      f.rotator.GetUserAgent(),
		AcceptLanguage: f.rotator.GetAcceptLanguage(),
	}); err != nil {
		f.logger.WithError(err).Warn("Failed to set user agent")
	}

	// Randomized realistic viewport
	width := 1280 + rand.Intn(640)
	height := 720 + rand.Intn(360)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		f.logger.WithError(err).Warn("Failed to set viewport")
	}

	start := time.Now()
	if err := page.Navigate(req.URL); err != nil {
		return nil, f.classify(err, req.URL)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, f.classify(err, req.URL)
	}
	if waiter := page.WaitRequestIdle(2*time.Second, nil, nil, nil); waiter != nil {
		waiter()
	}

	if req.WaitForSelector != "" {
		if _, err := page.Timeout(10 * time.Second).Element(req.WaitForSelector); err != nil {
			return nil, fmt.Errorf("%w: selector %q never appeared on %s", ErrTimeout, req.WaitForSelector, req.URL)
		}
	}

	f.humanize(page)

	html, err := page.HTML()
	if err != nil {
		return nil, f.classify(err, req.URL)
	}

	finalURL := req.URL
	if info, err := page.Info(); err == nil {
		finalURL = info.URL
	}

	f.logger.Debugf("Rendered %s (%d bytes, %v)", req.URL, len(html), time.Since(start))

	return &Response{
		Body:        []byte(html),
		Status:      200,
		FinalURL:    finalURL,
		ContentType: "text/html",
	}, nil
}

// humanize performs small randomized interactions so the session looks like
// a person: a mouse move, a short scroll and a dwell of the configured
// wait-after-load plus 100-1500ms.
func (f *BrowserFetcher) humanize(page *rod.Page) {
	if err := page.Mouse.MoveTo(proto.Point{
		X: float64(100 + rand.Intn(800)),
		Y: float64(100 + rand.Intn(400)),
	}); err == nil {
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
	}

	_, _ = page.Eval(`() => window.scrollTo(0, document.body.scrollHeight / 3)`)

	dwell := f.waitAfterLoad + time.Duration(100+rand.Intn(1400))*time.Millisecond
	time.Sleep(dwell)
}

func (f *BrowserFetcher) classify(err error, url string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, url)
	}
	return fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
}

// Close shuts the shared browser down.
func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	if f.browser != nil {
		if err := f.browser.Close(); err != nil {
			f.logger.WithError(err).Warn("Failed to close browser")
		}
	}
	if f.launcher != nil {
		f.launcher.Cleanup()
	}
	f.logger.Info("Browser fetcher closed")
}
