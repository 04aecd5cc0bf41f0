// Package browser owns the single Chrome instance behind the pool.
//
// One persistent profile holds the authenticated Google session; every slot
// is a tab of this browser. Login happens interactively once, then survives
// restarts through the profile directory.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/gempool/config"
	"github.com/use-agent/gempool/detector"
	"github.com/use-agent/gempool/models"
	"github.com/use-agent/gempool/selectors"
)

const (
	loginWait        = 5 * time.Minute
	loginPoll        = 2 * time.Second
	navRetryDelay    = 2 * time.Second
	navSettle        = 1 * time.Second
	probeTimeout     = 1 * time.Second
	pageAliveTimeout = 5 * time.Second
)

// Browser wraps the rod browser plus the launch configuration needed to
// restart it in place.
type Browser struct {
	cfg config.BrowserConfig

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	initial  *rod.Page

	// dead flips when the CDP event stream closes, i.e. Chrome is gone.
	dead atomic.Bool
}

// New returns an unstarted Browser.
func New(cfg config.BrowserConfig) *Browser {
	return &Browser{cfg: cfg}
}

// Start launches Chrome with the persistent profile and connects to it.
func (b *Browser) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startLocked()
}

func (b *Browser) startLocked() error {
	profileDir := b.cfg.ResolvedProfileDir()
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return models.NewPoolError(models.KindDriverError, "creating profile directory failed", err)
	}

	// A crashed Chrome leaves singleton markers that block the next launch
	// of the same profile.
	for _, name := range []string{"SingletonLock", "SingletonCookie", "SingletonSocket"} {
		_ = os.Remove(filepath.Join(profileDir, name))
	}

	l := launcher.New().
		Headless(b.cfg.Headless).
		Leakless(true).
		UserDataDir(profileDir)

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return models.NewPoolError(models.KindDriverError, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL, "profile", profileDir)

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		l.Kill()
		return models.NewPoolError(models.KindDriverError, "failed to connect to browser", err)
	}

	// Clipboard reads during extraction need an explicit permission grant;
	// headless Chrome never shows the permission prompt.
	err = proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{
			proto.BrowserPermissionTypeClipboardReadWrite,
			proto.BrowserPermissionTypeClipboardSanitizedWrite,
		},
		Origin: "https://" + selectors.Origin,
	}.Call(br)
	if err != nil {
		slog.Warn("clipboard permission grant failed", "error", err)
	}

	b.launcher = l
	b.browser = br
	b.dead.Store(false)
	go b.watchDisconnect(br)

	// Adopt the startup tab instead of leaving it orphaned.
	pages, err := br.Pages()
	if err != nil || len(pages) == 0 {
		page, perr := br.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if perr != nil {
			return models.NewPoolError(models.KindDriverError, "creating initial page failed", perr)
		}
		b.initial = page
	} else {
		b.initial = pages.First()
		for _, extra := range pages[1:] {
			_ = extra.Close()
		}
	}
	b.preparePage(b.initial)
	return nil
}

// watchDisconnect drains the CDP event stream; it closes when the browser
// process dies or the connection drops.
func (b *Browser) watchDisconnect(br *rod.Browser) {
	for range br.Event() {
	}
	b.dead.Store(true)
	slog.Error("browser connection lost")
}

// preparePage applies stealth, a fixed viewport and a pinned Accept-Language
// to a new tab. Must run before any navigation on that tab. The language pin
// matters: the selector catalog matches localized labels, and a roaming
// Accept-Language would shuffle them per network.
func (b *Browser) preparePage(page *rod.Page) {
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1280,
		Height:            900,
		DeviceScaleFactor: 1,
	}); err != nil {
		slog.Warn("viewport override failed", "error", err)
	}
	err := proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{
			"Accept-Language": "de-DE,de;q=0.9,en;q=0.8",
		}),
	}.Call(page)
	if err != nil {
		slog.Warn("setting extra headers failed", "error", err)
	}
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// InitialPage returns the tab adopted at startup, used for the interactive
// login flow and as slot 0.
func (b *Browser) InitialPage() *rod.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initial
}

// CreateSlotPage opens a new tab and navigates it to the target
// conversation context.
func (b *Browser) CreateSlotPage(ctx context.Context) (*rod.Page, error) {
	b.mu.Lock()
	br := b.browser
	b.mu.Unlock()
	if br == nil {
		return nil, models.NewPoolError(models.KindDriverError, "browser not started", nil)
	}

	page, err := br.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, models.NewPoolError(models.KindDriverError, "creating page failed", err)
	}
	b.preparePage(page)

	if err := b.navigateWithRetries(ctx, page, b.cfg.TargetURL); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// RestartSlotPage closes a broken tab and opens a fresh one in its place.
func (b *Browser) RestartSlotPage(ctx context.Context, old *rod.Page) (*rod.Page, error) {
	if old != nil {
		_ = old.Close()
	}
	return b.CreateSlotPage(ctx)
}

// NavigateToNewChat points an existing tab at a fresh conversation in the
// configured target context.
func (b *Browser) NavigateToNewChat(ctx context.Context, page *rod.Page) error {
	return b.navigateWithRetries(ctx, page, b.cfg.TargetURL)
}

// NavigateToBase loads the main app URL, where the login flow is most
// reliable.
func (b *Browser) NavigateToBase(ctx context.Context, page *rod.Page) error {
	return b.navigateWithRetries(ctx, page, selectors.BaseURL)
}

// navigateWithRetries navigates and waits for a logged-in indicator, with
// the configured retry budget. The indicator wait is best-effort: during
// first login the page legitimately has none.
func (b *Browser) navigateWithRetries(ctx context.Context, page *rod.Page, url string) error {
	retries := b.cfg.NavigationRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return models.NewPoolError(models.KindDriverError, "navigation cancelled", ctx.Err())
		}

		p := page.Context(ctx).Timeout(b.cfg.NavigationTimeout())
		err := p.Navigate(url)
		if err == nil {
			err = p.WaitLoad()
		}
		if err == nil {
			if el, werr := p.Element(selectors.MustCombined("logged_in")); werr == nil && el != nil {
				time.Sleep(navSettle)
				return nil
			}
			// Loaded but no indicator: acceptable pre-login.
			time.Sleep(navSettle)
			return nil
		}

		lastErr = err
		slog.Warn("navigation failed", "url", url, "attempt", attempt, "error", err)
		time.Sleep(navRetryDelay)
	}
	return models.NewPoolError(models.KindDriverError,
		fmt.Sprintf("navigation to %s failed after %d attempts", url, retries), lastErr)
}

// IsLoggedIn reports whether the tab shows an authenticated app.
func (b *Browser) IsLoggedIn(page *rod.Page) bool {
	info, err := page.Info()
	if err != nil || !strings.Contains(info.URL, selectors.Origin) {
		return false
	}
	for _, role := range []string{"enterprise", "account_link", "logged_in"} {
		if has, _, herr := page.Has(selectors.MustCombined(role)); herr == nil && has {
			return true
		}
	}
	return false
}

// IsEnterprise reports whether the account shows enterprise branding.
// Telemetry only.
func (b *Browser) IsEnterprise(page *rod.Page) bool {
	has, _, err := page.Has(selectors.MustCombined("enterprise"))
	return err == nil && has
}

// WaitForLogin polls until the tab reaches an authenticated state, for up
// to five minutes. The operator completes email, password and 2FA in the
// visible window; progress is logged with a classified login state so a
// headless operator can follow along.
func (b *Browser) WaitForLogin(ctx context.Context, page *rod.Page) error {
	deadline := time.Now().Add(loginWait)
	reloaded := false

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return models.NewPoolError(models.KindDriverError, "login wait cancelled", ctx.Err())
		}
		if b.IsLoggedIn(page) {
			slog.Info("login detected")
			return nil
		}

		// The SPA sometimes wedges in its zero state after authentication;
		// one reload unsticks it.
		if !reloaded && b.inZeroState(page) {
			slog.Info("zero-state page detected, reloading once")
			_ = page.Reload()
			reloaded = true
		}

		if state := b.classifyLoginState(page); state != "" {
			slog.Info("waiting for login", "state", state)
		}

		select {
		case <-time.After(loginPoll):
		case <-ctx.Done():
			return models.NewPoolError(models.KindDriverError, "login wait cancelled", ctx.Err())
		}
	}
	return models.NewPoolError(models.KindDriverError, "login was not completed in time", nil)
}

func (b *Browser) inZeroState(page *rod.Page) bool {
	res, err := page.Timeout(probeTimeout).Eval(`() => document.body.className`)
	return err == nil && strings.Contains(res.Value.Str(), selectors.ZeroStateBodyClass)
}

func (b *Browser) classifyLoginState(page *rod.Page) detector.State {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	html, err := page.Timeout(probeTimeout * 3).HTML()
	if err != nil {
		return ""
	}
	return detector.Classify(info.URL, html)
}

// DismissCookieConsent clicks the consent banner if one is present.
func (b *Browser) DismissCookieConsent(page *rod.Page) {
	el, err := page.Timeout(3 * time.Second).ElementR(
		selectors.CookieAccept.Selector, selectors.CookieAccept.Regex)
	if err != nil || el == nil {
		return
	}
	if _, err := el.Eval(`() => this.click()`); err == nil {
		slog.Info("cookie consent dismissed")
		time.Sleep(500 * time.Millisecond)
	}
}

// DetectErrors probes a tab for known failure pages. A recoverable error
// dialog is clicked away; terminal conditions come back as errors.
func (b *Browser) DetectErrors(page *rod.Page) error {
	if el, err := page.Timeout(probeTimeout).ElementR(
		selectors.BotDetection.Selector, selectors.BotDetection.Regex); err == nil && el != nil {
		return models.NewPoolError(models.KindDriverError, "bot detection page shown", nil)
	}

	if has, _, err := page.Has(selectors.MustCombined("session_expired")); err == nil && has {
		return models.NewPoolError(models.KindDriverError, "session expired, sign-in required", nil)
	}

	if el, err := page.Timeout(probeTimeout).ElementR(
		selectors.ErrorRetry.Selector, selectors.ErrorRetry.Regex); err == nil && el != nil {
		slog.Warn("error dialog detected, clicking retry")
		_, _ = el.Eval(`() => this.click()`)
	}
	return nil
}

// CheckContextAlive reports whether the browser process still answers.
func (b *Browser) CheckContextAlive(ctx context.Context) bool {
	if b.dead.Load() {
		return false
	}
	b.mu.Lock()
	br := b.browser
	b.mu.Unlock()
	if br == nil {
		return false
	}
	_, err := br.Context(ctx).GetCookies()
	return err == nil
}

// CheckPageAlive reports whether a tab still evaluates JS.
func (b *Browser) CheckPageAlive(page *rod.Page) bool {
	if page == nil {
		return false
	}
	res, err := page.Timeout(pageAliveTimeout).Eval(`() => document.readyState`)
	return err == nil && res.Value.Str() != ""
}

// RestartBrowser kills and relaunches Chrome on the same profile. All
// existing pages become invalid; the caller recreates slot tabs.
func (b *Browser) RestartBrowser(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	slog.Warn("restarting browser")
	b.closeLocked()
	if err := ctx.Err(); err != nil {
		return models.NewPoolError(models.KindDriverError, "restart cancelled", err)
	}
	return b.startLocked()
}

// EnsurePreferredModel switches the model selector to the configured model
// when the UI defaults elsewhere. Matching is whole-word against the first
// line of the label, so "Pro" never matches "Processing". Best effort: a
// missing menu entry is logged and skipped.
func (b *Browser) EnsurePreferredModel(page *rod.Page) error {
	preferred := b.cfg.PreferredModel
	if preferred == "" {
		return nil
	}

	sel, err := page.Timeout(5 * time.Second).Element(selectors.MustCombined("model_selector"))
	if err != nil {
		slog.Warn("model selector not found", "error", err)
		return nil
	}
	current, err := sel.Text()
	if err == nil && modelMatches(current, preferred) {
		slog.Info("preferred model already active", "model", preferred)
		return nil
	}

	if _, err := sel.Eval(`() => this.click()`); err != nil {
		slog.Warn("opening model menu failed", "error", err)
		return nil
	}
	time.Sleep(500 * time.Millisecond)

	items, err := page.Elements(selectors.MustCombined("model_menu_item"))
	if err == nil {
		for _, item := range items {
			label, terr := item.Text()
			if terr != nil {
				continue
			}
			if modelMatches(label, preferred) {
				if _, cerr := item.Eval(`() => this.click()`); cerr == nil {
					slog.Info("switched model", "model", preferred)
					time.Sleep(time.Second)
					return nil
				}
			}
		}
	}

	slog.Warn("preferred model not found in menu", "model", preferred)
	_ = page.Keyboard.Press(input.Escape)
	return nil
}

// Close shuts the browser down and kills the Chrome process.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *Browser) closeLocked() {
	if b.browser != nil {
		_ = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}
	b.initial = nil
}

// modelMatches reports whether the preferred model name appears as a whole
// word in the first line of a selector or menu label.
func modelMatches(label, preferred string) bool {
	line := firstLine(label)
	for _, word := range strings.Fields(line) {
		if strings.EqualFold(word, preferred) {
			return true
		}
	}
	return false
}

// firstLine returns the first non-empty trimmed line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
