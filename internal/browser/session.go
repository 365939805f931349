// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/page"
)

// Session drives one Chrome tab and implements page.Document over CDP.
type Session struct {
	ctx       context.Context // chromedp tab context
	cancel    context.CancelFunc
	opTimeout time.Duration
	history   chan struct{}
	logger    *zap.Logger
	newRef    func() string
}

var _ page.Document = (*Session)(nil)

// envelope is what every element script returns.
type envelope struct {
	Found  bool            `json:"found"`
	Result json.RawMessage `json:"result"`
}

// Open launches or attaches to Chrome and returns a session bound to one tab.
// With a remote URL the first tab whose address contains siteMarker is
// reused; otherwise a new tab is opened on cfg.StartURL.
func Open(ctx context.Context, cfg config.BrowserConfig, siteMarker string, logger *zap.Logger) (*Session, error) {
	logger = logger.Named("browser")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		logger.Info("Attaching to running browser.", zap.String("url", cfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		logger.Info("Launching browser.", zap.Bool("headless", cfg.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	}

	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)
	cancelAll := func() {
		browserCancel()
		allocCancel()
	}
	if err := chromedp.Run(browserCtx); err != nil {
		cancelAll()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	tabCtx, tabCancel, attached, err := findTab(browserCtx, siteMarker)
	if err != nil {
		cancelAll()
		return nil, err
	}
	s := &Session{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			cancelAll()
		},
		opTimeout: cfg.OpTimeout,
		history:   make(chan struct{}, 1),
		logger:    logger,
		newRef:    uuid.NewString,
	}
	s.listen()

	if attached {
		logger.Info("Attached to existing tab.")
		return s, nil
	}
	if cfg.StartURL != "" {
		if err := chromedp.Run(tabCtx, chromedp.Navigate(cfg.StartURL)); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open %s: %w", cfg.StartURL, err)
		}
	}
	return s, nil
}

// findTab returns a context on an existing page target whose URL contains
// marker, or the browser context's own tab when none does.
func findTab(browserCtx context.Context, marker string) (context.Context, context.CancelFunc, bool, error) {
	noop := func() {}
	if marker == "" {
		return browserCtx, noop, false, nil
	}
	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, noop, false, fmt.Errorf("failed to list tabs: %w", err)
	}
	for _, t := range targets {
		if t.Type != "page" || !strings.Contains(t.URL, marker) {
			continue
		}
		tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(t.TargetID))
		if err := chromedp.Run(tabCtx); err != nil {
			cancel()
			return nil, noop, false, fmt.Errorf("failed to attach to tab %s: %w", t.TargetID, err)
		}
		return tabCtx, cancel, true, nil
	}
	return browserCtx, noop, false, nil
}

// AllocatorOptions translates the browser configuration into launch flags.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:0:0], chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("disable-dev-shm-usage", true))
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// listen forwards same-document navigations (history API, back/forward) to
// the History channel without blocking the event loop.
func (s *Session) listen() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		if _, ok := ev.(*cdppage.EventNavigatedWithinDocument); ok {
			select {
			case s.history <- struct{}{}:
			default:
			}
		}
	})
}

// History signals same-document navigations.
func (s *Session) History() <-chan struct{} { return s.history }

// Close shuts the tab and, if it was launched here, the browser.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if s.opTimeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, s.opTimeout)
		defer cancelTimeout()
	}
	return chromedp.Run(opCtx, actions...)
}

func (s *Session) evaluate(ctx context.Context, script string) ([]byte, error) {
	var raw []byte
	err := s.run(ctx, chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// onElement runs body against selector's first match and decodes its result
// into out, which may be nil.
func (s *Session) onElement(ctx context.Context, selector, body string, arg, out interface{}) error {
	raw, err := s.evaluate(ctx, elementScript(selector, body, arg))
	if err != nil {
		return fmt.Errorf("evaluate on %s: %w", selector, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode result for %s: %w", selector, err)
	}
	if !env.Found {
		return fmt.Errorf("%s: %w", selector, page.ErrNotFound)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

// activate runs an action that may navigate away. The evaluation context
// being torn down by that navigation counts as success.
func (s *Session) activate(ctx context.Context, selector, body string, out interface{}) error {
	err := s.onElement(ctx, selector, body, nil, out)
	if err != nil && isNavigationError(err) {
		s.logger.Debug("Page navigated during activation.", zap.String("selector", selector))
		return nil
	}
	return err
}

func isNavigationError(err error) bool {
	if errors.Is(err, page.ErrNotFound) {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"Execution context was destroyed",
		"Inspected target navigated or closed",
		"Cannot find context with specified id",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	raw, err := s.evaluate(ctx, existsScript(selector))
	if err != nil {
		return false, fmt.Errorf("query %s: %w", selector, err)
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("decode query result for %s: %w", selector, err)
	}
	return ok, nil
}

func (s *Session) Value(ctx context.Context, selector string) (string, error) {
	var v string
	err := s.onElement(ctx, selector, jsValue, nil, &v)
	return v, err
}

func (s *Session) SetValue(ctx context.Context, selector, value string, events ...string) error {
	if events == nil {
		events = []string{}
	}
	arg := map[string]interface{}{"value": value, "events": events}
	return s.onElement(ctx, selector, jsSetValue, arg, nil)
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var v string
	err := s.onElement(ctx, selector, jsText, nil, &v)
	return v, err
}

func (s *Session) Markup(ctx context.Context, selector string) (string, error) {
	var v string
	err := s.onElement(ctx, selector, jsMarkup, nil, &v)
	return v, err
}

func (s *Session) Enable(ctx context.Context, selector string) error {
	return s.onElement(ctx, selector, jsEnable, nil, nil)
}

func (s *Session) ClearRestrictions(ctx context.Context, selector string, isSelect bool) error {
	return s.onElement(ctx, selector, jsClearRestrictions, isSelect, nil)
}

func (s *Session) FindByText(ctx context.Context, selector, text string) (string, error) {
	raw, err := s.evaluate(ctx, findByTextScript(selector, text, s.newRef()))
	if err != nil {
		return "", fmt.Errorf("search %s: %w", selector, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("decode search result for %s: %w", selector, err)
	}
	if !env.Found {
		return "", fmt.Errorf("%s containing %q: %w", selector, text, page.ErrNotFound)
	}
	var ref string
	if err := json.Unmarshal(env.Result, &ref); err != nil {
		return "", fmt.Errorf("decode element reference: %w", err)
	}
	return ref, nil
}

func (s *Session) ScrollIntoView(ctx context.Context, selector string) error {
	return s.onElement(ctx, selector, jsScrollIntoView, nil, nil)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.activate(ctx, selector, jsClick, nil)
}

func (s *Session) DispatchClick(ctx context.Context, selector string) error {
	return s.activate(ctx, selector, jsDispatchClick, nil)
}

func (s *Session) DispatchSubmit(ctx context.Context, selector string) (bool, error) {
	var res struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := s.activate(ctx, selector, jsDispatchSubmit, &res); err != nil {
		return false, err
	}
	return res.Cancelled, nil
}

func (s *Session) SubmitForm(ctx context.Context, selector string) error {
	res := struct {
		Form bool `json:"form"`
	}{Form: true}
	if err := s.activate(ctx, selector, jsSubmitForm, &res); err != nil {
		return err
	}
	if !res.Form {
		return fmt.Errorf("%s has no enclosing form: %w", selector, page.ErrNotFound)
	}
	return nil
}
