package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

const (
	// DefaultPollInterval is how often the page is inspected for pairing and login changes.
	DefaultPollInterval = time.Second

	// DefaultTimeout is the playwright operation timeout in milliseconds.
	DefaultTimeout = 30000.0

	eventBuffer   = 256
	maxEarlyAcks  = 256
	errNotRunning = "browser not launched"
)

// Driver automates WhatsApp Web in a persistent Chromium context. It is the session backend:
// page changes and message hooks are reported as typed events on the channel returned by Launch.
type Driver struct {
	log          *logging.Logger
	url          string
	pollInterval time.Duration
	timeout      float64

	mu     sync.Mutex
	pw     *playwright.Playwright
	bctx   playwright.BrowserContext
	page   playwright.Page
	opts   LaunchOptions
	cancel context.CancelFunc

	emitMu sync.RWMutex
	events chan types.BackendEvent
	done   chan struct{}

	stateMu       sync.Mutex
	authenticated bool
	hooked        bool
	lastRef       string
	pending       map[string]string // WhatsApp message id -> correlation id
	early         map[string]types.DeliveryState
}

// NewDriver creates an idle driver.
func NewDriver(log *logging.Logger) *Driver {
	if log == nil {
		log = logging.Nop()
	}
	return &Driver{
		log:          log,
		url:          WhatsAppWebURL,
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		pending:      make(map[string]string),
		early:        make(map[string]types.DeliveryState),
	}
}

// Launch starts Chromium with opts and opens WhatsApp Web. The returned channel is closed by Close.
func (d *Driver) Launch(ctx context.Context, opts LaunchOptions) (<-chan types.BackendEvent, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.events != nil {
		return nil, errors.New("browser already launched")
	}
	if err := d.startLocked(opts); err != nil {
		_ = d.stopLocked()
		return nil, err
	}
	d.opts = opts

	events := make(chan types.BackendEvent, eventBuffer)
	d.emitMu.Lock()
	d.events, d.done = events, make(chan struct{})
	d.emitMu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.watch(watchCtx)

	return events, nil
}

func (d *Driver) startLocked(opts LaunchOptions) error {
	if d.pw == nil {
		runOpts := &playwright.RunOptions{
			Verbose:             false,
			Stdout:              io.Discard,
			Stderr:              io.Discard,
			SkipInstallBrowsers: opts.ExecutablePath != "",
		}
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
		pw, err := playwright.Run(runOpts)
		if err != nil {
			return fmt.Errorf("failed to start playwright: %w", err)
		}
		d.pw = pw
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	}
	if opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.ExecutablePath)
	}
	bctx, err := d.pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	if err := bctx.ExposeFunction(bindingName, d.onBinding); err != nil {
		_ = bctx.Close()
		return fmt.Errorf("failed to expose page binding: %w", err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		_ = bctx.Close()
		return fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(d.timeout)
	page.OnClose(func(playwright.Page) {
		d.stateMu.Lock()
		d.authenticated, d.hooked = false, false
		d.stateMu.Unlock()
		d.emit(types.NewDisconnectedEvent("page closed"))
	})

	if _, err := page.Goto(d.url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		_ = bctx.Close()
		return fmt.Errorf("navigation failed: %w", err)
	}

	d.bctx, d.page = bctx, page
	d.log.Infof("WhatsApp Web opened in profile %s", opts.UserDataDir)
	return nil
}

// stopLocked releases browser resources and reports what failed to close.
func (d *Driver) stopLocked() error {
	var errs []error
	if d.bctx != nil {
		if err := d.bctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		d.bctx, d.page = nil, nil
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		d.pw = nil
	}
	return errors.Join(errs...)
}

// Close stops the watcher, closes the event channel and releases the browser. Safe to call repeatedly.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	d.emitMu.RLock()
	done := d.done
	d.emitMu.RUnlock()
	if done != nil {
		close(done)
	}
	d.emitMu.Lock()
	if d.events != nil {
		close(d.events)
	}
	d.events, d.done = nil, nil
	d.emitMu.Unlock()

	d.stateMu.Lock()
	d.authenticated, d.hooked, d.lastRef = false, false, ""
	clear(d.pending)
	clear(d.early)
	d.stateMu.Unlock()

	return d.stopLocked()
}

// Resume reloads WhatsApp Web, relaunching the browser if its page is gone, and waits for
// either the chat list or a pairing screen.
func (d *Driver) Resume(ctx context.Context) error {
	page, err := d.ensurePage()
	if err != nil {
		return err
	}
	if _, err := page.Reload(); err != nil {
		return fmt.Errorf("failed to reload WhatsApp Web: %w", err)
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			raw, err := page.Content()
			if err != nil {
				return fmt.Errorf("failed to read page: %w", err)
			}
			st, err := detectPage(raw)
			if err != nil {
				continue
			}
			switch st.kind {
			case pageChats:
				return nil
			case pagePairing:
				return types.ErrPairingRequired
			}
		}
	}
}

func (d *Driver) ensurePage() (playwright.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.events == nil {
		return nil, errors.New(errNotRunning)
	}
	if d.page != nil && !d.page.IsClosed() {
		return d.page, nil
	}

	d.log.Warnf("page is gone, relaunching browser")
	if d.bctx != nil {
		_ = d.bctx.Close()
		d.bctx, d.page = nil, nil
	}
	if err := d.startLocked(d.opts); err != nil {
		return nil, err
	}
	return d.page, nil
}

func (d *Driver) livePage() (playwright.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil || d.page.IsClosed() {
		return nil, errors.New(errNotRunning)
	}
	return d.page, nil
}

// RequestPairing asks WhatsApp Web for a fresh QR code.
func (d *Driver) RequestPairing(ctx context.Context) error {
	page, err := d.livePage()
	if err != nil {
		return err
	}

	clicked, err := page.Evaluate(reloadQRScript)
	if err != nil {
		return fmt.Errorf("failed to request a new QR code: %w", err)
	}
	if ok, _ := clicked.(bool); ok {
		return nil
	}
	if _, err := page.Reload(); err != nil {
		return fmt.Errorf("failed to reload WhatsApp Web: %w", err)
	}
	return nil
}

// Send delivers one text message and registers its WhatsApp id for ack correlation.
func (d *Driver) Send(ctx context.Context, msg types.OutboundMessage) error {
	page, err := d.livePage()
	if err != nil {
		return err
	}

	v, err := evaluate(ctx, page, sendScript, map[string]any{"chatId": msg.ChatID, "body": msg.Body})
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	if id, _ := v.(string); id != "" {
		d.track(id, msg.CorrelationID)
	}
	return nil
}

type chatRecord struct {
	ChatID      string `json:"chatId"`
	Name        string `json:"name"`
	IsGroup     bool   `json:"isGroup"`
	Timestamp   int64  `json:"timestamp"`
	LastMessage string `json:"lastMessage"`
}

// ListChats returns the chat list from the web client, falling back to scraping the chat pane.
func (d *Driver) ListChats(ctx context.Context) ([]types.ChatSummary, error) {
	page, err := d.livePage()
	if err != nil {
		return nil, err
	}

	v, err := evaluate(ctx, page, listChatsScript)
	if err == nil {
		var records []chatRecord
		if raw, merr := json.Marshal(v); merr == nil && json.Unmarshal(raw, &records) == nil {
			chats := make([]types.ChatSummary, 0, len(records))
			for _, r := range records {
				chat := types.ChatSummary{ChatID: r.ChatID, Name: r.Name, LastMessage: r.LastMessage, IsGroup: r.IsGroup}
				if r.Timestamp > 0 {
					chat.LastMessageAt = time.Unix(r.Timestamp, 0)
				}
				chats = append(chats, chat)
			}
			return chats, nil
		}
	}
	d.log.Warnf("chat collection unavailable, scraping chat pane: %v", err)

	raw, err := page.Locator("#pane-side").InnerHTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat list: %w", err)
	}
	return parseChatList(raw)
}

// evaluate runs a page script, returning early when ctx ends.
func evaluate(ctx context.Context, page playwright.Page, script string, arg ...any) (any, error) {
	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := page.Evaluate(script, arg...)
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func (d *Driver) watch(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll()
		}
	}
}

// poll inspects the page and turns changes into backend events.
func (d *Driver) poll() {
	page, err := d.livePage()
	if err != nil {
		return
	}
	raw, err := page.Content()
	if err != nil {
		d.log.Debugf("page content unavailable: %v", err)
		return
	}
	st, err := detectPage(raw)
	if err != nil {
		d.log.Debugf("%v", err)
		return
	}

	var out []types.BackendEvent
	d.stateMu.Lock()
	switch st.kind {
	case pagePairing:
		if d.authenticated {
			d.authenticated, d.hooked = false, false
			out = append(out, types.NewPairingRequiredEvent("logged out"))
		}
		if st.ref != d.lastRef {
			d.lastRef = st.ref
			out = append(out, types.NewPairingEvent(st.ref))
		}
	case pageChats:
		if !d.authenticated {
			d.authenticated = true
			out = append(out, types.NewAuthenticatedEvent(d.lastRef))
		}
	case pageConflict:
		if d.authenticated {
			d.authenticated, d.hooked = false, false
			out = append(out, types.NewDisconnectedEvent("CONFLICT"))
		}
	}
	needHook := d.authenticated && !d.hooked
	d.stateMu.Unlock()

	if needHook {
		if _, err := page.Evaluate(hookScript); err != nil {
			d.log.Warnf("message hooks not installed yet: %v", err)
		} else {
			d.stateMu.Lock()
			d.hooked = true
			d.stateMu.Unlock()
		}
	}

	for _, ev := range out {
		d.emit(ev)
	}
}

func (d *Driver) emit(ev types.BackendEvent) {
	d.emitMu.RLock()
	defer d.emitMu.RUnlock()
	if d.events == nil {
		return
	}
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

// pageEvent is the JSON reported by the hook script.
type pageEvent struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	ChatName  string `json:"chatName"`
	FromMe    bool   `json:"fromMe"`
	Local     bool   `json:"local"`
	Timestamp int64  `json:"timestamp"`
	Ack       int    `json:"ack"`
}

func (d *Driver) onBinding(args ...any) any {
	if len(args) == 0 {
		return nil
	}
	raw, ok := args[0].(string)
	if !ok {
		return nil
	}
	var ev pageEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		d.log.Warnf("malformed page event: %v", err)
		return nil
	}

	switch ev.Kind {
	case "message":
		// sends issued by this driver are already recorded by the gateway
		if ev.FromMe && ev.Local {
			return nil
		}
		msg := types.InboundMessage{
			ID:       ev.ID,
			ChatID:   ev.ChatID,
			From:     ev.From,
			To:       ev.To,
			Body:     ev.Body,
			ChatName: ev.ChatName,
			FromMe:   ev.FromMe,
		}
		if ev.Timestamp > 0 {
			msg.Timestamp = time.Unix(ev.Timestamp, 0)
		} else {
			msg.Timestamp = time.Now()
		}
		d.emit(types.NewInboundEvent(msg))
	case "ack":
		d.handleAck(ev.ID, ev.Ack)
	}
	return nil
}

// ackState maps a WhatsApp ack level to a delivery state.
func ackState(ack int) (types.DeliveryState, bool) {
	switch {
	case ack < 0:
		return types.DeliveryFailed, true
	case ack == 1:
		return types.DeliverySent, true
	case ack >= 2:
		return types.DeliveryDelivered, true
	}
	return "", false
}

func (d *Driver) handleAck(id string, ack int) {
	state, ok := ackState(ack)
	if !ok || id == "" {
		return
	}

	d.stateMu.Lock()
	cid, known := d.pending[id]
	if known {
		delete(d.pending, id)
	} else if len(d.early) < maxEarlyAcks {
		d.early[id] = state
	}
	d.stateMu.Unlock()

	if known {
		d.emit(types.NewAckEvent(cid, state))
	}
}

// track correlates a WhatsApp message id, replaying an ack that arrived before the send returned.
func (d *Driver) track(id, correlationID string) {
	d.stateMu.Lock()
	state, early := d.early[id]
	if early {
		delete(d.early, id)
	} else {
		d.pending[id] = correlationID
	}
	d.stateMu.Unlock()

	if early {
		d.emit(types.NewAckEvent(correlationID, state))
	}
}
