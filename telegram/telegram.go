// Package telegram connects to the Telegram Bot API.
//
// A Bot is both the inbound message source (long polling, optional one-shot
// backlog fetch) and the file registry that resolves file references and
// streams their content.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pithecene-io/tgdrop/iox"
	"github.com/pithecene-io/tgdrop/log"
	"github.com/pithecene-io/tgdrop/types"
)

// DefaultPollTimeout is the long-poll timeout passed to getUpdates.
const DefaultPollTimeout = 60 * time.Second

// ErrFileNotFound is returned when a file reference is invalid or expired.
var ErrFileNotFound = errors.New("telegram file not found")

// ErrNoHandler is returned by Start when Subscribe was never called.
var ErrNoHandler = errors.New("telegram: no message handler subscribed")

// Config configures a Bot.
type Config struct {
	// Token is the bot token (required).
	Token string
	// PollTimeout is the long-poll timeout (default 60s).
	PollTimeout time.Duration
	// APIEndpoint overrides the Bot API method URL format
	// (default tgbotapi.APIEndpoint, "https://api.telegram.org/bot%s/%s").
	APIEndpoint string
	// FileEndpoint overrides the file download URL format
	// (default tgbotapi.FileEndpoint, "https://api.telegram.org/file/bot%s/%s").
	FileEndpoint string
	// HTTPClient is used for API calls and downloads.
	HTTPClient *http.Client
	// Logger receives transport diagnostics.
	Logger *log.Logger
}

// botAPI is the subset of *tgbotapi.BotAPI the Bot relies on.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	StopReceivingUpdates()
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Bot is a Telegram message source and file registry.
type Bot struct {
	api          botAPI
	token        string
	pollTimeout  time.Duration
	fileEndpoint string
	client       *http.Client
	logger       *log.Logger

	mu      sync.Mutex
	handler func(types.InboundMessage)
	offset  int
	started bool
	quit    chan struct{}
	done    chan struct{}

	quitOnce sync.Once
	stopOnce sync.Once
}

// New connects to the Bot API and verifies the token with getMe.
func New(cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if err := routeLibraryLog(newAPILogger(logger, cfg.Token)); err != nil {
		return nil, fmt.Errorf("telegram: set logger: %w", err)
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	b := newBot(api, cfg)
	b.logger.Info("connected to bot api", map[string]any{
		"bot_id":   api.Self.ID,
		"username": api.Self.UserName,
	})
	return b, nil
}

// apiLogger sends the library's own diagnostics, such as poll retries, to
// the structured logger at warn level. Request URLs embed the token, so it
// is masked before anything is written.
type apiLogger struct {
	sugar *log.SugaredLogger
	token string
}

func newAPILogger(logger *log.Logger, token string) *apiLogger {
	return &apiLogger{
		sugar: logger.With(map[string]any{"component": "telegram-bot-api"}).Sugar(),
		token: token,
	}
}

func (l *apiLogger) Println(v ...any) {
	l.sugar.Warnf("%s", l.mask(strings.TrimSuffix(fmt.Sprintln(v...), "\n")))
}

func (l *apiLogger) Printf(format string, v ...any) {
	l.sugar.Warnf("%s", l.mask(fmt.Sprintf(format, v...)))
}

func (l *apiLogger) mask(s string) string {
	if l.token == "" {
		return s
	}
	return strings.ReplaceAll(s, l.token, "<redacted>")
}

// libraryLog is installed into tgbotapi once. The library logger is
// process-wide, so the most recently created Bot owns the target; earlier
// poll goroutines may still be logging while it is swapped.
var libraryLog = &forwardLogger{}

var installLibraryLog = sync.OnceValue(func() error {
	return tgbotapi.SetLogger(libraryLog)
})

func routeLibraryLog(target tgbotapi.BotLogger) error {
	if err := installLibraryLog(); err != nil {
		return err
	}
	libraryLog.set(target)
	return nil
}

type forwardLogger struct {
	mu     sync.RWMutex
	target tgbotapi.BotLogger
}

func (f *forwardLogger) set(target tgbotapi.BotLogger) {
	f.mu.Lock()
	f.target = target
	f.mu.Unlock()
}

func (f *forwardLogger) current() tgbotapi.BotLogger {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.target
}

func (f *forwardLogger) Println(v ...any) {
	if t := f.current(); t != nil {
		t.Println(v...)
	}
}

func (f *forwardLogger) Printf(format string, v ...any) {
	if t := f.current(); t != nil {
		t.Printf(format, v...)
	}
}

func newBot(api botAPI, cfg Config) *Bot {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	return &Bot{
		api:          api,
		token:        cfg.Token,
		pollTimeout:  cfg.PollTimeout,
		fileEndpoint: cfg.FileEndpoint,
		client:       cfg.HTTPClient,
		logger:       cfg.Logger,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Subscribe registers the callback invoked once per inbound message.
// It replaces any previous handler.
func (b *Bot) Subscribe(handler func(types.InboundMessage)) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
}

// Start begins long polling in the background and returns immediately.
// Polling stops when ctx is done or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.handler == nil {
		b.mu.Unlock()
		return ErrNoHandler
	}
	if b.started {
		b.mu.Unlock()
		return errors.New("telegram: already started")
	}
	b.started = true
	handler := b.handler
	cfg := tgbotapi.NewUpdate(b.offset)
	b.mu.Unlock()

	cfg.Timeout = int(b.pollTimeout / time.Second)
	updates := b.api.GetUpdatesChan(cfg)

	b.logger.Info("receiving updates", map[string]any{"offset": cfg.Offset})
	go b.loop(ctx, updates, handler)
	return nil
}

func (b *Bot) loop(ctx context.Context, updates tgbotapi.UpdatesChannel, handler func(types.InboundMessage)) {
	defer close(b.done)
	defer b.stopReceiving(updates)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.quit:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.deliver(u, handler)
		}
	}
}

func (b *Bot) deliver(u tgbotapi.Update, handler func(types.InboundMessage)) {
	b.mu.Lock()
	if u.UpdateID >= b.offset {
		b.offset = u.UpdateID + 1
	}
	b.mu.Unlock()

	msg, ok := ToInbound(u.Message)
	if !ok {
		b.logger.Debug("ignoring update without message", map[string]any{"update_id": u.UpdateID})
		return
	}
	handler(msg)
}

// stopReceiving asks the library poller to exit and discards whatever it
// still delivers so its goroutine is never blocked on a full channel.
func (b *Bot) stopReceiving(updates tgbotapi.UpdatesChannel) {
	b.stopOnce.Do(func() {
		b.api.StopReceivingUpdates()
		go func() {
			for range updates {
			}
		}()
	})
}

// Stop ends polling. In-flight handlers are not waited for.
// Safe to call more than once, and before Start.
func (b *Bot) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}
	b.quitOnce.Do(func() { close(b.quit) })
	<-b.done
	b.logger.Info("stopped receiving updates", nil)
}

// FetchBacklog returns messages already queued on the server with a single
// non-blocking getUpdates call. Live polling resumes after the last one.
func (b *Bot) FetchBacklog(ctx context.Context) ([]types.InboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	cfg := tgbotapi.NewUpdate(b.offset)
	b.mu.Unlock()

	updates, err := b.api.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("telegram: fetch backlog: %w", err)
	}

	msgs := make([]types.InboundMessage, 0, len(updates))
	b.mu.Lock()
	for _, u := range updates {
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		if msg, ok := ToInbound(u.Message); ok {
			msgs = append(msgs, msg)
		}
	}
	b.mu.Unlock()
	return msgs, nil
}

// Resolve looks up the server-side path and size of a file reference.
func (b *Bot) Resolve(ctx context.Context, ref types.FileReference) (types.RemoteFileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return types.RemoteFileMetadata{}, err
	}
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: ref.ID})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusNotFound) {
			return types.RemoteFileMetadata{}, fmt.Errorf("%w: %s: %s", ErrFileNotFound, ref.ID, apiErr.Message)
		}
		return types.RemoteFileMetadata{}, fmt.Errorf("telegram: get file %s: %w", ref.ID, err)
	}
	if file.FilePath == "" {
		return types.RemoteFileMetadata{}, fmt.Errorf("%w: %s has no path", ErrFileNotFound, ref.ID)
	}

	meta := types.RemoteFileMetadata{SourcePath: file.FilePath}
	switch {
	case file.FileSize > 0:
		size := int64(file.FileSize)
		meta.Size = &size
	case ref.Size != nil:
		meta.Size = ref.Size
	}
	return meta, nil
}

// Download streams the file at sourcePath into dst.
func (b *Bot) Download(ctx context.Context, sourcePath string, dst io.Writer) error {
	link := fmt.Sprintf(b.fileEndpoint, b.token, sourcePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("telegram: create download request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		// The URL embeds the token; report only the path.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram: download %s: %w", sourcePath, err)
	}
	defer iox.DiscardClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrFileNotFound, sourcePath)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("telegram: download %s: unexpected status %d", sourcePath, resp.StatusCode)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("telegram: download %s: %w", sourcePath, err)
	}
	return nil
}
