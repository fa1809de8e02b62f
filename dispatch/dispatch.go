// Package dispatch connects a message source to the save pipeline.
//
// Every inbound message is handed to its own goroutine and the source's
// callback returns immediately, so ordering across messages is not
// preserved and a slow download never delays arrival of the next message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pithecene-io/tgdrop/log"
	"github.com/pithecene-io/tgdrop/metrics"
	"github.com/pithecene-io/tgdrop/saver"
	"github.com/pithecene-io/tgdrop/storage"
	"github.com/pithecene-io/tgdrop/types"
)

// MessageSource delivers inbound messages.
type MessageSource interface {
	// Subscribe registers the callback invoked once per message.
	Subscribe(handler func(types.InboundMessage))
	// Start begins receiving in the background.
	Start(ctx context.Context) error
	// Stop ends receiving. In-flight callbacks are not awaited.
	Stop()
	// FetchBacklog returns already-queued messages once.
	FetchBacklog(ctx context.Context) ([]types.InboundMessage, error)
}

// Processor runs the save pipeline for one message.
type Processor interface {
	Process(ctx context.Context, msg *types.InboundMessage) saver.Outcome
}

// Config wires a Dispatcher. Source, Saver and StorageRoot are required.
type Config struct {
	Source      MessageSource
	Saver       Processor
	StorageRoot string

	// ProcessBacklog drains queued messages once before live receiving.
	ProcessBacklog bool
	// DedupWindow is how many recent message keys are remembered to drop
	// redeliveries. Zero disables suppression.
	DedupWindow int

	Logger  *log.Logger
	Metrics *metrics.Collector
}

// Dispatcher fans messages out to independent save goroutines.
type Dispatcher struct {
	cfg    Config
	logger *log.Logger
	seen   *lru.Cache[string, struct{}]
	wg     sync.WaitGroup
}

// New validates cfg and returns a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("dispatch: message source is required")
	case cfg.Saver == nil:
		return nil, errors.New("dispatch: saver is required")
	case cfg.StorageRoot == "":
		return nil, errors.New("dispatch: storage root is required")
	case cfg.DedupWindow < 0:
		return nil, fmt.Errorf("dispatch: dedup window must be >= 0, got %d", cfg.DedupWindow)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}

	d := &Dispatcher{cfg: cfg, logger: cfg.Logger}
	if cfg.DedupWindow > 0 {
		seen, err := lru.New[string, struct{}](cfg.DedupWindow)
		if err != nil {
			return nil, fmt.Errorf("dispatch: dedup cache: %w", err)
		}
		d.seen = seen
	}
	return d, nil
}

// Run verifies the storage root, optionally drains the backlog, then
// receives until ctx is done. A storage failure is returned before any
// message is processed. Run does not wait for in-flight saves.
func (d *Dispatcher) Run(ctx context.Context) error {
	target, err := storage.Open(d.cfg.StorageRoot)
	if err != nil {
		return fmt.Errorf("storage check: %w", err)
	}

	d.logger.Info(fmt.Sprintf("%s %s", types.AppName, types.Version), nil)
	d.logger.Info("storing files to "+target.Root(), map[string]any{"root": target.Root()})

	d.cfg.Source.Subscribe(d.Dispatch)

	if d.cfg.ProcessBacklog {
		backlog, err := d.cfg.Source.FetchBacklog(ctx)
		if err != nil {
			return fmt.Errorf("fetch backlog: %w", err)
		}
		d.logger.Info("processing backlog", map[string]any{"count": len(backlog)})
		for _, msg := range backlog {
			d.Dispatch(msg)
		}
	}

	if err := d.cfg.Source.Start(ctx); err != nil {
		return fmt.Errorf("start source: %w", err)
	}

	<-ctx.Done()
	d.logger.Info("shutting down", nil)
	d.cfg.Source.Stop()
	return nil
}

// Dispatch starts the save pipeline for msg and returns immediately.
func (d *Dispatcher) Dispatch(msg types.InboundMessage) {
	d.cfg.Metrics.IncReceived()

	if d.seen != nil {
		if dup, _ := d.seen.ContainsOrAdd(msg.DedupKey(), struct{}{}); dup {
			d.cfg.Metrics.IncDuplicate()
			d.logger.Debug("dropping duplicate message", map[string]any{
				"message_id": msg.MessageID,
				"chat_id":    msg.ChatID,
			})
			return
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.recoverPanic(&msg)
		// Shutdown must not cancel a save already underway.
		d.cfg.Saver.Process(context.Background(), &msg)
	}()
}

func (d *Dispatcher) recoverPanic(msg *types.InboundMessage) {
	if r := recover(); r != nil {
		d.cfg.Metrics.IncSaveFailed()
		d.logger.Error("save pipeline panicked", map[string]any{
			"message_id": msg.MessageID,
			"panic":      fmt.Sprint(r),
			"stack":      string(debug.Stack()),
		})
	}
}

// Wait blocks until every dispatched save has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// WaitTimeout waits up to timeout for in-flight saves and reports whether
// they all finished.
func (d *Dispatcher) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
