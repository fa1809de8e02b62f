// Package saver turns one admitted message into one file on disk.
//
// Each message walks a fixed sequence of stages:
//
//	received -> policy_checked -> metadata_fetched -> size_checked ->
//	path_resolved -> locked -> written -> released
//
// Any failing stage ends the pipeline with a logged outcome. Once the path
// lock is taken it is released on every exit path. Failures never propagate
// to the caller beyond the returned Outcome.
package saver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/pithecene-io/tgdrop/adapter"
	"github.com/pithecene-io/tgdrop/fetch"
	"github.com/pithecene-io/tgdrop/iox"
	"github.com/pithecene-io/tgdrop/log"
	"github.com/pithecene-io/tgdrop/metrics"
	"github.com/pithecene-io/tgdrop/naming"
	"github.com/pithecene-io/tgdrop/pathlock"
	"github.com/pithecene-io/tgdrop/policy"
	"github.com/pithecene-io/tgdrop/storage"
	"github.com/pithecene-io/tgdrop/types"
)

// DefaultNotifyTimeout bounds a single notification publish.
const DefaultNotifyTimeout = 30 * time.Second

// FileRegistry resolves and downloads files hosted by the messaging service.
type FileRegistry interface {
	Resolve(ctx context.Context, ref types.FileReference) (types.RemoteFileMetadata, error)
	Download(ctx context.Context, sourcePath string, dst io.Writer) error
}

// URLFetcher opens arbitrary URLs, returning once headers are known.
type URLFetcher interface {
	Open(ctx context.Context, url string) (*fetch.Response, error)
}

// Replicator copies a saved file elsewhere.
type Replicator interface {
	Replicate(ctx context.Context, localPath, name string) (string, error)
}

// Config wires a Saver. Policy, Locks and Storage are required.
type Config struct {
	Policy   *policy.AccessPolicy
	Locks    *pathlock.Table
	Storage  *storage.Target
	Registry FileRegistry
	Fetcher  URLFetcher
	Logger   *log.Logger
	Metrics  *metrics.Collector

	// Mirror runs while the path lock is still held. Optional.
	Mirror Replicator
	// Notifier publishes file_saved after the lock is released. Optional.
	Notifier      adapter.Adapter
	NotifyTimeout time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Saver runs the save pipeline. Safe for concurrent use.
type Saver struct {
	cfg    Config
	logger *log.Logger
}

// New validates cfg and returns a Saver.
func New(cfg Config) (*Saver, error) {
	switch {
	case cfg.Policy == nil:
		return nil, errors.New("saver: policy is required")
	case cfg.Locks == nil:
		return nil, errors.New("saver: lock table is required")
	case cfg.Storage == nil:
		return nil, errors.New("saver: storage target is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Saver{cfg: cfg, logger: cfg.Logger}, nil
}

// Process runs the whole pipeline for msg.
func (s *Saver) Process(ctx context.Context, msg *types.InboundMessage) Outcome {
	s.cfg.Metrics.SaveStarted()
	defer s.cfg.Metrics.SaveFinished()

	logger := s.messageLogger(msg)
	logger.Info("new message arrived", map[string]any{"kind": string(msg.Kind)})

	target, err := s.cfg.Policy.Admit(msg)
	if err != nil {
		return s.finish(logger, Outcome{Stage: StageReceived}, err)
	}
	s.cfg.Metrics.IncAdmitted()

	switch target.Kind {
	case types.KindText:
		return s.saveURL(ctx, logger, msg, target.URL)
	default:
		return s.saveFile(ctx, logger, msg, *target.File)
	}
}

// SaveFile saves a messaging-service file reference, skipping the sender
// and type checks.
func (s *Saver) SaveFile(ctx context.Context, msg *types.InboundMessage, ref types.FileReference) Outcome {
	return s.saveFile(ctx, s.messageLogger(msg), msg, ref)
}

// SaveURL saves the content at rawURL, skipping the sender check.
func (s *Saver) SaveURL(ctx context.Context, msg *types.InboundMessage, rawURL string) Outcome {
	return s.saveURL(ctx, s.messageLogger(msg), msg, rawURL)
}

func (s *Saver) messageLogger(msg *types.InboundMessage) *log.Logger {
	return s.logger.With(map[string]any{
		"message_id": msg.MessageID,
		"chat_id":    msg.ChatID,
		"sender_id":  msg.SenderID,
	})
}

func (s *Saver) saveFile(ctx context.Context, logger *log.Logger, msg *types.InboundMessage, ref types.FileReference) Outcome {
	out := Outcome{Stage: StagePolicyChecked, Origin: msg.Kind}
	if s.cfg.Registry == nil {
		return s.finish(logger, out, errors.New("no file registry configured"))
	}
	logger.Info("save file id from message id", map[string]any{"file_id": ref.ID})

	meta, err := s.cfg.Registry.Resolve(ctx, ref)
	if err != nil {
		return s.finish(logger, out, fmt.Errorf("resolve file %s: %w", ref.ID, err))
	}
	out.Stage = StageMetadataFetched
	out.Source = meta.SourcePath

	if err := s.cfg.Policy.CheckSize(meta.Size); err != nil {
		return s.finish(logger, out, err)
	}
	out.Stage = StageSizeChecked

	return s.write(ctx, logger, msg, out, msg.Caption, func(w io.Writer) error {
		return s.cfg.Registry.Download(ctx, meta.SourcePath, w)
	})
}

func (s *Saver) saveURL(ctx context.Context, logger *log.Logger, msg *types.InboundMessage, rawURL string) Outcome {
	out := Outcome{Stage: StagePolicyChecked, Origin: types.KindText, Source: rawURL}
	if s.cfg.Fetcher == nil {
		return s.finish(logger, out, errors.New("no url fetcher configured"))
	}
	logger.Info("download url from message id", map[string]any{"url": rawURL})

	resp, err := s.cfg.Fetcher.Open(ctx, rawURL)
	if err != nil {
		return s.finish(logger, out, fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	defer iox.DiscardClose(resp.Body)
	out.Stage = StageMetadataFetched

	if !s.cfg.Policy.AllowsMimeType(resp.MimeType) {
		return s.finish(logger, out, &policy.Rejection{
			Reason: policy.ReasonTypeNotAllowed,
			Detail: fmt.Sprintf("content type %q", resp.MimeType),
		})
	}
	// Only the size is taken from the response; naming uses the message URL,
	// not the post-redirect one.
	meta := resp.Metadata()
	if err := s.cfg.Policy.CheckSize(meta.Size); err != nil {
		return s.finish(logger, out, err)
	}
	out.Stage = StageSizeChecked

	limit := s.cfg.Policy.MaxSize()
	return s.write(ctx, logger, msg, out, nil, func(w io.Writer) error {
		return copyLimited(w, iox.ContextReader(ctx, resp.Body), limit)
	})
}

// write resolves the destination and performs the locked write.
func (s *Saver) write(
	ctx context.Context,
	logger *log.Logger,
	msg *types.InboundMessage,
	out Outcome,
	caption *string,
	fill func(io.Writer) error,
) Outcome {
	start := s.cfg.Now()

	dest, err := naming.Destination(s.cfg.Storage.Root(), out.Source, caption)
	if err != nil {
		return s.finish(logger, out, err)
	}
	out.Path = dest
	out.Name = filepath.Base(dest)
	out.Stage = StagePathResolved

	if err := s.locked(ctx, logger, &out, fill); err != nil {
		return s.finish(logger, out, err)
	}

	out.Duration = s.cfg.Now().Sub(start)
	s.notify(ctx, logger, msg, out)
	return s.finish(logger, out, nil)
}

// locked holds the path lock from acquire to release. The mirror copy runs
// inside so it never reads a file another writer is truncating.
func (s *Saver) locked(ctx context.Context, logger *log.Logger, out *Outcome, fill func(io.Writer) error) error {
	if err := s.cfg.Locks.Acquire(ctx, out.Path); err != nil {
		return fmt.Errorf("acquire lock %s: %w", out.Path, err)
	}
	out.Stage = StageLocked
	defer func() {
		s.cfg.Locks.Release(out.Path)
		if out.Stage == StageWritten {
			out.Stage = StageReleased
		}
	}()

	logger.Info("saving file", map[string]any{"path": out.Path})
	res, err := s.cfg.Storage.Write(ctx, out.Path, fill)
	if err != nil {
		return err
	}
	out.Stage = StageWritten
	out.Size = res.Size
	out.Checksum = res.Checksum
	logger.Info("saving file completed", map[string]any{
		"path":     out.Path,
		"size":     res.Size,
		"checksum": res.Checksum,
	})

	if s.cfg.Mirror != nil {
		key, err := s.cfg.Mirror.Replicate(ctx, out.Path, out.Name)
		s.cfg.Metrics.IncMirror(err == nil)
		if err != nil {
			logger.Warn("mirror failed", map[string]any{"path": out.Path, "error": err.Error()})
		} else {
			out.MirrorPath = key
		}
	}
	return nil
}

func (s *Saver) notify(ctx context.Context, logger *log.Logger, msg *types.InboundMessage, out Outcome) {
	if s.cfg.Notifier == nil {
		return
	}
	event := adapter.NewFileSavedEvent(s.cfg.Now())
	event.AppVersion = types.Version
	event.MessageID = msg.MessageID
	event.ChatID = msg.ChatID
	event.SenderID = msg.SenderID
	event.Origin = string(out.Origin)
	event.Source = out.Source
	event.Name = out.Name
	event.Path = out.Path
	event.Size = out.Size
	event.Checksum = out.Checksum
	event.MirrorPath = out.MirrorPath
	event.DurationMs = out.Duration.Milliseconds()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	err := s.cfg.Notifier.Publish(ctx, event)
	s.cfg.Metrics.IncNotify(err == nil)
	if err != nil {
		logger.Warn("notification failed", map[string]any{"event_id": event.EventID, "error": err.Error()})
	}
}

// finish classifies err, records metrics and logs the terminal entry.
func (s *Saver) finish(logger *log.Logger, out Outcome, err error) Outcome {
	out.Err = err
	switch rej, ok := policy.AsRejection(err); {
	case err == nil:
		out.Status = StatusSaved
		s.cfg.Metrics.IncSaveSucceeded(out.Size)
	case ok:
		out.Status = StatusRejected
		s.cfg.Metrics.IncRejected(string(rej.Reason))
		logger.Info("skipping message", map[string]any{
			"reason": string(rej.Reason),
			"detail": rej.Detail,
			"stage":  string(out.Stage),
		})
	default:
		out.Status = StatusFailed
		s.cfg.Metrics.IncSaveFailed()
		logger.Error("saving file failed", map[string]any{
			"stage": string(out.Stage),
			"path":  out.Path,
			"error": err.Error(),
		})
	}
	return out
}

// ErrBodyTooLarge is returned when a body outgrows the size limit while
// streaming, despite a smaller declared length.
var ErrBodyTooLarge = errors.New("body exceeds max size")

func copyLimited(dst io.Writer, src io.Reader, limit *int64) error {
	if limit == nil {
		_, err := io.Copy(dst, src)
		return err
	}
	n, err := io.Copy(dst, io.LimitReader(src, *limit+1))
	if err != nil {
		return err
	}
	if n > *limit {
		return fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, *limit)
	}
	return nil
}
