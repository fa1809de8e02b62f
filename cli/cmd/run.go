package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tgdrop/adapter"
	"github.com/pithecene-io/tgdrop/adapter/redis"
	"github.com/pithecene-io/tgdrop/adapter/webhook"
	"github.com/pithecene-io/tgdrop/amqp"
	"github.com/pithecene-io/tgdrop/cli/config"
	"github.com/pithecene-io/tgdrop/dispatch"
	"github.com/pithecene-io/tgdrop/fetch"
	"github.com/pithecene-io/tgdrop/log"
	"github.com/pithecene-io/tgdrop/metrics"
	"github.com/pithecene-io/tgdrop/mirror"
	"github.com/pithecene-io/tgdrop/pathlock"
	"github.com/pithecene-io/tgdrop/policy"
	"github.com/pithecene-io/tgdrop/proxy"
	"github.com/pithecene-io/tgdrop/saver"
	"github.com/pithecene-io/tgdrop/status"
	"github.com/pithecene-io/tgdrop/storage"
	"github.com/pithecene-io/tgdrop/telegram"
	"github.com/pithecene-io/tgdrop/types"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitRuntimeError = 1
	exitConfigError  = 2
)

// RunCommand returns the run command, the long-running receiver.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Receive messages and save their files until interrupted",
		Flags: append(ConfigFlags(),
			&cli.DurationFlag{
				Name:  "drain-timeout",
				Usage: "How long to wait for in-flight saves on shutdown (0 abandons them)",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return configError(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return configError(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, errStartup) {
			return cli.Exit(err.Error(), exitConfigError)
		}
		return cli.Exit(err.Error(), exitRuntimeError)
	}
	defer svc.close()

	err = svc.run(ctx, c.Duration("drain-timeout"))
	snap := svc.metrics.Snapshot()
	logger.Sugar().Infof("stopped after %d messages: %d saved, %d rejected, %d failed",
		snap.MessagesReceived, snap.SavesSucceeded, snap.MessagesRejected, snap.SavesFailed)
	if err != nil {
		if errors.Is(err, storage.ErrRootMissing) || errors.Is(err, storage.ErrRootNotDir) || errors.Is(err, storage.ErrRootNotWritable) {
			return cli.Exit(err.Error(), exitConfigError)
		}
		return cli.Exit(err.Error(), exitRuntimeError)
	}
	return cli.Exit("", exitSuccess)
}

// errStartup marks configuration problems discovered while wiring.
var errStartup = errors.New("startup failed")

func newLogger(cfg *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := log.NewLogger(log.Meta{
		Service:    types.AppName,
		Version:    types.Version,
		InstanceID: uuid.NewString(),
	})
	logger.SetLevel(level)
	return logger, nil
}

// service is the fully wired process.
type service struct {
	logger     *log.Logger
	metrics    *metrics.Collector
	dispatcher *dispatch.Dispatcher
	status     *status.Server
	proxies    *proxy.Pool
	closers    []func() error
}

// buildService wires every component from cfg. The storage root is
// checked here so a misconfigured root fails before connecting.
func buildService(ctx context.Context, cfg *config.Config, logger *log.Logger) (*service, error) {
	svc := &service{
		logger:  logger,
		metrics: metrics.NewCollector(cfg.Transport, cfg.Mirror.Backend),
	}
	ok := false
	defer func() {
		if !ok {
			svc.close()
		}
	}()

	target, err := storage.Open(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: storage check: %w", errStartup, err)
	}

	fetchCfg := fetch.Config{
		Timeout:   cfg.Fetch.Timeout.Duration,
		Rate:      cfg.Fetch.Rate,
		Burst:     cfg.Fetch.Burst,
		UserAgent: cfg.Fetch.UserAgent,
	}
	pool, err := cfg.Fetch.ProxyPool()
	if err != nil {
		return nil, fmt.Errorf("%w: proxy pool: %w", errStartup, err)
	}
	if pool != nil {
		svc.proxies = pool
		fetchCfg.Proxy = pool.ProxyFunc()
		logger.Info("fetching urls through proxies", map[string]any{
			"endpoints": pool.Stats().Endpoints,
			"strategy":  string(pool.Strategy()),
		})
	}
	fetcher := fetch.New(fetchCfg)
	svc.closers = append(svc.closers, func() error {
		fetcher.CloseIdleConnections()
		return nil
	})

	source, registry, err := svc.buildTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	replicator, err := buildMirror(ctx, cfg.Mirror)
	if err != nil {
		return nil, fmt.Errorf("%w: mirror: %w", errStartup, err)
	}

	notifier, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return nil, fmt.Errorf("%w: adapter: %w", errStartup, err)
	}
	var notifyTimeout time.Duration
	if notifier != nil {
		svc.closers = append(svc.closers, notifier.Close)
		notifyTimeout = cfg.Adapter.Timeout.Duration
	}

	sv, err := saver.New(saver.Config{
		Policy: policy.New(
			cfg.Policy.AllowedSenderIDs,
			cfg.Policy.AllowedFileTypes,
			cfg.Policy.MaxFileSize,
		),
		Locks:         pathlock.New(logger),
		Storage:       target,
		Registry:      registry,
		Fetcher:       fetcher,
		Logger:        logger,
		Metrics:       svc.metrics,
		Mirror:        replicator,
		Notifier:      notifier,
		NotifyTimeout: notifyTimeout,
	})
	if err != nil {
		return nil, err
	}

	svc.dispatcher, err = dispatch.New(dispatch.Config{
		Source:         source,
		Saver:          sv,
		StorageRoot:    target.Root(),
		ProcessBacklog: cfg.Telegram.ProcessBacklog,
		DedupWindow:    *cfg.Dedup.Window,
		Logger:         logger,
		Metrics:        svc.metrics,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Status.Listen != "" {
		svc.status, err = status.NewServer(status.Config{
			Listen:  cfg.Status.Listen,
			Metrics: svc.metrics,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return svc, nil
}

// buildTransport returns the message source and the registry used to
// download files referenced by messages. With the amqp transport the
// registry is the Bot API when a token is configured, otherwise file
// messages fail with a logged error.
func (s *service) buildTransport(cfg *config.Config, logger *log.Logger) (dispatch.MessageSource, saver.FileRegistry, error) {
	newBot := func() (*telegram.Bot, error) {
		return telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			PollTimeout:  cfg.Telegram.PollTimeout.Duration,
			APIEndpoint:  cfg.Telegram.APIEndpoint,
			FileEndpoint: cfg.Telegram.FileEndpoint,
			Logger:       logger.With(map[string]any{"component": "telegram"}),
		})
	}

	switch cfg.Transport {
	case config.TransportTelegram:
		bot, err := newBot()
		if err != nil {
			return nil, nil, err
		}
		return bot, bot, nil

	case config.TransportAMQP:
		src, err := amqp.New(amqp.Config{
			URL:      cfg.AMQP.URL,
			Queue:    cfg.AMQP.Queue,
			Prefetch: cfg.AMQP.Prefetch,
			Logger:   logger.With(map[string]any{"component": "amqp"}),
		})
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, func() error {
			src.Stop()
			return nil
		})
		if cfg.Telegram.Token == "" {
			logger.Warn("no telegram token configured; file messages cannot be downloaded", nil)
			return src, nil, nil
		}
		bot, err := newBot()
		if err != nil {
			return nil, nil, err
		}
		return src, bot, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown transport %q", errStartup, cfg.Transport)
	}
}

// buildMirror returns nil when no mirror backend is configured.
func buildMirror(ctx context.Context, cfg config.MirrorConfig) (saver.Replicator, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "fs":
		return mirror.NewFS(cfg.Path)
	case "s3":
		return mirror.NewS3(ctx, cfg.S3())
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// buildAdapter returns nil when no notification adapter is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := 0
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown type %q", cfg.Type)
	}
}

// run serves until ctx is done or the status server fails. With a
// positive drain timeout it then waits that long for in-flight saves.
func (s *service) run(ctx context.Context, drain time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	statusErr := make(chan error, 1)
	if s.status != nil {
		go func() {
			err := s.status.Run(ctx)
			if err != nil {
				cancel()
			}
			statusErr <- err
		}()
	} else {
		close(statusErr)
	}

	if s.proxies != nil && s.proxies.Strategy() == proxy.StrategySticky {
		go s.sweepSticky(ctx, time.Minute)
	}

	runErr := s.dispatcher.Run(ctx)
	cancel()

	if drain > 0 && !s.dispatcher.WaitTimeout(drain) {
		s.logger.Warn("abandoning in-flight saves", map[string]any{"drain_timeout": drain.String()})
	}

	if runErr != nil {
		return runErr
	}
	return <-statusErr
}

// sweepSticky drops expired sticky proxy assignments until ctx is done.
func (s *service) sweepSticky(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.proxies.CleanExpiredSticky()
		}
	}
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", map[string]any{"error": err.Error()})
		}
	}
	s.closers = nil
}
