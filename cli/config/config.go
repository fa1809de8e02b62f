package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pithecene-io/tgdrop/mirror"
	"github.com/pithecene-io/tgdrop/proxy"
)

// Transport names.
const (
	TransportTelegram = "telegram"
	TransportAMQP     = "amqp"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultPollTimeout  = 60 * time.Second
	DefaultQueue        = "tgdrop.inbound"
	DefaultPrefetch     = 8
	DefaultFetchTimeout = 60 * time.Second
	DefaultDedupWindow  = 1024
	DefaultHookTimeout  = 10 * time.Second
	DefaultHookRetries  = 3
)

// Config represents a tgdrop.yaml configuration file.
// CLI flags always override config values.
type Config struct {
	Transport string         `yaml:"transport"`
	Storage   StorageConfig  `yaml:"storage"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Policy    PolicyConfig   `yaml:"policy"`
	AMQP      AMQPConfig     `yaml:"amqp"`
	Fetch     FetchConfig    `yaml:"fetch"`
	Dedup     DedupConfig    `yaml:"dedup"`
	Mirror    MirrorConfig   `yaml:"mirror"`
	Adapter   AdapterConfig  `yaml:"adapter"`
	Status    StatusConfig   `yaml:"status"`
	Log       LogConfig      `yaml:"log"`
}

// StorageConfig locates the flat storage root.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	Token          string   `yaml:"token"`
	PollTimeout    Duration `yaml:"poll_timeout,omitempty"`
	ProcessBacklog bool     `yaml:"process_backlog"`
	APIEndpoint    string   `yaml:"api_endpoint,omitempty"`
	FileEndpoint   string   `yaml:"file_endpoint,omitempty"`
}

// PolicyConfig holds the access policy. A nil list means the key was
// absent and allows everything; an empty list allows nothing.
type PolicyConfig struct {
	AllowedSenderIDs *[]int64  `yaml:"allowed_sender_ids,omitempty"`
	AllowedFileTypes *[]string `yaml:"allowed_file_types,omitempty"`
	MaxFileSize      *int64    `yaml:"max_file_size,omitempty"`
}

// AMQPConfig configures the queue transport.
type AMQPConfig struct {
	URL      string `yaml:"url,omitempty"`
	Queue    string `yaml:"queue,omitempty"`
	Prefetch int    `yaml:"prefetch,omitempty"`
}

// FetchConfig configures URL downloads.
type FetchConfig struct {
	Timeout   Duration `yaml:"timeout,omitempty"`
	Rate      float64  `yaml:"rate,omitempty"`
	Burst     int      `yaml:"burst,omitempty"`
	UserAgent string   `yaml:"user_agent,omitempty"`
	// Proxies are outbound proxy URLs (http, https or socks5) for URL saves.
	Proxies        []string `yaml:"proxies,omitempty"`
	ProxyStrategy  string   `yaml:"proxy_strategy,omitempty"`
	ProxyStickyTTL Duration `yaml:"proxy_sticky_ttl,omitempty"`
}

// ProxyPool builds the outbound proxy pool, or returns nil when no
// proxies are configured.
func (f FetchConfig) ProxyPool() (*proxy.Pool, error) {
	if len(f.Proxies) == 0 {
		return nil, nil
	}
	return proxy.New(f.Proxies, proxy.Strategy(f.ProxyStrategy), f.ProxyStickyTTL.Duration)
}

// DedupConfig sizes the duplicate suppression window. Zero disables it.
type DedupConfig struct {
	Window *int `yaml:"window,omitempty"`
}

// MirrorConfig configures the optional replica store.
type MirrorConfig struct {
	Backend     string `yaml:"backend,omitempty"`
	Path        string `yaml:"path,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// AdapterConfig configures the optional file_saved notifier.
type AdapterConfig struct {
	Type    string            `yaml:"type,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// S3 converts the mirror settings for the S3 backend. Path is
// "bucket/prefix" with an optional s3:// scheme.
func (m MirrorConfig) S3() mirror.S3Config {
	bucket, prefix := mirror.ParseS3Path(m.Path)
	return mirror.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       m.Region,
		Endpoint:     m.Endpoint,
		UsePathStyle: m.S3PathStyle,
	}
}

// StatusConfig configures the status HTTP server. Empty Listen disables it.
type StatusConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// IsZero lets omitempty drop unset durations.
func (d Duration) IsZero() bool {
	return d.Duration == 0
}

// ApplyDefaults fills unset fields. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportTelegram
	}
	if c.Telegram.PollTimeout.Duration == 0 {
		c.Telegram.PollTimeout.Duration = DefaultPollTimeout
	}
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = DefaultQueue
	}
	if c.AMQP.Prefetch == 0 {
		c.AMQP.Prefetch = DefaultPrefetch
	}
	if c.Fetch.Timeout.Duration == 0 {
		c.Fetch.Timeout.Duration = DefaultFetchTimeout
	}
	if c.Fetch.Burst == 0 {
		c.Fetch.Burst = 1
	}
	if c.Dedup.Window == nil {
		w := DefaultDedupWindow
		c.Dedup.Window = &w
	}
	if c.Adapter.Type != "" {
		if c.Adapter.Timeout.Duration == 0 {
			c.Adapter.Timeout.Duration = DefaultHookTimeout
		}
		if c.Adapter.Retries == nil {
			r := DefaultHookRetries
			c.Adapter.Retries = &r
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage.root is required"))
	}

	switch c.Transport {
	case TransportTelegram:
		if c.Telegram.Token == "" {
			errs = append(errs, errors.New("telegram.token is required for the telegram transport"))
		}
		if c.Telegram.PollTimeout.Duration < 0 {
			errs = append(errs, errors.New("telegram.poll_timeout must be >= 0"))
		}
	case TransportAMQP:
		if c.AMQP.URL == "" {
			errs = append(errs, errors.New("amqp.url is required for the amqp transport"))
		}
		if c.AMQP.Prefetch < 0 {
			errs = append(errs, errors.New("amqp.prefetch must be >= 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (expected telegram or amqp)", c.Transport))
	}

	if c.Policy.MaxFileSize != nil && *c.Policy.MaxFileSize < 0 {
		errs = append(errs, errors.New("policy.max_file_size must be >= 0"))
	}
	if c.Fetch.Rate < 0 {
		errs = append(errs, errors.New("fetch.rate must be >= 0"))
	}
	if c.Fetch.Burst < 0 {
		errs = append(errs, errors.New("fetch.burst must be >= 0"))
	}
	if len(c.Fetch.Proxies) > 0 {
		if _, err := c.Fetch.ProxyPool(); err != nil {
			errs = append(errs, fmt.Errorf("fetch.proxies: %w", err))
		}
	} else if c.Fetch.ProxyStrategy != "" {
		errs = append(errs, errors.New("fetch.proxy_strategy is set but fetch.proxies is empty"))
	}
	if c.Dedup.Window != nil && *c.Dedup.Window < 0 {
		errs = append(errs, errors.New("dedup.window must be >= 0"))
	}

	switch c.Mirror.Backend {
	case "":
	case "fs":
		if c.Mirror.Path == "" {
			errs = append(errs, errors.New("mirror.path is required for the fs backend"))
		}
	case "s3":
		s3 := c.Mirror.S3()
		if err := s3.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mirror: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mirror.backend %q (expected fs or s3)", c.Mirror.Backend))
	}

	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
		if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
			errs = append(errs, errors.New("adapter.retries must be >= 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown adapter.type %q (expected webhook or redis)", c.Adapter.Type))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() Config {
	r := *c
	if r.Telegram.Token != "" {
		r.Telegram.Token = "<redacted>"
	}
	if r.AMQP.URL != "" {
		r.AMQP.URL = redactURL(r.AMQP.URL)
	}
	if r.Adapter.URL != "" {
		r.Adapter.URL = redactURL(r.Adapter.URL)
	}
	if len(r.Adapter.Headers) > 0 {
		headers := make(map[string]string, len(r.Adapter.Headers))
		for k := range r.Adapter.Headers {
			headers[k] = "<redacted>"
		}
		r.Adapter.Headers = headers
	}
	return r
}

// redactURL masks the userinfo password in raw. Unparseable input is
// masked entirely.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<redacted>"
	}
	return u.Redacted()
}
