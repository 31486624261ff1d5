package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/poiesic/kbingest/ai"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/fetch"
	"github.com/poiesic/kbingest/index"
)

// Index backends.
const (
	IndexBadger = "badger"
	IndexMilvus = "milvus"
)

// Environment variables applied after the file.
const (
	EnvStoragePath   = "KBINGEST_STORAGE_PATH"
	EnvEmbeddingHost = "KBINGEST_EMBEDDING_HOST"
	EnvAPIToken      = "KBINGEST_API_TOKEN"
	EnvMilvusAddress = "KBINGEST_MILVUS_ADDRESS"
	EnvLogLevel      = "KBINGEST_LOG_LEVEL"
)

var (
	// ErrUnknownKeys indicates keys in the file that match no setting.
	ErrUnknownKeys = errors.New("unknown configuration keys")

	// ErrInvalid indicates a setting outside its allowed range.
	ErrInvalid = errors.New("invalid configuration")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Duration is a time.Duration written as a string such as "1s" or "250ms".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete kbingest configuration.
type Config struct {
	StoragePath string `toml:"storage_path" validate:"required"`
	LogLevel    string `toml:"log_level" validate:"oneof=debug info warn error"`

	Embedding ai.Config         `toml:"embedding"`
	Index     IndexConfig       `toml:"index"`
	Fetch     FetchConfig       `toml:"fetch"`
	Pipeline  PipelineConfig    `toml:"pipeline"`
	Drafts    DraftConfig       `toml:"drafts"`
	Source    core.SourceConfig `toml:"source" validate:"-"`
}

// IndexConfig selects the vector index.
type IndexConfig struct {
	Backend string       `toml:"backend" validate:"oneof=badger milvus"`
	Milvus  MilvusConfig `toml:"milvus"`
}

// MilvusConfig holds the Milvus connection settings.
type MilvusConfig struct {
	Address  string   `toml:"address"`
	Database string   `toml:"database"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	UseTLS   bool     `toml:"use_tls"`
	Timeout  Duration `toml:"timeout"`
}

// FetchConfig controls page retrieval.
type FetchConfig struct {
	Timeout        Duration      `toml:"timeout" validate:"gt=0"`
	MaxAttempts    int           `toml:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoff Duration      `toml:"initial_backoff" validate:"gte=0"`
	MaxBackoff     Duration      `toml:"max_backoff" validate:"gte=0"`
	WaitSelector   string        `toml:"wait_selector"`
	Settle         Duration      `toml:"settle" validate:"gte=0"`
	Browser        BrowserConfig `toml:"browser"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	Headless  bool   `toml:"headless"`
	NoSandbox bool   `toml:"no_sandbox"`
	UserAgent string `toml:"user_agent"`
	ExecPath  string `toml:"exec_path"`
}

// PipelineConfig sizes the pipeline's worker pools and pacing.
type PipelineConfig struct {
	JobWorkers     int      `toml:"job_workers" validate:"gte=1,lte=64"`
	CrawlWorkers   int      `toml:"crawl_workers" validate:"gte=1,lte=4"`
	RequestDelay   Duration `toml:"request_delay" validate:"gte=0"`
	MaxDelay       Duration `toml:"max_delay" validate:"gte=0"`
	EmbedBatchSize int      `toml:"embed_batch_size" validate:"gte=1,lte=2048"`
	EmbedWorkers   int      `toml:"embed_workers" validate:"gte=1,lte=64"`
	EmbedAttempts  int      `toml:"embed_attempts" validate:"gte=1,lte=10"`
	IndexAttempts  int      `toml:"index_attempts" validate:"gte=1,lte=10"`
}

// DraftConfig controls draft expiry.
type DraftConfig struct {
	TTL Duration `toml:"ttl" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	retry := fetch.DefaultRetryPolicy()
	chrome := fetch.DefaultChromeConfig()
	wait := fetch.DefaultWaitCondition()

	source := core.SourceConfig{}
	source.Normalize()

	return &Config{
		StoragePath: "kbingest.db",
		LogLevel:    "info",
		Embedding:   *ai.DefaultConfig(),
		Index: IndexConfig{
			Backend: IndexBadger,
			Milvus: MilvusConfig{
				Address:  "localhost:19530",
				Database: "default",
				Timeout:  Duration(10 * time.Second),
			},
		},
		Fetch: FetchConfig{
			Timeout:        Duration(fetch.DefaultTimeout),
			MaxAttempts:    retry.MaxAttempts,
			InitialBackoff: Duration(retry.InitialBackoff),
			MaxBackoff:     Duration(retry.MaxBackoff),
			WaitSelector:   wait.Selector,
			Settle:         Duration(wait.Settle),
			Browser: BrowserConfig{
				Headless:  chrome.Headless,
				NoSandbox: chrome.NoSandbox,
				UserAgent: chrome.UserAgent,
			},
		},
		Pipeline: PipelineConfig{
			JobWorkers:     2,
			CrawlWorkers:   2,
			RequestDelay:   Duration(fetch.DefaultRequestDelay),
			MaxDelay:       Duration(fetch.DefaultMaxDelay),
			EmbedBatchSize: 32,
			EmbedWorkers:   4,
			EmbedAttempts:  3,
			IndexAttempts:  3,
		},
		Drafts: DraftConfig{TTL: Duration(core.DefaultDraftTTL)},
		Source: source,
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
		}
		defer f.Close()
		if err := decodeInto(f, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads TOML from r over the defaults and validates the result.
// Environment variables are not consulted.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(r io.Reader, cfg *Config) error {
	err := toml.NewDecoder(r).DisallowUnknownFields().Decode(cfg)
	if err == nil {
		return nil
	}
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		keys := make([]string, 0, len(strict.Errors))
		for _, e := range strict.Errors {
			keys = append(keys, strings.Join(e.Key(), "."))
		}
		return fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(keys, ", "))
	}
	return err
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvStoragePath); v != "" {
		c.StoragePath = v
	}
	if v := getenv(EnvEmbeddingHost); v != "" {
		c.Embedding.EmbeddingHost = v
	}
	if v := getenv(EnvAPIToken); v != "" {
		c.Embedding.APIToken = v
	}
	if v := getenv(EnvMilvusAddress); v != "" {
		c.Index.Milvus.Address = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q check", ErrInvalid, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Index.Backend == IndexMilvus && c.Index.Milvus.Address == "" {
		return fmt.Errorf("%w: index.milvus.address is required for the milvus backend", ErrInvalid)
	}
	if c.Pipeline.MaxDelay > 0 && c.Pipeline.MaxDelay < c.Pipeline.RequestDelay {
		return fmt.Errorf("%w: pipeline.max_delay must not be below pipeline.request_delay", ErrInvalid)
	}

	c.Source.Normalize()
	if err := core.ValidateChunking(c.Source.ChunkSize, c.Source.ChunkOverlap); err != nil {
		return fmt.Errorf("%w: source: %w", ErrInvalid, err)
	}
	if err := c.Source.Cleaning.Validate(); err != nil {
		return fmt.Errorf("%w: source.cleaning: %w", ErrInvalid, err)
	}
	return nil
}

// RetryPolicy returns the fetch retry policy.
func (c *Config) RetryPolicy() fetch.RetryPolicy {
	p := fetch.DefaultRetryPolicy()
	p.MaxAttempts = c.Fetch.MaxAttempts
	p.InitialBackoff = c.Fetch.InitialBackoff.Std()
	p.MaxBackoff = c.Fetch.MaxBackoff.Std()
	return p
}

// ChromeConfig returns the browser settings.
func (c *Config) ChromeConfig() fetch.ChromeConfig {
	return fetch.ChromeConfig{
		Headless:  c.Fetch.Browser.Headless,
		NoSandbox: c.Fetch.Browser.NoSandbox,
		UserAgent: c.Fetch.Browser.UserAgent,
		ExecPath:  c.Fetch.Browser.ExecPath,
	}
}

// WaitCondition returns what the renderer waits for before reading a page.
func (c *Config) WaitCondition() fetch.WaitCondition {
	return fetch.WaitCondition{
		Selector: c.Fetch.WaitSelector,
		Settle:   c.Fetch.Settle.Std(),
	}
}

// MilvusConfig returns the Milvus connection settings.
func (c *Config) MilvusConfig() index.MilvusConfig {
	return index.MilvusConfig{
		Address:  c.Index.Milvus.Address,
		Database: c.Index.Milvus.Database,
		Username: c.Index.Milvus.Username,
		Password: c.Index.Milvus.Password,
		UseTLS:   c.Index.Milvus.UseTLS,
		Timeout:  c.Index.Milvus.Timeout.Std(),
	}
}

// NewSource returns the configured source defaults for url.
func (c *Config) NewSource(kind core.SourceKind, url string) core.SourceConfig {
	src := c.Source
	src.Kind = kind
	src.URL = url
	return src
}
