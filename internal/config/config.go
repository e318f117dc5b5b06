package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/featmatch/internal/feature"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Matcher     MatcherConfig     `yaml:"matcher"`
	Index       IndexConfig       `yaml:"index"`
	Detector    DetectorConfig    `yaml:"detector"`
	Descriptors DescriptorsConfig `yaml:"descriptors"`
	Results     ResultsConfig     `yaml:"results"`
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Web         WebConfig         `yaml:"web"`
}

type MatcherConfig struct {
	MaxNNChecks    int     `yaml:"max_nn_checks"`
	RatioThreshold float64 `yaml:"ratio_threshold"`
	Workers        int     `yaml:"workers"` // 0 means GOMAXPROCS
}

// Params returns the matching parameters configured as defaults.
func (c MatcherConfig) Params() feature.Params {
	return feature.Params{MaxNNChecks: c.MaxNNChecks, RatioThreshold: c.RatioThreshold}
}

// EffectiveWorkers resolves Workers to a positive value.
func (c MatcherConfig) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

type IndexConfig struct {
	Kind         string `yaml:"kind"` // hnsw or exact
	MaxNeighbors int    `yaml:"max_neighbors"`
	Seed         int64  `yaml:"seed"`
}

type DetectorConfig struct {
	Command       string        `yaml:"command"` // may contain {image}; otherwise the image is piped to stdin
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"` // 0 means unbounded
}

type DescriptorsConfig struct {
	Backend     string   `yaml:"backend"` // file, s3 or postgres
	Dir         string   `yaml:"dir"`     // empty stores <image>.feat next to each image
	Compression string   `yaml:"compression"`
	S3          S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type ResultsConfig struct {
	Backend string `yaml:"backend"` // sqlite, postgres, mysql or none
	Path    string `yaml:"path"`    // sqlite database file
	DSN     string `yaml:"dsn"`     // MySQL/MariaDB DSN (e.g., featmatch:secret@tcp(mariadb:3306)/featmatch)
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AllowedOrigins receive CORS headers in addition to localhost.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimit caps match requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return defaultVal
}

// envFloat keeps invalid values so that Validate reports them.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s, ok := os.LookupEnv(key); ok {
		return s
	}
	return defaultVal
}

// Load builds the configuration from the embedded defaults, the optional
// YAML file at path and finally the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is provided by the operator
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Matcher.MaxNNChecks = envInt("FEATMATCH_MAX_NN_CHECKS", c.Matcher.MaxNNChecks)
	c.Matcher.RatioThreshold = envFloat("FEATMATCH_RATIO_THRESHOLD", c.Matcher.RatioThreshold)
	c.Matcher.Workers = envInt("FEATMATCH_WORKERS", c.Matcher.Workers)

	c.Index.Kind = envString("INDEX_KIND", c.Index.Kind)
	c.Index.MaxNeighbors = envInt("INDEX_MAX_NEIGHBORS", c.Index.MaxNeighbors)
	c.Index.Seed = envInt64("INDEX_SEED", c.Index.Seed)

	c.Detector.Command = envString("DETECTOR_COMMAND", c.Detector.Command)
	c.Detector.Timeout = envDuration("DETECTOR_TIMEOUT", c.Detector.Timeout)
	c.Detector.MaxConcurrent = envInt("DETECTOR_MAX_CONCURRENT", c.Detector.MaxConcurrent)

	c.Descriptors.Backend = envString("DESCRIPTOR_BACKEND", c.Descriptors.Backend)
	c.Descriptors.Dir = envString("DESCRIPTOR_DIR", c.Descriptors.Dir)
	c.Descriptors.Compression = envString("DESCRIPTOR_COMPRESSION", c.Descriptors.Compression)
	c.Descriptors.S3.Endpoint = envString("S3_ENDPOINT", c.Descriptors.S3.Endpoint)
	c.Descriptors.S3.Bucket = envString("S3_BUCKET", c.Descriptors.S3.Bucket)
	c.Descriptors.S3.Prefix = envString("S3_PREFIX", c.Descriptors.S3.Prefix)
	c.Descriptors.S3.AccessKey = envString("S3_ACCESS_KEY", c.Descriptors.S3.AccessKey)
	c.Descriptors.S3.SecretKey = envString("S3_SECRET_KEY", c.Descriptors.S3.SecretKey)
	c.Descriptors.S3.UseSSL = envBool("S3_USE_SSL", c.Descriptors.S3.UseSSL)

	c.Results.Backend = envString("RESULTS_BACKEND", c.Results.Backend)
	c.Results.Path = envString("RESULTS_PATH", c.Results.Path)
	c.Results.DSN = envString("RESULTS_DSN", c.Results.DSN)

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.RateLimit = envFloat("WEB_RATE_LIMIT", c.Web.RateLimit)
	c.Web.RateBurst = envInt("WEB_RATE_BURST", c.Web.RateBurst)
	if env := os.Getenv("WEB_ALLOWED_ORIGINS"); env != "" {
		c.Web.AllowedOrigins = nil
		for o := range strings.SplitSeq(env, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Web.AllowedOrigins = append(c.Web.AllowedOrigins, o)
			}
		}
	}
}

// Validate reports the first invalid setting, wrapped in
// feature.ErrInvalidInput.
func (c *Config) Validate() error {
	if err := c.Matcher.Params().Validate(); err != nil {
		return err
	}
	if c.Web.RateLimit < 0 || c.Detector.MaxConcurrent < 0 {
		return fmt.Errorf("%w: web.rate_limit and detector.max_concurrent must not be negative", feature.ErrInvalidInput)
	}
	if c.Matcher.Workers < 0 {
		return fmt.Errorf("%w: matcher.workers must not be negative", feature.ErrInvalidInput)
	}

	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"index.kind", c.Index.Kind, []string{"hnsw", "exact"}},
		{"descriptors.backend", c.Descriptors.Backend, []string{"file", "s3", "postgres"}},
		{"descriptors.compression", c.Descriptors.Compression, []string{"zstd", "lz4", "none"}},
		{"results.backend", c.Results.Backend, []string{"sqlite", "postgres", "mysql", "none"}},
	}
	for _, chk := range checks {
		if !contains(chk.allowed, chk.value) {
			return fmt.Errorf("%w: %s must be one of %s, got %q",
				feature.ErrInvalidInput, chk.field, strings.Join(chk.allowed, "|"), chk.value)
		}
	}

	if c.Descriptors.Backend == "s3" && (c.Descriptors.S3.Endpoint == "" || c.Descriptors.S3.Bucket == "") {
		return fmt.Errorf("%w: descriptors.s3 endpoint and bucket are required", feature.ErrInvalidInput)
	}
	needsPostgres := c.Descriptors.Backend == "postgres" || c.Results.Backend == "postgres"
	if needsPostgres && c.Database.URL == "" {
		return fmt.Errorf("%w: database.url is required for the postgres backend", feature.ErrInvalidInput)
	}
	if c.Results.Backend == "mysql" && c.Results.DSN == "" {
		return fmt.Errorf("%w: results.dsn is required for the mysql backend", feature.ErrInvalidInput)
	}
	if c.Results.Backend == "sqlite" && c.Results.Path == "" {
		return fmt.Errorf("%w: results.path is required for the sqlite backend", feature.ErrInvalidInput)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
