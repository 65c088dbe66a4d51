// Package config loads revcluster settings in layers: defaults, an optional
// YAML file, then REVCLUSTER_* environment variables. Command-line flags are
// applied last by the caller.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/revcluster/core/batch"
	"github.com/adalundhe/revcluster/core/cluster"
	"github.com/adalundhe/revcluster/core/embedding"
	rcerrors "github.com/adalundhe/revcluster/core/errors"
	"github.com/adalundhe/revcluster/core/feature"
	"github.com/adalundhe/revcluster/core/observation"
	"github.com/adalundhe/revcluster/core/vectorize"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "revcluster.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REVCLUSTER_"

type Config struct {
	Vectorize VectorizeConfig `yaml:"vectorize"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type VectorizeConfig struct {
	Workers       int      `yaml:"workers"`
	MaxPages      int      `yaml:"max_pages"`
	SaveText      bool     `yaml:"save_text"`
	SaveTokens    bool     `yaml:"save_tokens"`
	Include       []string `yaml:"include"`
	Exclude       []string `yaml:"exclude"`
	OOV           string   `yaml:"oov"`
	LRUSize       int      `yaml:"lru_size"`
	ProgressEvery int      `yaml:"progress_every"`
}

type ClusterConfig struct {
	K             cluster.Range `yaml:"k"`
	Parallelism   int           `yaml:"parallelism"`
	Seed          int64         `yaml:"seed"`
	Restarts      int           `yaml:"restarts"`
	MaxIterations int           `yaml:"max_iterations"`
	Tolerance     float64       `yaml:"tolerance"`
	Scores        string        `yaml:"scores"`
}

type EmbeddingConfig struct {
	Format           string `yaml:"format"`
	SharedCacheBytes int64  `yaml:"shared_cache_bytes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() *Config {
	sel := vectorize.DefaultSelection()
	return &Config{
		Vectorize: VectorizeConfig{
			Workers:       batch.DefaultWorkers,
			Include:       sel.Include,
			Exclude:       sel.Exclude,
			OOV:           feature.OOVSkip.String(),
			LRUSize:       embedding.DefaultLRUSize,
			ProgressEvery: vectorize.DefaultProgressEvery,
		},
		Cluster: ClusterConfig{
			K:             cluster.Range{Min: 2, Max: 20, Step: 2},
			Parallelism:   1,
			Restarts:      cluster.DefaultRestarts,
			MaxIterations: cluster.DefaultMaxIterations,
			Tolerance:     cluster.DefaultTolerance,
		},
		Embedding: EmbeddingConfig{
			Format:           string(embedding.FormatAuto),
			SharedCacheBytes: embedding.DefaultSharedCacheBytes,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. An empty path reads DefaultFile if it exists; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		if err := loadYAMLFile(DefaultFile, cfg, true); err != nil {
			return nil, err
		}
	} else if err := loadYAMLFile(path, cfg, false); err != nil {
		return nil, err
	}

	if err := applyEnvironment(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAMLFile(path string, cfg *Config, optional bool) error {
	data, err := os.ReadFile(path)
	if optional && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return rcerrors.Wrap(rcerrors.KindIO, "read config", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return rcerrors.Wrap(rcerrors.KindConfiguration, "parse config", path, err)
	}
	return nil
}

// envLookup matches os.LookupEnv.
type envLookup func(string) (string, bool)

func applyEnvironment(cfg *Config, lookup envLookup) error {
	var errs []error
	setInt := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, rcerrors.Wrap(rcerrors.KindConfiguration, "parse env", EnvPrefix+name, err))
				return
			}
			*dst = n
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, rcerrors.Wrap(rcerrors.KindConfiguration, "parse env", EnvPrefix+name, err))
				return
			}
			*dst = b
		}
	}

	setInt("WORKERS", &cfg.Vectorize.Workers)
	setInt("MAX_PAGES", &cfg.Vectorize.MaxPages)
	setBool("SAVE_TEXT", &cfg.Vectorize.SaveText)
	setBool("SAVE_TOKENS", &cfg.Vectorize.SaveTokens)
	setString("OOV", &cfg.Vectorize.OOV)
	setInt("LRU_SIZE", &cfg.Vectorize.LRUSize)
	setInt("PARALLEL", &cfg.Cluster.Parallelism)
	setInt("RESTARTS", &cfg.Cluster.Restarts)
	setInt("MAX_ITER", &cfg.Cluster.MaxIterations)
	setString("SCORES", &cfg.Cluster.Scores)
	setString("EMBEDDING_FORMAT", &cfg.Embedding.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	if v, ok := lookup(EnvPrefix + "SEED"); ok && v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, rcerrors.Wrap(rcerrors.KindConfiguration, "parse env", EnvPrefix+"SEED", err))
		} else {
			cfg.Cluster.Seed = n
		}
	}
	if v, ok := lookup(EnvPrefix + "SHARED_CACHE_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, rcerrors.Wrap(rcerrors.KindConfiguration, "parse env", EnvPrefix+"SHARED_CACHE_BYTES", err))
		} else {
			cfg.Embedding.SharedCacheBytes = n
		}
	}

	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	return c.validate(c.vectorizeErrors, c.clusterErrors)
}

// ValidateVectorize reports invalid settings used by vectorizing: the
// vectorize, embedding and logging sections.
func (c *Config) ValidateVectorize() error {
	return c.validate(c.vectorizeErrors)
}

// ValidateCluster reports invalid settings used by clustering: the cluster,
// embedding and logging sections.
func (c *Config) ValidateCluster() error {
	return c.validate(c.clusterErrors)
}

func (c *Config) validate(sections ...func() []error) error {
	var errs []error
	for _, section := range sections {
		errs = append(errs, section()...)
	}
	errs = append(errs, c.sharedErrors()...)
	return errors.Join(errs...)
}

func invalid(subject, format string, args ...any) error {
	return rcerrors.Errorf(rcerrors.KindConfiguration, "validate config", subject, format, args...)
}

func (c *Config) vectorizeErrors() []error {
	var errs []error
	if c.Vectorize.Workers < 1 {
		errs = append(errs, invalid("vectorize.workers", "must be at least 1, got %d", c.Vectorize.Workers))
	}
	if c.Vectorize.MaxPages < 0 {
		errs = append(errs, invalid("vectorize.max_pages", "must not be negative, got %d", c.Vectorize.MaxPages))
	}
	if c.Vectorize.LRUSize < 0 {
		errs = append(errs, invalid("vectorize.lru_size", "must not be negative, got %d", c.Vectorize.LRUSize))
	}
	if len(c.Vectorize.Include) == 0 {
		errs = append(errs, invalid("vectorize.include", "needs at least one pattern"))
	}
	if _, err := feature.ParseOOVPolicy(c.Vectorize.OOV); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (c *Config) clusterErrors() []error {
	var errs []error
	if _, err := c.Cluster.K.Candidates(); err != nil {
		errs = append(errs, err)
	}
	if c.Cluster.K.Min < 2 {
		errs = append(errs, invalid("cluster.k.min", "must be at least 2, got %d", c.Cluster.K.Min))
	}
	if c.Cluster.Parallelism < 1 {
		errs = append(errs, invalid("cluster.parallelism", "must be at least 1, got %d", c.Cluster.Parallelism))
	}
	if c.Cluster.Restarts < 1 {
		errs = append(errs, invalid("cluster.restarts", "must be at least 1, got %d", c.Cluster.Restarts))
	}
	if c.Cluster.MaxIterations < 1 {
		errs = append(errs, invalid("cluster.max_iterations", "must be at least 1, got %d", c.Cluster.MaxIterations))
	}
	return errs
}

func (c *Config) sharedErrors() []error {
	var errs []error
	if _, err := embedding.ParseFormat(c.Embedding.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Embedding.SharedCacheBytes < 0 {
		errs = append(errs, invalid("embedding.shared_cache_bytes", "must not be negative, got %d", c.Embedding.SharedCacheBytes))
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, rcerrors.Wrap(rcerrors.KindConfiguration, "parse log level", l.Level, err)
	}
	return level, nil
}

// =============================================================================
// Conversions
// =============================================================================

// PipelineOptions converts the vectorize settings. Validate first.
func (c *Config) PipelineOptions() vectorize.Options {
	oov, _ := feature.ParseOOVPolicy(c.Vectorize.OOV)
	return vectorize.Options{
		MaxPages: c.Vectorize.MaxPages,
		Emit: observation.EmitOptions{
			SaveText:   c.Vectorize.SaveText,
			SaveTokens: c.Vectorize.SaveTokens,
		},
		OOV:           oov,
		LRUSize:       c.Vectorize.LRUSize,
		ProgressEvery: c.Vectorize.ProgressEvery,
	}
}

// Selection returns the input file patterns.
func (c *Config) Selection() vectorize.Selection {
	return vectorize.Selection{Include: c.Vectorize.Include, Exclude: c.Vectorize.Exclude}
}

// StoreConfig returns the embedding store settings for path. Validate first.
func (c *Config) StoreConfig(path string) embedding.Config {
	format, _ := embedding.ParseFormat(c.Embedding.Format)
	return embedding.Config{Path: path, Format: format, SharedCacheBytes: c.Embedding.SharedCacheBytes}
}

// KMeans returns the configured clusterer.
func (c *Config) KMeans() *cluster.SphericalKMeans {
	return &cluster.SphericalKMeans{
		MaxIterations: c.Cluster.MaxIterations,
		Restarts:      c.Cluster.Restarts,
		Tolerance:     c.Cluster.Tolerance,
		Seed:          c.Cluster.Seed,
	}
}
