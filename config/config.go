// Package config resolves the pipeline configuration. Sources are applied
// in order, each overriding the previous: built-in defaults, an optional
// YAML file, a .env file plus the process environment, and finally the
// command line.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/TFMV/fraudpipe/extract"
	"github.com/TFMV/fraudpipe/index"
	"github.com/TFMV/fraudpipe/model"
	"github.com/TFMV/fraudpipe/pipeline"
	"github.com/TFMV/fraudpipe/score"
	"github.com/TFMV/fraudpipe/sink"
	"github.com/TFMV/fraudpipe/storage"
	"github.com/TFMV/fraudpipe/transform"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	SourcePath      string          `yaml:"source_path"`
	ArtifactURI     string          `yaml:"artifact_uri"`
	ArtifactFormat  string          `yaml:"artifact_format"`
	GCSCredentials  string          `yaml:"gcs_credentials_file"`
	Table           string          `yaml:"table"`
	Sink            sink.Descriptor `yaml:"sink"`
	NegativeAmounts string          `yaml:"negative_amounts"`
	Score           ScoreConfig     `yaml:"score"`
	Schedule        ScheduleConfig  `yaml:"schedule"`
	Server          ServerConfig    `yaml:"server"`
	FlightAddr      string          `yaml:"flight_addr"`
	MetricsTextfile string          `yaml:"metrics_textfile"`
}

type ScoreConfig struct {
	HoldoutFraction float64 `yaml:"holdout_fraction"`
	Seed            int64   `yaml:"seed"`
	Penalty         string  `yaml:"penalty"`
	C               float64 `yaml:"c"`
	MaxIter         int     `yaml:"max_iter"`
	HoldoutOnly     bool    `yaml:"holdout_only"`
}

type ScheduleConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// Default returns the built-in configuration. The default sink is a local
// SQLite file so a bare checkout runs without credentials.
func Default() Config {
	so := score.DefaultOptions()
	return Config{
		SourcePath:      extract.DefaultSource,
		ArtifactURI:     storage.DefaultURI,
		ArtifactFormat:  storage.FormatCSV,
		Table:           sink.DefaultTable,
		Sink:            sink.Descriptor{Driver: sink.SQLite, Database: "fraudpipe.db"},
		NegativeAmounts: string(transform.NegativeAsSmall),
		Score: ScoreConfig{
			HoldoutFraction: so.HoldoutFraction,
			Seed:            so.Seed,
			Penalty:         string(so.Penalty),
			C:               so.C,
			MaxIter:         so.MaxIter,
		},
		Schedule: ScheduleConfig{
			Interval:    24 * time.Hour,
			MaxAttempts: 2,
			Backoff:     5 * time.Minute,
		},
		Server:     ServerConfig{Addr: ":8080"},
		FlightAddr: ":8815",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the .env file at envFile (skipped when absent) and the process
// environment, then validates it.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}
	if envFile != "" {
		// Variables already set in the environment take precedence.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: failed to load %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from FRAUDPIPE_* variables read through lookup.
// DATABASE_DSN is honoured as a sink DSN when FRAUDPIPE_SINK_DSN is unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.setString("FRAUDPIPE_SOURCE", &c.SourcePath)
	e.setString("FRAUDPIPE_ARTIFACTS", &c.ArtifactURI)
	e.setString("FRAUDPIPE_ARTIFACT_FORMAT", &c.ArtifactFormat)
	e.setString("FRAUDPIPE_GCS_CREDENTIALS", &c.GCSCredentials)
	e.setString("FRAUDPIPE_TABLE", &c.Table)

	e.setString("FRAUDPIPE_SINK_DRIVER", &c.Sink.Driver)
	e.setString("FRAUDPIPE_SINK_HOST", &c.Sink.Host)
	e.setInt("FRAUDPIPE_SINK_PORT", &c.Sink.Port)
	e.setString("FRAUDPIPE_SINK_USER", &c.Sink.User)
	e.setString("FRAUDPIPE_SINK_PASSWORD", &c.Sink.Password)
	e.setString("FRAUDPIPE_SINK_DATABASE", &c.Sink.Database)
	e.setString("FRAUDPIPE_SINK_SSLMODE", &c.Sink.SSLMode)
	e.setString("DATABASE_DSN", &c.Sink.DSN)
	e.setString("FRAUDPIPE_SINK_DSN", &c.Sink.DSN)

	e.setString("FRAUDPIPE_NEGATIVE_AMOUNTS", &c.NegativeAmounts)
	e.setFloat("FRAUDPIPE_HOLDOUT_FRACTION", &c.Score.HoldoutFraction)
	e.setInt64("FRAUDPIPE_SEED", &c.Score.Seed)
	e.setString("FRAUDPIPE_PENALTY", &c.Score.Penalty)
	e.setFloat("FRAUDPIPE_C", &c.Score.C)
	e.setInt("FRAUDPIPE_MAX_ITER", &c.Score.MaxIter)
	e.setBool("FRAUDPIPE_HOLDOUT_ONLY", &c.Score.HoldoutOnly)

	e.setDuration("FRAUDPIPE_SCHEDULE_INTERVAL", &c.Schedule.Interval)
	e.setInt("FRAUDPIPE_MAX_ATTEMPTS", &c.Schedule.MaxAttempts)
	e.setDuration("FRAUDPIPE_RETRY_BACKOFF", &c.Schedule.Backoff)

	e.setString("FRAUDPIPE_HTTP_ADDR", &c.Server.Addr)
	e.setString("FRAUDPIPE_API_TOKEN", &c.Server.Token)
	e.setString("FRAUDPIPE_FLIGHT_ADDR", &c.FlightAddr)
	e.setString("FRAUDPIPE_METRICS_TEXTFILE", &c.MetricsTextfile)

	return e.err
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error
	if _, e := storage.CodecFor(c.ArtifactFormat); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := transform.ParseNegativePolicy(c.NegativeAmounts); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := model.ParsePenalty(c.Score.Penalty); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := c.Sink.DriverName(); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Score.HoldoutFraction < 0 || c.Score.HoldoutFraction >= 1 {
		err = multierr.Append(err, fmt.Errorf("holdout fraction %v outside [0,1)", c.Score.HoldoutFraction))
	}
	if c.Score.C <= 0 {
		err = multierr.Append(err, fmt.Errorf("inverse regularization C must be positive, got %v", c.Score.C))
	}
	if c.Score.MaxIter < 1 {
		err = multierr.Append(err, fmt.Errorf("max iterations must be at least 1, got %d", c.Score.MaxIter))
	}
	if c.Schedule.Interval <= 0 {
		err = multierr.Append(err, fmt.Errorf("schedule interval must be positive, got %s", c.Schedule.Interval))
	}
	if c.Schedule.MaxAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("max attempts must be at least 1, got %d", c.Schedule.MaxAttempts))
	}
	if c.Schedule.Backoff < 0 {
		err = multierr.Append(err, fmt.Errorf("retry backoff must not be negative, got %s", c.Schedule.Backoff))
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Component options
// ----------------------------------------------------------------------------

// TransformOptions returns the Transformer settings.
func (c Config) TransformOptions() (transform.Options, error) {
	policy, err := transform.ParseNegativePolicy(c.NegativeAmounts)
	if err != nil {
		return transform.Options{}, err
	}
	return transform.Options{NegativeAmounts: policy, BloomFPRate: index.DefaultFPRate}, nil
}

// ScoreOptions returns the Scorer settings. The one-hot level set follows
// the negative amount policy.
func (c Config) ScoreOptions() (score.Options, error) {
	penalty, err := model.ParsePenalty(c.Score.Penalty)
	if err != nil {
		return score.Options{}, err
	}
	policy, err := transform.ParseNegativePolicy(c.NegativeAmounts)
	if err != nil {
		return score.Options{}, err
	}
	opts := score.DefaultOptions()
	opts.HoldoutFraction = c.Score.HoldoutFraction
	opts.Seed = c.Score.Seed
	opts.Penalty = penalty
	opts.C = c.Score.C
	opts.MaxIter = c.Score.MaxIter
	opts.HoldoutOnly = c.Score.HoldoutOnly
	opts.Categories = transform.NewBucketer(policy).Categories()
	return opts, nil
}

// RetryPolicy returns the stage retry settings.
func (c Config) RetryPolicy() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{MaxAttempts: c.Schedule.MaxAttempts, Backoff: c.Schedule.Backoff}
}

// StorageOptions returns the artifact store settings.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{Format: c.ArtifactFormat, CredentialsFile: c.GCSCredentials}
}

// ----------------------------------------------------------------------------
// Environment parsing
// ----------------------------------------------------------------------------

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	return v, ok && v != ""
}

func (e *envReader) fail(key string, err error) {
	e.err = multierr.Append(e.err, fmt.Errorf("config: %s: %w", key, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}
