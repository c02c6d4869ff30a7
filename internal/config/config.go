// Package config loads the service configuration from an optional YAML file
// and CHESSREVIEW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/freeeve/chessreview/internal/classify"
	"github.com/freeeve/chessreview/internal/eval"
)

const EnvPrefix = "CHESSREVIEW"

type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Cache    CacheConfig    `mapstructure:"cache"`
	ECO      ECOConfig      `mapstructure:"eco"`
	Server   ServerConfig   `mapstructure:"server"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Log      LogConfig      `mapstructure:"log"`
}

type EngineConfig struct {
	// Path is the engine binary used by the default profile chain.
	Path     string         `mapstructure:"path"`
	Profiles []eval.Profile `mapstructure:"profiles"`
}

type AnalysisConfig struct {
	Depth           int                 `mapstructure:"depth"`
	MaxMoveTime     time.Duration       `mapstructure:"max_move_time"`
	AllowTime       bool                `mapstructure:"allow_time"`
	PoolSize        int                 `mapstructure:"pool_size"`
	MultiPV         int                 `mapstructure:"multipv"`
	TimeoutPerDepth time.Duration       `mapstructure:"timeout_per_depth"`
	MinTimeout      time.Duration       `mapstructure:"min_timeout"`
	Thresholds      classify.Thresholds `mapstructure:"thresholds"`
}

type RemoteConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Attempts uint          `mapstructure:"attempts"`
}

type CacheConfig struct {
	Files      []string `mapstructure:"files"`       // precomputed dumps loaded at startup
	MaxEntries int      `mapstructure:"max_entries"` // 0 = unbounded
	SaveTo     string   `mapstructure:"save_to"`     // written on shutdown when set
}

type ECOConfig struct {
	Dir string `mapstructure:"dir"`
}

type ServerConfig struct {
	Addr    string        `mapstructure:"addr"`
	MaxRuns int           `mapstructure:"max_runs"` // concurrent analyses
	RunTTL  time.Duration `mapstructure:"run_ttl"`  // finished runs are forgotten after this
}

// IngestConfig enables the watch-folder reviewer when Dir is set.
type IngestConfig struct {
	Dir          string        `mapstructure:"dir"`
	ProcessedDir string        `mapstructure:"processed_dir"`
	OutputDir    string        `mapstructure:"output_dir"`
	RatingMin    int           `mapstructure:"rating_min"`
	Parallel     int           `mapstructure:"parallel"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.path", "stockfish")
	v.SetDefault("analysis.depth", 16)
	v.SetDefault("analysis.max_move_time", 0)
	v.SetDefault("analysis.allow_time", false)
	v.SetDefault("analysis.pool_size", 0)
	v.SetDefault("analysis.multipv", 2)
	v.SetDefault("analysis.timeout_per_depth", 3*time.Second)
	v.SetDefault("analysis.min_timeout", 10*time.Second)
	d := classify.DefaultThresholds()
	v.SetDefault("analysis.thresholds.excellent", d.Excellent)
	v.SetDefault("analysis.thresholds.good", d.Good)
	v.SetDefault("analysis.thresholds.inaccuracy", d.Inaccuracy)
	v.SetDefault("analysis.thresholds.mistake", d.Mistake)
	v.SetDefault("analysis.thresholds.great_gap", d.GreatGap)
	v.SetDefault("analysis.thresholds.winning", d.Winning)
	v.SetDefault("analysis.thresholds.sacrifice", d.Sacrifice)
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.base_url", "https://lichess.org")
	v.SetDefault("remote.timeout", 2*time.Second)
	v.SetDefault("remote.attempts", 2)
	v.SetDefault("cache.files", []string{})
	v.SetDefault("cache.max_entries", 1_000_000)
	v.SetDefault("cache.save_to", "")
	v.SetDefault("eco.dir", "./data/eco")
	v.SetDefault("server.addr", ":8008")
	v.SetDefault("server.max_runs", 4)
	v.SetDefault("server.run_ttl", time.Hour)
	v.SetDefault("ingest.parallel", 1)
	v.SetDefault("ingest.poll_interval", 10*time.Second)
	v.SetDefault("log.level", "info")
}

// Load reads path (optional) and the environment. Nested keys map to
// variables like CHESSREVIEW_ANALYSIS_DEPTH; STOCKFISH_PATH overrides the
// engine path. Without explicit profiles the default chain for the engine
// path is used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if envPath := os.Getenv("STOCKFISH_PATH"); envPath != "" {
		cfg.Engine.Path = envPath
	}
	if len(cfg.Engine.Profiles) == 0 {
		cfg.Engine.Profiles = eval.DefaultProfiles(cfg.Engine.Path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Analysis.Depth < 1 {
		errs = append(errs, fmt.Errorf("analysis.depth must be positive, got %d", c.Analysis.Depth))
	}
	if c.Analysis.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("analysis.pool_size must not be negative, got %d", c.Analysis.PoolSize))
	}
	if c.Analysis.MaxMoveTime < 0 {
		errs = append(errs, errors.New("analysis.max_move_time must not be negative"))
	}
	t := c.Analysis.Thresholds.WithDefaults()
	if !(t.Excellent < t.Good && t.Good < t.Inaccuracy && t.Inaccuracy < t.Mistake) {
		errs = append(errs, errors.New("analysis.thresholds must increase from excellent to mistake"))
	}
	for i, p := range c.Engine.Profiles {
		if p.Path == "" {
			errs = append(errs, fmt.Errorf("engine.profiles[%d] (%s): path is required", i, p.Name))
		}
		switch p.Driver {
		case "", eval.DriverProcess, eval.DriverLibrary:
		default:
			errs = append(errs, fmt.Errorf("engine.profiles[%d] (%s): unknown driver %q", i, p.Name, p.Driver))
		}
	}
	if c.Remote.Enabled {
		if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.base_url is not an absolute URL: %q", c.Remote.BaseURL))
		}
	}
	return errors.Join(errs...)
}
