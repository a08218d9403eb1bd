// Package config loads the reactord configuration, from a YAML or TOML
// file, and the command line.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

var ErrUnknownFormat = errors.New(`config: unknown file format`)

// Duration is a time.Duration that decodes from strings like "30s".
type Duration time.Duration

func (x Duration) String() string { return time.Duration(x).String() }

// MarshalText implements encoding.TextMarshaler.
func (x Duration) MarshalText() ([]byte, error) { return []byte(x.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler, which is used by both
// the YAML and TOML decoders.
func (x *Duration) UnmarshalText(b []byte) error {
	d, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*x = Duration(d)
	return nil
}

// Config models the server configuration.
type Config struct {
	Listen        string   `yaml:"listen" toml:"listen"`
	DocRoot       string   `yaml:"doc_root" toml:"doc_root"`
	LogLevel      string   `yaml:"log_level" toml:"log_level"`
	IdleTimeout   Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout" toml:"write_timeout"`
	StatsInterval Duration `yaml:"stats_interval" toml:"stats_interval"`
	ShutdownGrace Duration `yaml:"shutdown_grace" toml:"shutdown_grace"`
	Workers       int      `yaml:"workers" toml:"workers"`
	Queue         int      `yaml:"queue" toml:"queue"`
	MaxOpenFiles  int      `yaml:"max_open_files" toml:"max_open_files"`
	TimerCapacity int      `yaml:"timer_capacity" toml:"timer_capacity"`
	TimerGrowth   int      `yaml:"timer_growth" toml:"timer_growth"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Listen:        `:6666`,
		DocRoot:       `htdocs`,
		LogLevel:      `info`,
		IdleTimeout:   Duration(30 * time.Second),
		WriteTimeout:  Duration(10 * time.Second),
		StatsInterval: Duration(time.Minute),
		ShutdownGrace: Duration(5 * time.Second),
		Workers:       4,
		Queue:         256,
		MaxOpenFiles:  65536,
		TimerCapacity: 128,
		TimerGrowth:   1,
	}
}

// Load decodes the file at path over cfg, selecting the decoder by file
// extension.
func Load(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf(`config: %w`, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case `.yaml`, `.yml`:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf(`config: %s: %w`, path, err)
		}
	case `.toml`:
		md, err := toml.Decode(string(b), cfg)
		if err != nil {
			return fmt.Errorf(`config: %s: %w`, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return fmt.Errorf(`config: %s: unknown keys %v`, path, undecoded)
		}
	default:
		return fmt.Errorf(`%w: %q`, ErrUnknownFormat, ext)
	}
	return nil
}

// Validate checks the configuration for values the server cannot use.
func (x *Config) Validate() error {
	var errs []error
	if x.Listen == `` {
		errs = append(errs, errors.New(`listen must be set`))
	}
	if x.Workers <= 0 {
		errs = append(errs, errors.New(`workers must be positive`))
	}
	if x.Queue < 0 {
		errs = append(errs, errors.New(`queue must not be negative`))
	}
	if x.MaxOpenFiles <= 0 {
		errs = append(errs, errors.New(`max_open_files must be positive`))
	}
	if x.TimerCapacity < 0 || x.TimerGrowth < 0 {
		errs = append(errs, errors.New(`timer capacity and growth must not be negative`))
	}
	if x.IdleTimeout < 0 || x.WriteTimeout < 0 || x.StatsInterval < 0 || x.ShutdownGrace < 0 {
		errs = append(errs, errors.New(`durations must not be negative`))
	}
	if _, err := x.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf(`config: invalid: %w`, err)
	}
	return nil
}

// Level parses LogLevel.
func (x *Config) Level() (logiface.Level, error) {
	switch strings.ToLower(x.LogLevel) {
	case `trace`:
		return logiface.LevelTrace, nil
	case `debug`:
		return logiface.LevelDebug, nil
	case ``, `info`:
		return logiface.LevelInformational, nil
	case `notice`:
		return logiface.LevelNotice, nil
	case `warn`, `warning`:
		return logiface.LevelWarning, nil
	case `error`, `err`:
		return logiface.LevelError, nil
	case `disabled`, `off`:
		return logiface.LevelDisabled, nil
	default:
		return 0, fmt.Errorf(`unknown log level %q`, x.LogLevel)
	}
}

// Flags is the result of [ParseFlags].
type Flags struct {
	Config      Config
	ConfigPath  string
	ShowHelp    bool
	ShowVersion bool
}

// ParseFlags resolves the configuration from args (excluding the program
// name): defaults, then the -config file, then any other flags. Usage and
// parse errors are written to output.
func ParseFlags(name string, args []string, output io.Writer) (*Flags, error) {
	var (
		res   = Flags{Config: Default()}
		cfg   Config
		fs    = flag.NewFlagSet(name, flag.ContinueOnError)
		idle  = durationFlag{&cfg.IdleTimeout}
		write = durationFlag{&cfg.WriteTimeout}
		stats = durationFlag{&cfg.StatsInterval}
		grace = durationFlag{&cfg.ShutdownGrace}
	)
	fs.SetOutput(output)
	fs.BoolVar(&res.ShowHelp, `h`, false, `show this help and exit`)
	fs.BoolVar(&res.ShowVersion, `v`, false, `show the version and exit`)
	fs.StringVar(&res.ConfigPath, `config`, ``, `path to a .yaml, .yml, or .toml config file`)
	fs.StringVar(&cfg.Listen, `listen`, ``, `listen address, host:port`)
	fs.StringVar(&cfg.DocRoot, `root`, ``, `directory to serve files from`)
	fs.StringVar(&cfg.LogLevel, `log-level`, ``, `log level`)
	fs.IntVar(&cfg.Workers, `workers`, 0, `number of worker goroutines`)
	fs.IntVar(&cfg.Queue, `queue`, 0, `requests queued beyond the workers`)
	fs.IntVar(&cfg.MaxOpenFiles, `max-open-files`, 0, `capacity of the descriptor registry`)
	fs.Var(idle, `idle-timeout`, `idle connection timeout`)
	fs.Var(write, `write-timeout`, `response write timeout`)
	fs.Var(stats, `stats-interval`, `interval between stats logs`)
	fs.Var(grace, `shutdown-grace`, `time allowed for in-flight requests on shutdown`)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			res.ShowHelp = true
			return &res, nil
		}
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf(`config: unexpected arguments: %q`, fs.Args())
	}

	if res.ConfigPath != `` {
		if err := Load(res.ConfigPath, &res.Config); err != nil {
			return nil, err
		}
	}

	// explicitly set flags win
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case `listen`:
			res.Config.Listen = cfg.Listen
		case `root`:
			res.Config.DocRoot = cfg.DocRoot
		case `log-level`:
			res.Config.LogLevel = cfg.LogLevel
		case `workers`:
			res.Config.Workers = cfg.Workers
		case `queue`:
			res.Config.Queue = cfg.Queue
		case `max-open-files`:
			res.Config.MaxOpenFiles = cfg.MaxOpenFiles
		case `idle-timeout`:
			res.Config.IdleTimeout = cfg.IdleTimeout
		case `write-timeout`:
			res.Config.WriteTimeout = cfg.WriteTimeout
		case `stats-interval`:
			res.Config.StatsInterval = cfg.StatsInterval
		case `shutdown-grace`:
			res.Config.ShutdownGrace = cfg.ShutdownGrace
		}
	})

	if res.ShowHelp {
		fs.Usage()
	}

	return &res, nil
}

type durationFlag struct{ v *Duration }

func (x durationFlag) String() string {
	if x.v == nil {
		return ``
	}
	return x.v.String()
}

func (x durationFlag) Set(s string) error { return x.v.UnmarshalText([]byte(s)) }
