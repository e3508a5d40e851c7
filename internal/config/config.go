package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lightning-dev/lightning/internal/errors"
)

const (
	// FileName is the name of the optional configuration file in the root.
	FileName = "lightning.yaml"

	// DefaultPort is the default development server port.
	DefaultPort = 3274

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultEntry is the file served for "/".
	DefaultEntry = "index.html"

	// DefaultDebounce is the quiet window before a reload is broadcast.
	DefaultDebounce = 300 * time.Millisecond
)

// Environment variable names.
const (
	EnvPort            = "LIGHTNING_PORT"
	EnvHost            = "LIGHTNING_HOST"
	EnvRoot            = "LIGHTNING_ROOT"
	EnvEntry           = "LIGHTNING_ENTRY"
	EnvWatchExtensions = "LIGHTNING_WATCH_EXTENSIONS"
	EnvDebounceMS      = "LIGHTNING_DEBOUNCE_MS"
	EnvMetricsAddr     = "LIGHTNING_METRICS_ADDR"
)

// DefaultWatchExtensions are the extensions that trigger a reload.
var DefaultWatchExtensions = []string{"html", "css", "js", "json", "ts", "tsx", "jsx"}

// DefaultIgnore are path fragments whose changes are never reported.
var DefaultIgnore = []string{"node_modules/", ".lightning/", ".git/", ".build/"}

// Config is the resolved dev server configuration.
type Config struct {
	// Port is the port to listen on.
	Port int

	// Host is the host to bind to.
	Host string

	// Root is the absolute path of the project directory.
	Root string

	// Entry is the root-relative file served for "/".
	Entry string

	// WatchExtensions are lowercase extensions without the dot.
	WatchExtensions []string

	// Debounce is the quiet window that must elapse before a flush.
	Debounce time.Duration

	// Ignore contains path fragments excluded from watching.
	Ignore []string

	// MetricsAddr enables a Prometheus listener when non-empty.
	MetricsAddr string
}

// fileConfig mirrors lightning.yaml.
type fileConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	Entry       string   `yaml:"entry"`
	Watch       []string `yaml:"watch"`
	Debounce    string   `yaml:"debounce"`
	Ignore      []string `yaml:"ignore"`
	MetricsAddr string   `yaml:"metricsAddr"`
}

// Overrides holds command-line values. Nil fields are left untouched.
type Overrides struct {
	Port            *int
	Host            *string
	Root            *string
	Entry           *string
	WatchExtensions *string
	Debounce        *time.Duration
	MetricsAddr     *string
}

// LoadOptions configures Load.
type LoadOptions struct {
	// LookupEnv reads environment variables. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// Getwd returns the fallback root. Defaults to os.Getwd.
	Getwd func() (string, error)

	// Overrides are applied last.
	Overrides Overrides
}

// New creates a Config with default values rooted at root.
func New(root string) *Config {
	return &Config{
		Port:            DefaultPort,
		Host:            DefaultHost,
		Root:            root,
		Entry:           DefaultEntry,
		WatchExtensions: append([]string(nil), DefaultWatchExtensions...),
		Debounce:        DefaultDebounce,
		Ignore:          append([]string(nil), DefaultIgnore...),
	}
}

// Load resolves the configuration from defaults, lightning.yaml, the
// environment and overrides, then validates it.
func Load(opts LoadOptions) (*Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	getwd := opts.Getwd
	if getwd == nil {
		getwd = os.Getwd
	}

	root, err := resolveRoot(lookup, getwd, opts.Overrides.Root)
	if err != nil {
		return nil, err
	}

	cfg := New(root)
	if err := cfg.applyFile(filepath.Join(root, FileName)); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyOverrides(opts.Overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveRoot(lookup func(string) (string, bool), getwd func() (string, error), override *string) (string, error) {
	var root string
	if override != nil && *override != "" {
		root = *override
	} else if v, ok := lookup(EnvRoot); ok && strings.TrimSpace(v) != "" {
		root = strings.TrimSpace(v)
	} else {
		wd, err := getwd()
		if err != nil {
			return "", errors.New("L102").Wrap(err)
		}
		root = wd
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.New("L102").WithDetail(root).Wrap(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.New("L102").WithDetail(abs).Wrap(err)
	}
	if !info.IsDir() {
		return "", errors.New("L102").WithDetail(abs + " is not a directory")
	}
	return abs, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New("L104").WithDetail(path).Wrap(err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return errors.New("L104").WithDetail(path).Wrap(err)
	}

	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.Host != "" {
		c.Host = fc.Host
	}
	if fc.Entry != "" {
		c.Entry = fc.Entry
	}
	if len(fc.Watch) > 0 {
		c.WatchExtensions = normalizeExtensions(fc.Watch)
	}
	if fc.Debounce != "" {
		d, err := time.ParseDuration(fc.Debounce)
		if err != nil {
			return errors.New("L103").WithDetail("debounce: " + fc.Debounce).Wrap(err)
		}
		c.Debounce = d
	}
	if fc.Ignore != nil {
		c.Ignore = fc.Ignore
	}
	if fc.MetricsAddr != "" {
		c.MetricsAddr = fc.MetricsAddr
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.New("L101").WithDetail(EnvPort + "=" + v + " is not a number")
		}
		c.Port = port
	}
	if v, ok := lookup(EnvHost); ok && v != "" {
		c.Host = v
	}
	if v, ok := lookup(EnvEntry); ok && v != "" {
		c.Entry = v
	}
	if v, ok := lookup(EnvWatchExtensions); ok && v != "" {
		c.WatchExtensions = ParseExtensions(v)
	}
	if v, ok := lookup(EnvDebounceMS); ok && v != "" {
		ms, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.New("L103").WithDetail(EnvDebounceMS + "=" + v + " is not a number")
		}
		c.Debounce = time.Duration(ms) * time.Millisecond
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.MetricsAddr = v
	}
	return nil
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Port != nil {
		c.Port = *o.Port
	}
	if o.Host != nil {
		c.Host = *o.Host
	}
	if o.Entry != nil {
		c.Entry = *o.Entry
	}
	if o.WatchExtensions != nil {
		c.WatchExtensions = ParseExtensions(*o.WatchExtensions)
	}
	if o.Debounce != nil {
		c.Debounce = *o.Debounce
	}
	if o.MetricsAddr != nil {
		c.MetricsAddr = *o.MetricsAddr
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("L101").WithDetail(fmt.Sprintf("port %d is out of range", c.Port))
	}
	if c.Debounce < 0 {
		return errors.New("L103").WithDetail(c.Debounce.String())
	}
	if strings.TrimSpace(c.Entry) == "" {
		return errors.New("L100").WithDetail("entry must not be empty")
	}
	if len(c.WatchExtensions) == 0 {
		return errors.New("L100").WithDetail("no watch extensions configured")
	}
	return nil
}

// ParseExtensions splits a comma-separated extension list, trimming
// whitespace and leading dots and lowercasing each entry.
func ParseExtensions(list string) []string {
	return normalizeExtensions(strings.Split(list, ","))
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
