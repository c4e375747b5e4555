// Package config loads server configuration.
//
// Values are layered, later sources winning: built-in defaults, an optional
// YAML file, a .env file, FILIAL_* environment variables and finally
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/erazemk/filial/internal/model"
)

// Catalog sources.
const (
	CatalogLocal  = "local"
	CatalogRemote = "remote"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FILIAL_"

// Config is the server configuration.
type Config struct {
	// DB is the SQLite database path.
	DB string `yaml:"db"`
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// Log is an optional log file, written in addition to stdout/stderr.
	Log string `yaml:"log"`
	// PublicURL prefixes the URLs of stored files. Empty yields
	// root-relative URLs.
	PublicURL string `yaml:"public_url"`
	// Branches are the branch ids that may log in and trade transfers.
	Branches []string `yaml:"branches"`

	Catalog CatalogConfig `yaml:"catalog"`
	Uploads UploadsConfig `yaml:"uploads"`
}

// CatalogConfig selects where product lookups go.
type CatalogConfig struct {
	Source    string        `yaml:"source"`
	RemoteURL string        `yaml:"remote_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// UploadsConfig bounds upload sizes in bytes.
type UploadsConfig struct {
	MaxImageBytes   int64 `yaml:"max_image_bytes"`
	MaxInvoiceBytes int64 `yaml:"max_invoice_bytes"`
}

// DefaultBranches are the branches of a fresh installation.
var DefaultBranches = []string{
	"Esteio 01", "Esteio 02", "Esteio 03",
	"Esteio 04", "Esteio 05", "Esteio 06",
	"Esteio 07", "Esteio 08", "Esteio 09",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DB:       "filial.sqlite3",
		Addr:     ":8080",
		Branches: append([]string(nil), DefaultBranches...),
		Catalog: CatalogConfig{
			Source:  CatalogLocal,
			Timeout: 10 * time.Second,
		},
		Uploads: UploadsConfig{
			MaxImageBytes:   5 << 20,
			MaxInvoiceBytes: 10 << 20,
		},
	}
}

// LoadFile merges the YAML file at path into c. Unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is only an
// error when required.
func LoadDotEnv(path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("reading env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides c from FILIAL_* variables found by lookup, typically
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("DB", &c.DB)
	str("ADDR", &c.Addr)
	str("LOG", &c.Log)
	str("PUBLIC_URL", &c.PublicURL)
	str("CATALOG_SOURCE", &c.Catalog.Source)
	str("CATALOG_REMOTE_URL", &c.Catalog.RemoteURL)

	if v, ok := lookup(EnvPrefix + "BRANCHES"); ok {
		c.Branches = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "CATALOG_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCATALOG_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Catalog.Timeout = d
	}
	for key, dst := range map[string]*int64{
		"UPLOADS_MAX_IMAGE_BYTES":   &c.Uploads.MaxImageBytes,
		"UPLOADS_MAX_INVOICE_BYTES": &c.Uploads.MaxInvoiceBytes,
	} {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks c for values the server cannot run with.
func (c *Config) Validate() error {
	if c.DB == "" {
		return errors.New("db path is required")
	}
	if c.Addr == "" {
		return errors.New("listen address is required")
	}
	if len(c.Branches) < 2 {
		return errors.New("at least two branches are required")
	}
	seen := make(map[string]bool, len(c.Branches))
	for _, b := range c.Branches {
		if strings.TrimSpace(b) == "" {
			return errors.New("branch id must not be empty")
		}
		if b != strings.TrimSpace(b) {
			return fmt.Errorf("branch id %q has surrounding whitespace", b)
		}
		if seen[b] {
			return fmt.Errorf("duplicate branch %q", b)
		}
		seen[b] = true
	}

	switch c.Catalog.Source {
	case CatalogLocal:
	case CatalogRemote:
		if c.Catalog.RemoteURL == "" {
			return errors.New("catalog.remote_url is required for the remote catalog")
		}
	default:
		return fmt.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	if c.Catalog.Timeout <= 0 {
		return errors.New("catalog.timeout must be positive")
	}
	if c.Uploads.MaxImageBytes <= 0 || c.Uploads.MaxInvoiceBytes <= 0 {
		return errors.New("upload limits must be positive")
	}
	return nil
}

// BranchSet returns the configured branches as a set.
func (c *Config) BranchSet() model.BranchSet {
	return model.NewBranchSet(c.Branches)
}

// Flags are the command-line overrides shared by all subcommands.
type Flags struct {
	fs *pflag.FlagSet

	Config string
	Env    string
	DB     string
	Addr   string
	Log    string
}

// RegisterFlags adds the shared flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.Config, "config", "c", "", "YAML config file")
	fs.StringVar(&f.Env, "env", ".env", "env file with FILIAL_* variables")
	fs.StringVarP(&f.DB, "db", "d", "", "SQLite database path (default: filial.sqlite3)")
	fs.StringVarP(&f.Addr, "addr", "a", "", "listen address (default: :8080)")
	fs.StringVarP(&f.Log, "log", "l", "", "log file path (default: stdout/stderr only)")
	return f
}

// Load builds the configuration from every source and validates it. Call
// it after the flag set was parsed.
func (f *Flags) Load(lookup func(string) (string, bool)) (*Config, error) {
	c := Default()
	if f.Config != "" {
		if err := c.LoadFile(f.Config); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(f.Env, f.fs.Changed("env")); err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if f.fs.Changed("db") {
		c.DB = f.DB
	}
	if f.fs.Changed("addr") {
		c.Addr = f.Addr
	}
	if f.fs.Changed("log") {
		c.Log = f.Log
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}
