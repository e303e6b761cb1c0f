// Package config persists the signature options between runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"sigmaker/internal/pattern"
)

// Keys of the persisted options.
const (
	KeyFormat          = "signature.format"
	KeyWildcard        = "signature.wildcard"
	KeyUnique          = "signature.unique"
	KeyClipboard       = "signature.clipboard"
	KeyMaxInstructions = "scan.max_instructions"
	KeyMaxBytes        = "scan.max_bytes"
)

// Keys lists every persisted key in display order.
var Keys = []string{
	KeyFormat,
	KeyWildcard,
	KeyUnique,
	KeyClipboard,
	KeyMaxInstructions,
	KeyMaxBytes,
}

var defaults = map[string]any{
	KeyFormat:          pattern.FormatRaw.String(),
	KeyWildcard:        FormatWildcard(pattern.DefaultWildcard),
	KeyUnique:          false,
	KeyClipboard:       false,
	KeyMaxInstructions: 256,
	KeyMaxBytes:        1024,
}

type signature struct {
	Format    string `mapstructure:"format" json:"format" jsonschema:"title=Format,description=Signature notation,enum=raw,enum=c,enum=pattern,enum=custom,default=raw"`
	Wildcard  string `mapstructure:"wildcard" json:"wildcard" jsonschema:"title=Wildcard,description=Hex byte used for masked positions by the custom format,pattern=^[0-9A-Fa-f][0-9A-Fa-f]?$,default=DD"`
	Unique    bool   `mapstructure:"unique" json:"unique" jsonschema:"title=Unique,description=Require the signature to match only once in the whole image"`
	Clipboard bool   `mapstructure:"clipboard" json:"clipboard" jsonschema:"title=Clipboard,description=Copy the signature to the clipboard"`
}

type scan struct {
	MaxInstructions int `mapstructure:"max_instructions" json:"max_instructions" jsonschema:"title=Max Instructions,description=Give up after this many instructions (0 disables the cap),minimum=0,default=256"`
	MaxBytes        int `mapstructure:"max_bytes" json:"max_bytes" jsonschema:"title=Max Bytes,description=Give up once the signature is this long (0 disables the cap),minimum=0,default=1024"`
}

// File is the on-disk layout of the configuration file.
type File struct {
	Signature signature `mapstructure:"signature" json:"signature"`
	Scan      scan      `mapstructure:"scan" json:"scan"`
}

// Options are the typed, validated settings.
type Options struct {
	Format          pattern.Format
	Wildcard        byte
	Unique          bool
	Clipboard       bool
	MaxInstructions int
	MaxBytes        int
}

// Config is a loaded configuration file.
type Config struct {
	v    *viper.Viper
	path string
}

// DefaultPath returns $XDG_CONFIG_HOME/sigmaker/config.yaml or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user config directory: %v", err)
	}
	return filepath.Join(dir, "sigmaker", "config.yaml"), nil
}

// Load reads the configuration at path, or DefaultPath when path is empty.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("sigmaker")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: failed to read %s: %v", path, err)
		}
	}

	return &Config{v: v, path: path}, nil
}

// Path returns the file the configuration is read from and saved to.
func (c *Config) Path() string {
	return c.path
}

// File returns the raw settings.
func (c *Config) File() (File, error) {
	var f File
	if err := c.v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	return f, nil
}

// Options returns the validated settings.
func (c *Config) Options() (Options, error) {
	f, err := c.File()
	if err != nil {
		return Options{}, err
	}
	return f.verify()
}

func (f File) verify() (Options, error) {
	format, err := pattern.ParseFormat(f.Signature.Format)
	if err != nil {
		return Options{}, fmt.Errorf("config: %s: %v", KeyFormat, err)
	}
	wildcard, err := ParseWildcard(f.Signature.Wildcard)
	if err != nil {
		return Options{}, fmt.Errorf("config: %s: %v", KeyWildcard, err)
	}
	if f.Scan.MaxInstructions < 0 {
		return Options{}, fmt.Errorf("config: %s must not be negative", KeyMaxInstructions)
	}
	if f.Scan.MaxBytes < 0 {
		return Options{}, fmt.Errorf("config: %s must not be negative", KeyMaxBytes)
	}
	return Options{
		Format:          format,
		Wildcard:        wildcard,
		Unique:          f.Signature.Unique,
		Clipboard:       f.Signature.Clipboard,
		MaxInstructions: f.Scan.MaxInstructions,
		MaxBytes:        f.Scan.MaxBytes,
	}, nil
}

// SetOptions stores o. It is written to disk by Save.
func (c *Config) SetOptions(o Options) {
	c.v.Set(KeyFormat, o.Format.String())
	c.v.Set(KeyWildcard, FormatWildcard(o.Wildcard))
	c.v.Set(KeyUnique, o.Unique)
	c.v.Set(KeyClipboard, o.Clipboard)
	c.v.Set(KeyMaxInstructions, o.MaxInstructions)
	c.v.Set(KeyMaxBytes, o.MaxBytes)
}

// Reset restores every key to its default.
func (c *Config) Reset() {
	for k, d := range defaults {
		c.v.Set(k, d)
	}
}

// Get returns the current value of key as a string.
func (c *Config) Get(key string) string {
	return c.v.GetString(key)
}

// Save writes the configuration file, creating its directory if needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("config: failed to create directory: %v", err)
	}
	if err := c.v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("config: failed to write %s: %v", c.path, err)
	}
	return nil
}

// ParseWildcard parses a wildcard byte written as "DD", "0xDD" or "\xDD".
func ParseWildcard(s string) (byte, error) {
	t := strings.TrimSpace(s)
	for _, p := range []string{"0x", "0X", `\x`, `\X`} {
		t = strings.TrimPrefix(t, p)
	}
	if t == "" || len(t) > 2 {
		return 0, fmt.Errorf("invalid wildcard byte %q", s)
	}
	v, err := strconv.ParseUint(t, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid wildcard byte %q", s)
	}
	return byte(v), nil
}

// FormatWildcard renders b the way it is persisted.
func FormatWildcard(b byte) string {
	return fmt.Sprintf("%02X", b)
}
