// Package config loads the settings shared by vkcore programs from a TOML
// or YAML file.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v3"

	"github.com/celer/vkcore/hal"
)

const (
	BackendSoft   = "soft"
	BackendVulkan = "vulkan"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Backend string `toml:"backend" yaml:"backend"`
	Device  Device `toml:"device" yaml:"device"`
	Arena   Arena  `toml:"arena" yaml:"arena"`
	Log     Log    `toml:"log" yaml:"log"`
	Vulkan  Vulkan `toml:"vulkan" yaml:"vulkan"`
	Soft    Soft   `toml:"soft" yaml:"soft"`
}

type Device struct {
	// Index of the physical device; -1 picks the first capable one.
	Index int `toml:"index" yaml:"index"`
	// Queues lists capabilities, one queue each: "graphics", "compute",
	// "transfer", or a "+" separated combination.
	Queues []string `toml:"queues" yaml:"queues"`
}

type Arena struct {
	BlockSize uint64 `toml:"block_size" yaml:"block_size"`
}

type Log struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type Vulkan struct {
	Validation bool     `toml:"validation" yaml:"validation"`
	Layers     []string `toml:"layers" yaml:"layers"`
	Extensions []string `toml:"extensions" yaml:"extensions"`
}

type Soft struct {
	Workers    int    `toml:"workers" yaml:"workers"`
	DeviceHeap uint64 `toml:"device_heap" yaml:"device_heap"`
	HostHeap   uint64 `toml:"host_heap" yaml:"host_heap"`
}

func Default() *Config {
	return &Config{
		Backend: BackendSoft,
		Device:  Device{Index: -1, Queues: []string{"graphics+compute"}},
		Arena:   Arena{BlockSize: 64 << 20},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// DefaultPath is ~/.vkcore.toml.
func DefaultPath() (string, error) {
	return homedir.Expand("~/.vkcore.toml")
}

// Load reads path over the defaults. The format follows the extension:
// .toml, or .yaml/.yml. A leading ~ is expanded.
func Load(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "expand config path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(c)
	default:
		return nil, errors.Wrapf(ErrInvalid, "unknown config format %q", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return c, c.Validate()
}

// LoadOrDefault loads path, or the default path when path is empty. A
// missing default file is not an error.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	def, err := DefaultPath()
	if err != nil {
		return Default(), nil
	}
	if _, err := os.Stat(def); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(def)
}

// QueueFlags parses Device.Queues.
func (d Device) QueueFlags() ([]hal.QueueFlags, error) {
	ret := make([]hal.QueueFlags, len(d.Queues))
	for i, q := range d.Queues {
		f, err := ParseQueue(q)
		if err != nil {
			return nil, err
		}
		ret[i] = f
	}
	return ret, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSoft, BackendVulkan:
	default:
		return errors.Wrapf(ErrInvalid, "unknown backend %q", c.Backend)
	}
	if c.Device.Index < -1 {
		return errors.Wrapf(ErrInvalid, "device index %d", c.Device.Index)
	}
	if _, err := c.Device.QueueFlags(); err != nil {
		return err
	}
	if c.Arena.BlockSize != 0 && c.Arena.BlockSize < 1<<16 {
		return errors.Wrapf(ErrInvalid, "arena block size %d below 64KiB", c.Arena.BlockSize)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.Wrapf(ErrInvalid, "log format %q", c.Log.Format)
	}
	if c.Soft.Workers < 0 {
		return errors.Wrapf(ErrInvalid, "soft workers %d", c.Soft.Workers)
	}
	return nil
}

// ParseQueue turns "graphics+compute" into queue flags.
func ParseQueue(s string) (hal.QueueFlags, error) {
	var flags hal.QueueFlags
	for _, part := range strings.Split(s, "+") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "graphics":
			flags |= hal.QueueGraphics
		case "compute":
			flags |= hal.QueueCompute
		case "transfer":
			flags |= hal.QueueTransfer
		default:
			return 0, errors.Wrapf(ErrInvalid, "queue capability %q", part)
		}
	}
	return flags, nil
}

func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, errors.Wrapf(ErrInvalid, "log level %q", l.Level)
	}
	return lvl, nil
}

// Logger builds the slog logger the config describes.
func (l Log) Logger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
