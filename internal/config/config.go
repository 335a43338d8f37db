// Package config holds decode configuration: architecture mode, seed
// addresses, and stack pointer identity.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bin2ir/internal/addr"
)

// Config controls a decode run.
type Config struct {
	// Mode is the architecture mode: 32 or 64.
	Mode int `yaml:"mode"`
	// Entry overrides the image entry point when non-zero.
	Entry uint64 `yaml:"entry"`
	// FunctionStarts are user-declared function start addresses.
	FunctionStarts []uint64 `yaml:"function_starts"`
	// StackPointer names the stack pointer register; defaults by mode.
	StackPointer string `yaml:"stack_pointer"`
}

// Default returns a 32-bit configuration.
func Default() *Config {
	return &Config{Mode: 32}
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks mode and fills mode-dependent defaults.
func (c *Config) Validate() error {
	switch c.Mode {
	case 32, 64:
	default:
		return fmt.Errorf("config: unsupported mode %d", c.Mode)
	}
	want := "esp"
	if c.Mode == 64 {
		want = "rsp"
	}
	switch c.StackPointer {
	case "":
		c.StackPointer = want
	case want:
	default:
		return fmt.Errorf("config: stack pointer %q does not match mode %d", c.StackPointer, c.Mode)
	}
	return nil
}

// EntryAddress returns the configured entry override, undefined if unset.
func (c *Config) EntryAddress() addr.Address {
	if c.Entry == 0 {
		return addr.Undef()
	}
	return addr.New(c.Entry)
}
