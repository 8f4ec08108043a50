// Package config defines the shape of pipeline configuration. Flag parsing
// and the command-line entry point are out of scope for this core; this
// package only defines what a front-end would bind pflag.FlagSet values
// into.
package config

import "github.com/spf13/pflag"

// Config carries the knobs the pipeline driver's Compile entry point needs
// beyond the WAT AST itself.
type Config struct {
	// Target selects the ISA by its canonical name (x86_64, x86_32, x86_16,
	// aarch64, armv7); resolved to isa.Target by the driver.
	Target string
	// Container selects the binary container by name (flat, pe).
	Container string
	// ImageBaseOverride, when non-zero, replaces the container's default
	// image base.
	ImageBaseOverride uint64
	// Verbose raises the log package's level to Debug.
	Verbose bool
}

// Default returns the baseline configuration: x86-64 target, flat
// container, no image-base override.
func Default() Config {
	return Config{
		Target:    "x86_64",
		Container: "flat",
	}
}

// BindFlags registers Config's fields onto fs, for a front-end to call
// before parsing os.Args. The core never calls this itself.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Target, "target", c.Target, "target ISA: x86_64, x86_32, x86_16, aarch64, armv7")
	fs.StringVar(&c.Container, "container", c.Container, "container: flat, pe")
	fs.Uint64Var(&c.ImageBaseOverride, "image-base", c.ImageBaseOverride, "override the container's default image base (0 = use target default)")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "enable debug logging")
}
