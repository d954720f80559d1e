// Package config parses and validates this server's startup
// configuration: flags parsed in the style of flag.*Var calls, with
// env var overrides and struct-tag validation layered on top.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Config is this server's full startup configuration.
type Config struct {
	PortBase   uint16 `validate:"gte=1024,lte=65532"`
	MaxDebug   int    `validate:"eq=4"`
	PacketSize int    `validate:"gte=64,lte=16384"`
	LogLevel   string `validate:"oneof=trace debug info warn error"`
	MetricsAddr string `validate:"omitempty,hostname_port"`
}

// Default mirrors the fixed bounds internal/gdb.limits.go already
// assumes (MaxDebug=4, DefaultPortBase=4000, DefaultPacketSize=4000);
// config only re-validates them, it doesn't redefine them, so the two
// can never drift silently.
func Default() Config {
	return Config{
		PortBase:    4000,
		MaxDebug:    4,
		PacketSize:  4000,
		LogLevel:    "info",
		MetricsAddr: "127.0.0.1:9273",
	}
}

// Parse lays flags over env-var overrides over defaults (flags win
// over env, env wins over defaults), then validates the result with
// go-playground/validator.
func Parse(args []string) (Config, error) {
	cfg := Default()
	applyEnvOverrides(&cfg)

	fs := flag.NewFlagSet("gdbserver", flag.ContinueOnError)
	fs.Var(uint16Value{&cfg.PortBase}, "port-base", "first of the four bound GDB RSP ports")
	fs.IntVar(&cfg.PacketSize, "packet-size", cfg.PacketSize, "PacketSize advertised in qSupported")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn, error")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address for the /metrics HTTP endpoint, empty to disable")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GDB_PORT_BASE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.PortBase = uint16(n)
		}
	}
	if v := os.Getenv("GDB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GDB_MAX_DEBUG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxDebug = n
		}
	}
}

// uint16Value adapts a *uint16 to flag.Value, since the standard flag
// package has no native uint16 variant.
type uint16Value struct{ p *uint16 }

func (v uint16Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.Itoa(int(*v.p))
}

func (v uint16Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return err
	}
	*v.p = uint16(n)
	return nil
}
