// Package config provides Viper-based configuration loading for the Telnet
// client CLI.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig holds connection and prompt settings for one session.
type ClientConfig struct {
	// Host is the Telnet server hostname or IP literal.
	Host string `mapstructure:"host"`
	// Port is the TCP port of the Telnet server.
	Port int `mapstructure:"port"`
	// ConnectTimeout bounds the TCP dial. Zero means no bound.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// SocketTimeout is the longest wait for the next byte from the server.
	SocketTimeout time.Duration `mapstructure:"socket_timeout"`
	// FullLineTimeout bounds how long an unterminated line may accumulate.
	FullLineTimeout time.Duration `mapstructure:"full_line_timeout"`
	// Prompt is the regular expression marking command completion.
	Prompt string `mapstructure:"prompt"`
	// LoginPrompt matches the username prompt; empty skips the username phase.
	LoginPrompt string `mapstructure:"login_prompt"`
	// PasswordPrompt matches the password prompt; empty skips the password phase.
	PasswordPrompt string `mapstructure:"password_prompt"`
	// User is the login name sent at the login prompt.
	User string `mapstructure:"user"`
	// Password is sent at the password prompt.
	Password string `mapstructure:"password"`
	// PruneControlSequences strips ANSI sequences from returned lines.
	PruneControlSequences bool `mapstructure:"prune_control_sequences"`
	// DrainRemaining pulls leftover bytes after the prompt matched.
	DrainRemaining bool `mapstructure:"drain_remaining"`
}

// Addr returns the "host:port" dial address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (c ClientConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// ScriptConfig holds session automation settings.
type ScriptConfig struct {
	// Path is a YAML batch script to run against the session.
	Path string `mapstructure:"path"`
	// LuaPath is a Lua expect script to run against the session.
	LuaPath string `mapstructure:"lua_path"`
	// LuaInstructionLimit bounds Lua execution; 0 disables the limit.
	LuaInstructionLimit int `mapstructure:"lua_instruction_limit"`
}

// Config is the top-level application configuration.
type Config struct {
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
	Script  ScriptConfig  `mapstructure:"script"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateClient(c.Client); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateScript(c.Script); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateClient(c ClientConfig) error {
	var errs []string
	if c.Host == "" {
		errs = append(errs, "client.host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("client.port must be 1-65535, got %d", c.Port))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, "client.connect_timeout must not be negative")
	}
	prompts := []struct {
		name string
		expr string
	}{
		{"client.prompt", c.Prompt},
		{"client.login_prompt", c.LoginPrompt},
		{"client.password_prompt", c.PasswordPrompt},
	}
	for _, p := range prompts {
		if p.expr == "" {
			continue
		}
		if _, err := regexp.Compile(p.expr); err != nil {
			errs = append(errs, fmt.Sprintf("%s is not a valid regular expression: %v", p.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateScript(s ScriptConfig) error {
	var errs []string
	if s.Path != "" && s.LuaPath != "" {
		errs = append(errs, "script.path and script.lua_path are mutually exclusive")
	}
	if s.LuaInstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("script.lua_instruction_limit must be >= 0, got %d", s.LuaInstructionLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with TELNET_ prefix
	v.SetEnvPrefix("TELNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
// The CLI uses this after binding its pflag set.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults installs the default value for every configuration key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("client.host", "")
	v.SetDefault("client.port", 23)
	v.SetDefault("client.connect_timeout", "10s")
	v.SetDefault("client.socket_timeout", "10s")
	v.SetDefault("client.full_line_timeout", "2s")
	v.SetDefault("client.prompt", `[$#>] ?$`)
	v.SetDefault("client.login_prompt", "")
	v.SetDefault("client.password_prompt", "")
	v.SetDefault("client.prune_control_sequences", false)
	v.SetDefault("client.drain_remaining", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("script.path", "")
	v.SetDefault("script.lua_path", "")
	v.SetDefault("script.lua_instruction_limit", 0)
}
