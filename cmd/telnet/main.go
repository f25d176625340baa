// Package main provides the command-line Telnet client. It connects to a
// server, optionally logs in, then runs commands from flags or a session
// script and prints the returned output.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/diotteo/telnetclient/internal/config"
	"github.com/diotteo/telnetclient/internal/observability"
	"github.com/diotteo/telnetclient/internal/runner"
	"github.com/diotteo/telnetclient/internal/script"
	"github.com/diotteo/telnetclient/pkg/telnet"
)

func main() {
	flags := pflag.NewFlagSet("telnet", pflag.ContinueOnError)
	flags.SortFlags = false

	flags.StringP("host", "H", "", "Telnet server hostname or IP")
	flags.IntP("port", "P", 23, "Telnet server port")
	flags.StringP("user", "u", "", "login username")
	flags.StringP("pass", "p", "", "login password (prompted when --user is set and this is not)")
	cmds := flags.StringArrayP("cmd", "c", nil, "command to execute (repeatable)")
	flags.String("prompt", "", "prompt regular expression")
	flags.String("login-prompt", "", "username prompt regular expression")
	flags.String("password-prompt", "", "password prompt regular expression")
	flags.Bool("prune-ctrl-seq", false, "strip ANSI control sequences from output")
	flags.Bool("drain", false, "drain remaining bytes after the prompt matched")
	flags.Duration("connect-timeout", 10*time.Second, "TCP connect timeout")
	flags.Duration("socket-timeout", 10*time.Second, "per-byte read timeout (0 = unbounded)")
	flags.Duration("full-line-timeout", 2*time.Second, "per-line assembly timeout (0 = unbounded)")
	configFile := flags.String("config", "", "path to a YAML configuration file")
	flags.String("script", "", "YAML batch script to run")
	flags.String("lua-script", "", "Lua expect script to run")
	debug := flags.BoolP("debug", "d", false, "enable debug logging")
	verbosity := flags.CountP("verbosity", "v", "increase log verbosity")
	help := flags.BoolP("help", "h", false, "show usage")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: telnet [flags]\n\n%s", flags.FlagUsages())
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		flags.Usage()
		os.Exit(1)
	}
	if *help {
		flags.Usage()
		os.Exit(0)
	}

	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix("TELNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			log.Fatalf("reading config file: %v", err)
		}
	}

	bindings := map[string]string{
		"client.host":                    "host",
		"client.port":                    "port",
		"client.user":                    "user",
		"client.password":                "pass",
		"client.prompt":                  "prompt",
		"client.login_prompt":            "login-prompt",
		"client.password_prompt":         "password-prompt",
		"client.prune_control_sequences": "prune-ctrl-seq",
		"client.drain_remaining":         "drain",
		"client.connect_timeout":         "connect-timeout",
		"client.socket_timeout":          "socket-timeout",
		"client.full_line_timeout":       "full-line-timeout",
		"script.path":                    "script",
		"script.lua_path":                "lua-script",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatalf("binding flag %s: %v", name, err)
		}
	}

	cfg, err := config.LoadFromViper(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telnet: %v\n", err)
		flags.Usage()
		os.Exit(1)
	}
	cfg.Logging = observability.Escalate(cfg.Logging, *debug, *verbosity)

	logger, err := observability.Build(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	// Interactive password entry when a user is given without a password.
	if cfg.Client.User != "" && cfg.Client.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Password: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			logger.Fatal("reading password", zap.Error(err))
		}
		cfg.Client.Password = string(secret)
	}

	client, err := telnet.New(telnet.Config{
		Host:                  cfg.Client.Host,
		Port:                  cfg.Client.Port,
		ConnectTimeout:        cfg.Client.ConnectTimeout,
		SocketTimeout:         boundedOrNone(cfg.Client.SocketTimeout),
		FullLineTimeout:       boundedOrNone(cfg.Client.FullLineTimeout),
		Prompt:                cfg.Client.Prompt,
		PruneControlSequences: cfg.Client.PruneControlSequences,
		DrainRemaining:        cfg.Client.DrainRemaining,
		Logger:                logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "telnet: %v\n", err)
		os.Exit(1)
	}

	run := runner.New(logger)
	run.Add("session", &runner.FuncService{
		StartFn: func() error {
			return runSession(client, cfg, *cmds, logger)
		},
		StopFn: func() {
			if err := client.Disconnect(); err != nil {
				logger.Warn("disconnecting", zap.Error(err))
			}
		},
	})

	if err := run.Run(context.Background()); err != nil {
		logger.Error("session failed", zap.Error(err))
		os.Exit(1)
	}
}

// boundedOrNone maps the CLI convention (0 = unbounded) onto the library
// sentinel.
func boundedOrNone(d time.Duration) time.Duration {
	if d <= 0 {
		return telnet.NoTimeout
	}
	return d
}

// runSession connects, logs in when credentials are configured, and executes
// the requested commands or script.
func runSession(client *telnet.Client, cfg config.Config, cmds []string, logger *zap.Logger) error {
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Disconnect()

	if cfg.Client.User != "" || cfg.Client.LoginPrompt != "" {
		err := client.Login(
			cfg.Client.User,
			cfg.Client.Password,
			cfg.Client.LoginPrompt,
			cfg.Client.PasswordPrompt,
		)
		if err != nil {
			return err
		}
		logger.Debug("logged in", zap.String("user", cfg.Client.User))
	}

	switch {
	case cfg.Script.Path != "":
		s, err := script.Load(cfg.Script.Path)
		if err != nil {
			return err
		}
		return s.Run(client, os.Stdout, logger)
	case cfg.Script.LuaPath != "":
		engine := script.NewEngine(client, os.Stdout, logger, cfg.Script.LuaInstructionLimit)
		return engine.RunFile(cfg.Script.LuaPath)
	default:
		for _, cmd := range cmds {
			lines, err := client.Exec(cmd)
			for _, line := range lines {
				fmt.Println(line)
			}
			if err != nil {
				return fmt.Errorf("executing %q: %w", cmd, err)
			}
		}
		return nil
	}
}
