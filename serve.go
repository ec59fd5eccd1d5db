package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/wtnb75/tinyhttpd/internal/config"
	"github.com/wtnb75/tinyhttpd/internal/logging"
	"github.com/wtnb75/tinyhttpd/internal/server"
	"github.com/wtnb75/tinyhttpd/internal/shutdown"
)

type ServeCmd struct {
	Port          int            `short:"p" long:"port" description:"listen port, 0 picks a free one" default:"0" env:"TINYHTTPD_PORT"`
	BufferSize    int            `short:"b" long:"buffer-size" description:"receive buffer and file chunk size" default:"1024"`
	LogLevel      string         `short:"l" long:"log-level" description:"minimum log level, name or 0-5" default:"info"`
	Backlog       int            `short:"c" long:"backlog" description:"listen backlog" default:"5"`
	MaxClients    int            `short:"m" long:"max-clients" description:"connections handled at once" default:"10"`
	LogFile       flags.Filename `short:"f" long:"log-file" description:"log file" default:"server.log"`
	Root          flags.Filename `short:"r" long:"root" description:"document root" default:"data" env:"TINYHTTPD_ROOT"`
	Favicon       string         `long:"favicon" description:"file served for /favicon.ico" default:"favicon.ico"`
	Landing       string         `long:"landing" description:"file served for /" default:"index.html"`
	NoListing     bool           `long:"no-listing" description:"serve the landing file as is instead of a generated index"`
	ReadTimeout   time.Duration  `long:"read-timeout" description:"request read timeout, 0 waits forever" default:"0s"`
	GracePeriod   time.Duration  `long:"grace-period" description:"wait for in-flight connections on stop" default:"5s"`
	Config        flags.Filename `long:"config" description:"config file (.toml, .yaml)"`
	OpenTelemetry bool           `long:"opentelemetry" description:"otel trace setup"`
}

// config assembles the settings: defaults, then the config file, then the
// options given explicitly.
func (cmd *ServeCmd) config(isSet func(long string) bool) (config.Config, error) {
	cfg := config.Default()
	apply := func(long string) bool { return true }
	if cmd.Config != "" {
		if err := config.Load(string(cmd.Config), &cfg); err != nil {
			return cfg, err
		}
		apply = isSet
	}
	if apply("port") {
		cfg.Port = cmd.Port
	}
	if apply("buffer-size") {
		cfg.BufferSize = cmd.BufferSize
	}
	if apply("log-level") {
		cfg.LogLevel = cmd.LogLevel
	}
	if apply("backlog") {
		cfg.Backlog = cmd.Backlog
	}
	if apply("max-clients") {
		cfg.MaxClients = cmd.MaxClients
	}
	if apply("log-file") {
		cfg.LogFile = string(cmd.LogFile)
	}
	if apply("root") {
		cfg.RootDir = string(cmd.Root)
	}
	if apply("favicon") {
		cfg.Favicon = cmd.Favicon
	}
	if apply("landing") {
		cfg.LandingPage = cmd.Landing
	}
	if apply("no-listing") {
		cfg.GenerateListing = !cmd.NoListing
	}
	if apply("read-timeout") {
		cfg.ReadTimeout = cmd.ReadTimeout
	}
	if apply("grace-period") {
		cfg.GracePeriod = cmd.GracePeriod
	}
	if level, ok := globalLevel(); ok {
		cfg.LogLevel = logging.LevelName(level)
	}
	return cfg, nil
}

func (cmd *ServeCmd) Execute(args []string) (err error) {
	init_log()
	cfg, err := cmd.config(explicitlySet("serve"))
	if err != nil {
		slog.Error("config", "error", err)
		return err
	}
	if err = cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	flag, err := shutdown.New()
	if err != nil {
		slog.Error("shutdown flag", "error", err)
		return err
	}
	defer flag.Close()
	stopSignals := shutdown.Notify(flag)
	defer stopSignals()

	srv, stopOtel, err := cmd.boot(cfg, flag)
	if err != nil {
		return err
	}
	defer stopOtel()
	if err = srv.Run(); err != nil {
		slog.Error("event loop", "error", err)
	}
	return exitStatus(srv.Stop())
}

// boot starts the server and only then routes the default logger into the
// log sink, since a line logged before the sink opens its file disables the
// file for good.
func (cmd *ServeCmd) boot(cfg config.Config, flag *shutdown.Flag) (*server.Server, func(), error) {
	sink := logging.New(cfg.LogFile, cfg.Level())
	srv := server.New(cfg, sink.Logger(), sink, flag)
	if err := srv.Start(); err != nil {
		if serr := srv.Stop(); serr != nil {
			slog.Debug("cleanup after failed start", "error", serr)
		}
		return nil, nil, err
	}
	slog.SetDefault(sink.Logger())

	stop := func() {}
	if cmd.OpenTelemetry {
		if s, err := init_otel("tinyhttpd"); err != nil {
			slog.Warn("opentelemetry initialize failed", "error", err)
		} else {
			stop = s
		}
	}
	return srv, stop, nil
}

// exitStatus turns the result of Stop into the command result. Only a
// server that was still running when asked to stop exits cleanly.
func exitStatus(stopErr error) error {
	if errors.Is(stopErr, server.ErrNotRunning) || errors.Is(stopErr, server.ErrNotStarted) {
		return fmt.Errorf("server did not shut down from running state: %w", stopErr)
	}
	if stopErr != nil {
		slog.Warn("cleanup incomplete", "error", stopErr)
	}
	return nil
}
