package main

import (
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/wtnb75/tinyhttpd/internal/logging"
)

var globalOption struct {
	Verbose bool `short:"v" long:"verbose" description:"show verbose logs"`
	Quiet   bool `short:"q" long:"quiet" description:"suppress logs"`
	Trace   bool `long:"trace" description:"show trace logs"`
}

var parser = flags.NewParser(&globalOption, flags.Default)

// globalLevel returns the level chosen by the global flags, if any.
func globalLevel() (slog.Level, bool) {
	switch {
	case globalOption.Trace:
		return logging.LevelTrace, true
	case globalOption.Verbose:
		return logging.LevelDebug, true
	case globalOption.Quiet:
		return logging.LevelWarn, true
	}
	return logging.LevelInfo, false
}

func init_log() {
	level, _ := globalLevel()
	slog.SetLogLoggerLevel(level)
}

// explicitlySet reports whether a long option of the named command was given
// on the command line or through its environment variable.
func explicitlySet(command string) func(long string) bool {
	return func(long string) bool {
		cmd := parser.Find(command)
		if cmd == nil {
			return false
		}
		opt := cmd.FindOptionByLongName(long)
		if opt == nil {
			return false
		}
		if opt.EnvDefaultKey != "" {
			if _, ok := os.LookupEnv(opt.EnvDefaultKey); ok {
				return true
			}
		}
		return opt.IsSet() && !opt.IsSetDefault()
	}
}

func main() {
	var err error
	var serve ServeCmd
	var get GetCmd
	var versioncmd VersionCmd
	_, err = parser.AddCommand("serve", "boot file server", "serve files under the root directory", &serve)
	if err != nil {
		slog.Error("addcommand serve", "error", err)
		panic(err)
	}
	_, err = parser.AddCommand("get", "fetch a path", "send one request and save the response body", &get)
	if err != nil {
		slog.Error("addcommand get", "error", err)
		panic(err)
	}
	_, err = parser.AddCommand("version", "show version", "show version", &versioncmd)
	if err != nil {
		slog.Error("addcommand version", "error", err)
		panic(err)
	}
	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		slog.Error("error exit", "error", err)
		os.Exit(1)
	}
}
