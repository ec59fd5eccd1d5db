package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/schollz/progressbar/v3"
	"github.com/wtnb75/tinyhttpd/internal/client"
)

type GetCmd struct {
	Addr     string         `short:"a" long:"addr" description:"server host:port" default:"127.0.0.1:8080"`
	Output   flags.Filename `short:"o" long:"output" description:"output file, stdout if omitted"`
	Progress bool           `long:"progress" description:"show progress bar"`
	Timeout  time.Duration  `long:"timeout" description:"give up after" default:"30s"`
}

func (cmd *GetCmd) Execute(args []string) (err error) {
	init_log()
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()
	res, err := client.Get(ctx, cmd.Addr, path)
	if err != nil {
		slog.Error("request failed", "addr", cmd.Addr, "path", path, "error", err)
		return err
	}
	defer res.Close()
	slog.Debug("response", "status", res.Status, "type", res.ContentType, "length", res.ContentLength)
	if res.Status != 200 {
		slog.Error("unexpected status", "path", path, "status", res.Status, "reason", res.Reason)
		return fmt.Errorf("%s: %d %s", path, res.Status, res.Reason)
	}

	var out io.Writer = os.Stdout
	if cmd.Output != "" {
		ofp, err := os.Create(string(cmd.Output))
		if err != nil {
			slog.Error("create output", "file", cmd.Output, "error", err)
			return err
		}
		defer func() {
			if cerr := ofp.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out = ofp
	}
	if cmd.Progress {
		bar := progressbar.DefaultBytes(res.ContentLength, path)
		defer bar.Close()
		out = io.MultiWriter(out, bar)
	}
	written, err := io.Copy(out, res.Body)
	if err != nil {
		slog.Error("copy error", "error", err, "written", written)
		return err
	}
	if res.ContentLength >= 0 && written != res.ContentLength {
		slog.Error("short body", "written", written, "length", res.ContentLength)
		return io.ErrUnexpectedEOF
	}
	slog.Debug("copy success", "written", written)
	return nil
}
