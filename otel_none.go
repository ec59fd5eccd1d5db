//go:build !otel

package main

import (
	"errors"
	"log/slog"
)

func init_otel(name string) (func(), error) {
	slog.Info("this binary does not support opentelemetry", "name", name)
	return nil, errors.ErrUnsupported
}
