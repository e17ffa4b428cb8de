package main

import (
	"log/slog"
	"os"

	"github.com/raventid/go-pupa-server/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "pupa-server")
	logging.Set(l)
	return l
}
