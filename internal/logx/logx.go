// Package logx builds the scheduler's zerolog logger, following the
// option-pattern construction crochee-template's pkg/logger uses for its
// zerolog wrapper.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type option struct {
	level       string
	writer      io.Writer
	serviceName string
}

type Option func(*option)

func WithLevel(level string) Option {
	return func(o *option) { o.level = level }
}

func WithWriter(w io.Writer) Option {
	return func(o *option) { o.writer = w }
}

func WithServiceName(name string) Option {
	return func(o *option) { o.serviceName = name }
}

// New builds a zerolog.Logger with a service_name field, RFC3339Nano
// timestamps, and caller info, defaulting to info level and stdout.
func New(opts ...Option) zerolog.Logger {
	opt := &option{
		level:       zerolog.InfoLevel.String(),
		writer:      os.Stdout,
		serviceName: "schedulerd",
	}
	for _, o := range opts {
		o(opt)
	}

	level, err := zerolog.ParseLevel(opt.level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(opt.writer).
		Level(level).
		With().
		Str("service_name", opt.serviceName).
		Timestamp().
		Caller().
		Logger()
}
