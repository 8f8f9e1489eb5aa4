package config

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/function61/gokit/logex"

	"github.com/radiocosmology/alpenhorn/pkg/logtee"
)

// Logging bundles the root logger every component derives its leveled,
// prefixed logger from (via logex.Prefix + logex.Levels), plus a tail of
// the last configured number of lines for a status surface, matching the
// composition stoserver's entrypoint builds around logtee.
type Logging struct {
	Root *log.Logger
	Tail *logtee.StringTail
}

// NewLogging opens every configured destination (files are appended to,
// created if absent) and multiplexes writes to all of them plus the tail.
func NewLogging(c *Config) (*Logging, error) {
	tail := logtee.NewStringTail(c.Log.TailLines)

	writers := make([]io.Writer, 0, len(c.Log.Destinations))
	for _, dest := range c.Log.Destinations {
		if dest == "stderr" || dest == "" {
			writers = append(writers, os.Stderr)
			continue
		}
		f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("config: open log destination %s: %w", dest, err)
		}
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	sink := io.MultiWriter(writers...)

	root := logex.StandardLoggerTo(logtee.NewLineSplitterTee(sink, func(line string) {
		tail.Write(line)
	}))

	return &Logging{Root: root, Tail: tail}, nil
}

// For returns a leveled logger prefixed with component, the shape every
// C1-C10 component receives at construction (matching the corpus's
// `logex.Levels(logex.Prefix(name, rootLogger))` idiom).
func (l *Logging) For(component string) *logex.Leveled {
	return logex.Levels(logex.Prefix(component, l.Root))
}
