// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog.Logger used by tagbus binaries.
//
// Records fan out to a terminal handler on stderr and to the systemd
// journal. The terminal handler is dropped when the process runs inside
// a systemd service unit (the journal already captures stderr there)
// and is useless once a daemon has detached from its terminal. Journal
// field names are upper-cased to the journal's key alphabet.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Journal modes.
const (
	JournalAuto = "auto"
	JournalOn   = "on"
	JournalOff  = "off"
)

// Options configures New. The zero value logs text at info level to
// stderr and to the journal when one is reachable.
type Options struct {
	// Format is "text" (default) or "json".
	Format string

	// Level is "debug", "info" (default), "warn" or "error".
	Level string

	// Journal is JournalAuto (default), JournalOn or JournalOff. With
	// JournalOn a missing journal is an error.
	Journal string

	// Terminal forces the terminal handler on or off. Nil means on
	// unless running as a systemd service.
	Terminal *bool

	// Writer replaces stderr for the terminal handler.
	Writer io.Writer
}

// New builds a logger from options.
func New(options Options) (*slog.Logger, error) {
	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, err
	}
	writer := options.Writer
	if writer == nil {
		writer = os.Stderr
	}

	terminal := !isSystemdService()
	if options.Terminal != nil {
		terminal = *options.Terminal
	}

	var handlers []slog.Handler
	var terminalHandler slog.Handler
	if terminal {
		handlerOptions := &slog.HandlerOptions{Level: level}
		switch options.Format {
		case "", "text":
			terminalHandler = slog.NewTextHandler(writer, handlerOptions)
		case "json":
			terminalHandler = slog.NewJSONHandler(writer, handlerOptions)
		default:
			return nil, fmt.Errorf("unknown log format %q (want text or json)", options.Format)
		}
		handlers = append(handlers, terminalHandler)
	}

	var journalErr error
	switch options.Journal {
	case "", JournalAuto, JournalOn:
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			if options.Journal == JournalOn {
				return nil, fmt.Errorf("connecting to the systemd journal: %w", err)
			}
			journalErr = err
		} else {
			handlers = append(handlers, journalHandler)
		}
	case JournalOff:
	default:
		return nil, fmt.Errorf("unknown journal mode %q (want auto, on or off)", options.Journal)
	}

	logger := slog.New(&levelHandler{level: level, Handler: slogmulti.Fanout(handlers...)})
	if journalErr != nil {
		logger.Debug("systemd journal unavailable", "error", journalErr)
	}
	return logger, nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// levelHandler applies one minimum level in front of every fanned-out
// handler.
type levelHandler struct {
	level slog.Level
	slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, Handler: h.Handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, Handler: h.Handler.WithGroup(name)}
}

func toJournalKey(key string) string {
	key = strings.ToUpper(key)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, key)
}

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	return inServiceUnit(string(content))
}

// inServiceUnit reports whether a /proc/self/cgroup listing places the
// process in a systemd .service unit.
func inServiceUnit(cgroup string) bool {
	for _, line := range strings.Split(strings.TrimSpace(cgroup), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			continue
		}
		unit := parts[2]
		if strings.HasSuffix(unit, ".service") || strings.HasSuffix(path.Dir(unit), ".service") {
			return true
		}
	}
	return false
}
