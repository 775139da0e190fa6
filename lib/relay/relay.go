// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/readiness"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// Entry is one relayed tag: its stream index, registry info and the
// record read when the session opened.
type Entry struct {
	Stream  int
	Info    tag.Info
	Initial tag.Record
}

// Session holds open handles on every relayed tag.
type Session struct {
	entries []Entry
	handles []tag.Handle
}

// Open resolves names against dir and opens a handle on each. With
// all set, every registered tag is relayed in registry order and names
// is ignored. Otherwise names are relayed in the given order,
// duplicates dropped; an unknown name is an error wrapping
// tag.ErrNotFound.
func Open(ctx context.Context, dir tag.Directory, names []string, all bool) (*Session, error) {
	infos, err := dir.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	var selected []tag.Info
	if all {
		selected = infos
	} else {
		byName := make(map[string]tag.Info, len(infos))
		for _, info := range infos {
			byName[info.Name] = info
		}
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			info, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("tag %s: %w", name, tag.ErrNotFound)
			}
			selected = append(selected, info)
		}
	}

	session := &Session{}
	for _, info := range selected {
		handle, err := dir.Open(ctx, info.Name)
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("opening %s: %w", info.Name, err)
		}
		session.handles = append(session.handles, handle)

		// The cursor starts behind the stored record, so this returns
		// the current value without waiting.
		record, err := handle.Read(ctx)
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("reading %s: %w", info.Name, err)
		}
		session.entries = append(session.entries, Entry{
			Stream:  len(session.entries),
			Info:    info,
			Initial: record,
		})
	}
	return session, nil
}

// Entries returns the relayed tags in stream order.
func (s *Session) Entries() []Entry { return s.entries }

// Follow waits for changes and calls emit with the stream index and
// the new record of every tag that changed, until ctx ends or a read
// fails. It returns ctx.Err() on cancellation.
func (s *Session) Follow(ctx context.Context, clk clock.Clock, emit func(stream int, record tag.Record) error) error {
	if len(s.handles) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	sources := make([]readiness.Source, len(s.handles))
	for i, handle := range s.handles {
		sources[i] = handle
	}

	for {
		ready, err := readiness.Wait(ctx, clk, 0, sources)
		if err != nil {
			return err
		}
		for _, i := range ready {
			record, err := s.handles[i].TryRead()
			if errors.Is(err, tag.ErrWouldBlock) {
				continue
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.entries[i].Info.Name, err)
			}
			if err := emit(i, record); err != nil {
				return err
			}
		}
	}
}

// Close closes every handle.
func (s *Session) Close() error {
	var errs []error
	for _, handle := range s.handles {
		if err := handle.Close(); err != nil && !errors.Is(err, tag.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.handles = nil
	return errors.Join(errs...)
}

// AnnounceLine formats a header line.
func AnnounceLine(entry Entry) string {
	return fmt.Sprintf("a %d %s %d", entry.Stream, entry.Info.Name, uint8(entry.Info.DType))
}

// IndexLine formats an index-addressed record line.
func IndexLine(stream int, record tag.Record) string {
	return fmt.Sprintf("i %d %s", stream, tag.FormatPartial(record))
}

// NameLine formats a name-addressed record line.
func NameLine(name string, record tag.Record) string {
	return fmt.Sprintf("n %s %s", name, tag.FormatPartial(record))
}

// Options configures Run.
type Options struct {
	// All relays every registered tag.
	All bool

	// ByName writes name-addressed lines.
	ByName bool

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Run writes a relay stream of names (or every tag) to w until ctx
// ends. Cancellation is a clean stop and returns nil.
func Run(ctx context.Context, dir tag.Directory, names []string, w io.Writer, options Options) error {
	if !options.All && len(names) == 0 {
		return errors.New("relay: no tags requested")
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	session, err := Open(ctx, dir, names, options.All)
	if err != nil {
		return err
	}
	defer session.Close()

	writer := &lineWriter{w: w}
	for _, entry := range session.Entries() {
		writer.line(AnnounceLine(entry))
	}
	writer.line("")

	entries := session.Entries()
	format := func(stream int, record tag.Record) string {
		if options.ByName {
			return NameLine(entries[stream].Info.Name, record)
		}
		return IndexLine(stream, record)
	}
	for _, entry := range entries {
		writer.line(format(entry.Stream, entry.Initial))
	}
	if writer.err != nil {
		return writer.err
	}

	err = session.Follow(ctx, clk, func(stream int, record tag.Record) error {
		writer.line(format(stream, record))
		return writer.err
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type lineWriter struct {
	w   io.Writer
	err error
}

func (l *lineWriter) line(text string) {
	if l.err != nil {
		return
	}
	_, l.err = io.WriteString(l.w, text+"\n")
}
