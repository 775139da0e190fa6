// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/relay"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// TagKey returns the Redis hash key for a tag.
// Pattern: tagbus:{instance}:tag:{name}
func TagKey(instance, name string) string {
	return fmt.Sprintf("tagbus:%s:tag:%s", instance, name)
}

// EventsChannel returns the Pub/Sub channel carrying tag changes.
// Pattern: tagbus:{instance}:tag_events
func EventsChannel(instance string) string {
	return fmt.Sprintf("tagbus:%s:tag_events", instance)
}

// Mirror writes tag records to one Redis instance namespace. It is
// safe for concurrent use.
type Mirror struct {
	rdb      *redis.Client
	instance string
	logger   *slog.Logger
	rescan   time.Duration
}

// DefaultRescanInterval is how often a mirror of every tag looks for
// newly created tags.
const DefaultRescanInterval = time.Second

// New creates a mirror for instance.
func New(options *redis.Options, instance string, logger *slog.Logger) (*Mirror, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Mirror{
		rdb:      redis.NewClient(options),
		instance: instance,
		logger:   logger,
		rescan:   DefaultRescanInterval,
	}, nil
}

// Dial parses a redis:// URL and creates a mirror for instance.
func Dial(url, instance string, logger *slog.Logger) (*Mirror, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing mirror URL: %w", err)
	}
	return New(options, instance, logger)
}

// Close closes the Redis connection.
func (m *Mirror) Close() error {
	return m.rdb.Close()
}

// Ping verifies Redis connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Publish stores record as name's current state and publishes the
// change event.
func (m *Mirror) Publish(ctx context.Context, name string, record tag.Record) error {
	hash := map[string]any{
		"dtype":     record.DType.String(),
		"quality":   strconv.FormatUint(uint64(record.Quality), 10),
		"timestamp": strconv.FormatUint(record.Timestamp, 10),
		"value":     tag.FormatValue(record),
	}
	if err := m.rdb.HSet(ctx, TagKey(m.instance, name), hash).Err(); err != nil {
		return fmt.Errorf("failed to write tag %s to Redis: %w", name, err)
	}
	if err := m.rdb.Publish(ctx, EventsChannel(m.instance), relay.NameLine(name, record)).Err(); err != nil {
		return fmt.Errorf("failed to publish tag %s event: %w", name, err)
	}
	return nil
}

// Get reads name's mirrored record back. Returns redis.Nil when the
// tag has never been mirrored.
func (m *Mirror) Get(ctx context.Context, name string) (tag.Record, error) {
	hash, err := m.rdb.HGetAll(ctx, TagKey(m.instance, name)).Result()
	if err != nil {
		return tag.Record{}, fmt.Errorf("failed to read tag %s from Redis: %w", name, err)
	}
	if len(hash) == 0 {
		return tag.Record{}, redis.Nil
	}

	dtype, err := tag.ParseDType(hash["dtype"])
	if err != nil {
		return tag.Record{}, fmt.Errorf("mirrored tag %s: %w", name, err)
	}
	record, err := tag.ParsePartial(hash["quality"]+" "+hash["timestamp"]+" "+hash["value"], dtype)
	if err != nil {
		return tag.Record{}, fmt.Errorf("mirrored tag %s: %w", name, err)
	}
	return record, nil
}

// Run mirrors names from dir until ctx ends: the current record of
// each tag first, then every change. With no names every tag is
// mirrored, and tags created while Run is active join the mirror
// within one rescan interval. Cancellation returns nil.
func (m *Mirror) Run(ctx context.Context, dir tag.Directory, names []string, clk clock.Clock) error {
	published := make(map[string]uint64)
	for {
		grew, err := m.mirror(ctx, dir, names, clk, published)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil || !grew {
			return err
		}
	}
}

// mirror runs one relay session over the selected tags. When every
// tag is mirrored it also watches the registry, and returns grew=true
// once a tag has been created so the caller can reopen the session.
// published maps each tag to the last timestamp written to Redis;
// records already published are not repeated.
func (m *Mirror) mirror(ctx context.Context, dir tag.Directory, names []string, clk clock.Clock, published map[string]uint64) (grew bool, err error) {
	all := len(names) == 0
	session, err := relay.Open(ctx, dir, names, all)
	if err != nil {
		return false, err
	}
	defer session.Close()

	entries := session.Entries()
	publish := func(name string, record tag.Record) error {
		if err := m.Publish(ctx, name, record); err != nil {
			return err
		}
		published[name] = record.Timestamp
		return nil
	}
	for _, entry := range entries {
		if stamp, seen := published[entry.Info.Name]; seen && stamp == entry.Initial.Timestamp {
			continue
		}
		if err := publish(entry.Info.Name, entry.Initial); err != nil {
			return false, err
		}
	}
	m.logger.Info("mirroring tags to redis",
		"instance", m.instance,
		"tags", len(entries),
	)

	followCtx, stopFollow := context.WithCancel(ctx)
	defer stopFollow()
	created := make(chan struct{})
	if all {
		go m.watchRegistry(followCtx, dir, clk, len(entries), created, stopFollow)
	}

	err = session.Follow(followCtx, clk, func(stream int, record tag.Record) error {
		return publish(entries[stream].Info.Name, record)
	})
	select {
	case <-created:
		m.logger.Debug("registry grew, reopening mirror session", "instance", m.instance)
		return true, nil
	default:
		return false, err
	}
}

// watchRegistry lists dir every rescan interval and, once it holds
// more than known tags, closes created and stops the session. The
// registry is append-only, so growth means a creation.
func (m *Mirror) watchRegistry(ctx context.Context, dir tag.Directory, clk clock.Clock, known int, created chan<- struct{}, stop context.CancelFunc) {
	ticker := clk.NewTicker(m.rescan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		infos, err := dir.List(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("listing tags for the mirror", "error", err)
			}
			continue
		}
		if len(infos) > known {
			close(created)
			stop()
			return
		}
	}
}
