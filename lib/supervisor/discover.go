// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/tagbus/lib/rulescript"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// ErrNoKillSwitch is returned by Prepare when the registry has no
// master.on tag.
var ErrNoKillSwitch = errors.New("supervisor: kill-switch tag is missing")

// ErrInvalidTimer is returned by Prepare for a timer tag the engine
// cannot drive.
var ErrInvalidTimer = errors.New("supervisor: invalid timer tag")

var timerPattern = regexp.MustCompile(`^timer\.([0-9]+)sec$`)

// RuleSpec describes one rule program.
type RuleSpec struct {
	// Name is the rule's file name in the rules directory.
	Name string

	// Path is the executable to start.
	Path string

	// Args are passed to Path. Empty for compiled rules; the script
	// path for scripted rules.
	Args []string

	// Source is the file whose digest identifies the rule: Path for
	// compiled rules, the script for scripted ones.
	Source string
}

// TimerSpec describes one timer tag.
type TimerSpec struct {
	Name     string
	Interval time.Duration
}

// DiscoverRules returns the rule programs in dir whose names start with
// prefix, sorted by name. Regular files with any execute bit are
// compiled rules. When scriptHost is non-empty, files ending in .star
// are scripted rules run as "scriptHost <script>". Anything else is
// ignored.
func DiscoverRules(dir, prefix, scriptHost string) ([]RuleSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules directory: %w", err)
	}

	var rules []RuleSpec
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		path := filepath.Join(dir, name)
		// Stat rather than entry.Info so symlinked rules resolve.
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		switch {
		case strings.HasSuffix(name, rulescript.Extension):
			if scriptHost == "" {
				continue
			}
			rules = append(rules, RuleSpec{
				Name:   name,
				Path:   scriptHost,
				Args:   []string{path},
				Source: path,
			})
		case info.Mode().Perm()&0o111 != 0:
			rules = append(rules, RuleSpec{Name: name, Path: path, Source: path})
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules, nil
}

// ParseTimerName reports whether name is a timer tag and, if so, its
// interval. A timer name with a zero interval is an error.
func ParseTimerName(name string) (time.Duration, bool, error) {
	match := timerPattern.FindStringSubmatch(name)
	if match == nil {
		return 0, false, nil
	}
	seconds, err := strconv.Atoi(match[1])
	if err != nil || seconds < 1 || seconds > int(time.Duration(1<<62)/time.Second) {
		return 0, true, fmt.Errorf("%w: %s has an invalid interval", ErrInvalidTimer, name)
	}
	return time.Duration(seconds) * time.Second, true, nil
}

// DiscoverTimers lists the registry and returns every timer tag in
// registry order. It fails if the kill-switch is absent or a timer is
// malformed or not an unsigned integer.
func DiscoverTimers(ctx context.Context, directory tag.Directory) ([]TimerSpec, error) {
	infos, err := directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	var timers []TimerSpec
	killSwitch := false
	for _, info := range infos {
		if info.Name == tag.KillSwitchName {
			killSwitch = true
			continue
		}
		interval, ok, err := ParseTimerName(info.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if !info.DType.IsUnsigned() {
			return nil, fmt.Errorf("%w: %s has dtype %s, timers must be unsigned", ErrInvalidTimer, info.Name, info.DType)
		}
		timers = append(timers, TimerSpec{Name: info.Name, Interval: interval})
	}
	if !killSwitch {
		return nil, fmt.Errorf("%w: %s", ErrNoKillSwitch, tag.KillSwitchName)
	}
	return timers, nil
}
