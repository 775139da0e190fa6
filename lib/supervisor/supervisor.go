// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tagbus/lib/binhash"
	"github.com/bureau-foundation/tagbus/lib/clock"
	"github.com/bureau-foundation/tagbus/lib/readiness"
	"github.com/bureau-foundation/tagbus/lib/tag"
)

// DefaultMaxWait bounds each wait of the supervision loop.
const DefaultMaxWait = 3 * time.Second

// shutdownTimeout bounds the DISCONNECTED writes after the loop ends.
const shutdownTimeout = 5 * time.Second

// State is a lifecycle phase of the engine.
type State int32

const (
	StateStarting State = iota
	StateDaemonized
	StateRunning
	StateDraining
	StateStopped
)

var stateNames = [...]string{"starting", "daemonized", "running", "draining", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config configures a Supervisor.
type Config struct {
	// Directory is the tag registry. Required.
	Directory tag.Directory

	// RulesDir is scanned for rule programs whose names start with
	// RulePrefix.
	RulesDir   string
	RulePrefix string

	// ScriptHost runs scripted rules. Empty ignores *.star files.
	ScriptHost string

	// MaxWait bounds each wait. Defaults to DefaultMaxWait.
	MaxWait time.Duration

	// Restart defaults to DefaultRestartPolicy when Mode is empty.
	Restart RestartPolicy

	// Launcher defaults to ExecLauncher with an empty environment.
	Launcher Launcher

	// Clock defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Supervisor is the control engine.
type Supervisor struct {
	directory tag.Directory
	rulesDir  string
	prefix    string
	host      string
	maxWait   time.Duration
	restart   RestartPolicy
	launcher  Launcher
	clock     clock.Clock
	logger    *slog.Logger

	state    atomic.Int32
	prepared bool
	rules    []RuleSpec
	timers   []TimerSpec
}

// New validates config and returns a Supervisor in StateStarting.
func New(config Config) (*Supervisor, error) {
	if config.Directory == nil {
		return nil, errors.New("supervisor: Directory is required")
	}
	if config.RulesDir == "" || config.RulePrefix == "" {
		return nil, errors.New("supervisor: RulesDir and RulePrefix are required")
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultMaxWait
	}
	if config.Restart.Mode == "" {
		config.Restart = DefaultRestartPolicy()
	}
	if err := config.Restart.validate(); err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if config.Launcher == nil {
		config.Launcher = ExecLauncher{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Supervisor{
		directory: config.Directory,
		rulesDir:  config.RulesDir,
		prefix:    config.RulePrefix,
		host:      config.ScriptHost,
		maxWait:   config.MaxWait,
		restart:   config.Restart,
		launcher:  config.Launcher,
		clock:     config.Clock,
		logger:    config.Logger,
	}, nil
}

// State returns the current lifecycle phase.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(state State) {
	previous := State(s.state.Swap(int32(state)))
	if previous != state {
		s.logger.Debug("engine state", "from", previous, "to", state)
	}
}

// Rules returns the rules found by Prepare.
func (s *Supervisor) Rules() []RuleSpec { return s.rules }

// Timers returns the timer tags found by Prepare.
func (s *Supervisor) Timers() []TimerSpec { return s.timers }

// Prepare discovers rules and timer tags and checks for the
// kill-switch. Everything it rejects is an operator error, reported
// before the engine detaches from the terminal.
func (s *Supervisor) Prepare(ctx context.Context) error {
	if s.State() != StateStarting {
		return fmt.Errorf("supervisor: Prepare in state %s", s.State())
	}
	rules, err := DiscoverRules(s.rulesDir, s.prefix, s.host)
	if err != nil {
		return err
	}
	timers, err := DiscoverTimers(ctx, s.directory)
	if err != nil {
		return err
	}
	s.rules = rules
	s.timers = timers
	s.prepared = true
	s.logger.Info("engine prepared",
		"rules_dir", s.rulesDir,
		"rules", len(rules),
		"timers", len(timers),
	)
	return nil
}

// MarkDaemonized records that the process has detached and holds the
// pid lock.
func (s *Supervisor) MarkDaemonized() {
	if s.State() == StateStarting {
		s.setState(StateDaemonized)
	}
}

type runningTimer struct {
	spec   TimerSpec
	handle tag.Handle
	record tag.Record
	source *tickSource
}

type ruleState struct {
	spec    RuleSpec
	backoff time.Duration
	started time.Time
	digest  binhash.Digest
	hashed  bool
}

type exit struct {
	rule *ruleState
	err  error
}

// Run launches the rules and supervises them until the kill-switch
// reads zero and every rule has exited, then marks the timer tags
// DISCONNECTED. Cancelling ctx stops supervision early, still marks
// the timers, and returns ctx.Err(); running rules are left to the
// kill-switch.
func (s *Supervisor) Run(ctx context.Context) (err error) {
	if !s.prepared {
		return errors.New("supervisor: Run before Prepare")
	}
	if state := s.State(); state != StateStarting && state != StateDaemonized {
		return fmt.Errorf("supervisor: Run in state %s", state)
	}
	s.setState(StateRunning)
	defer s.setState(StateStopped)

	stopped := make(chan struct{})
	defer close(stopped)

	var timers []*runningTimer
	defer func() {
		for _, timer := range timers {
			if timer.source != nil {
				timer.source.stop()
			}
			timer.handle.Close()
		}
	}()
	// Every timer bound from here on is marked DISCONNECTED on the
	// way out, however Run ends.
	defer func() {
		s.disconnectTimers(ctx, timers)
		if err == nil {
			s.logger.Info("clean shutdown")
		}
	}()

	for _, spec := range s.timers {
		timer, err := s.bindTimer(ctx, spec)
		if err != nil {
			return err
		}
		timers = append(timers, timer)
	}

	killSwitch, err := s.directory.Open(ctx, tag.KillSwitchName)
	if err != nil {
		return fmt.Errorf("opening kill-switch: %w", err)
	}
	defer killSwitch.Close()
	if killSwitch.DType() != tag.UInt8 {
		return fmt.Errorf("kill-switch %s has dtype %s, want uint8", tag.KillSwitchName, killSwitch.DType())
	}
	killRecord, err := killSwitch.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading kill-switch: %w", err)
	}
	enabled := killRecord.Value.UInt8()

	for _, timer := range timers {
		timer.source = newTickSource(s.clock.NewTicker(timer.spec.Interval))
	}

	exits := newQueue[exit]()
	restarts := newQueue[*ruleState]()
	alive := 0

	launch := func(rule *ruleState) {
		s.hashRule(rule)
		rule.started = s.clock.Now()
		alive++
		process, err := s.launcher.Launch(rule.spec)
		if err != nil {
			s.logger.Error("rule launch failed", "rule", rule.spec.Name, "error", err)
			exits.push(exit{rule: rule, err: err})
			return
		}
		s.logger.Info("rule started",
			"rule", rule.spec.Name,
			"pid", process.Pid(),
			"digest", rule.digest.Short(),
		)
		go func() {
			exits.push(exit{rule: rule, err: process.Wait()})
		}()
	}

	reap := func(event exit) {
		alive--
		rule := event.rule
		ran := s.clock.Now().Sub(rule.started)
		if event.err != nil {
			s.logger.Warn("rule exited", "rule", rule.spec.Name, "ran", ran, "error", event.err)
		} else {
			s.logger.Info("rule exited", "rule", rule.spec.Name, "ran", ran)
		}
		if enabled == 0 || !s.restart.ShouldRestart(event.err) {
			return
		}
		rule.backoff = s.restart.NextBackoff(rule.backoff, ran)
		s.logger.Info("rule restart scheduled", "rule", rule.spec.Name, "delay", rule.backoff)
		expired := s.clock.After(rule.backoff)
		go func() {
			select {
			case <-expired:
				restarts.push(rule)
			case <-stopped:
			}
		}()
	}

	// Rules are started even when the kill-switch already reads zero:
	// each one sees it on its first read and exits, and none is
	// restarted.
	if enabled == 0 {
		s.setState(StateDraining)
	}
	for _, spec := range s.rules {
		launch(&ruleState{spec: spec})
	}
	s.logger.Info("engine running", "rules", alive, "timers", len(timers), "enabled", enabled != 0)

	sources := make([]readiness.Source, 0, len(timers)+3)
	for _, timer := range timers {
		sources = append(sources, timer.source)
	}
	killIndex := len(sources)
	sources = append(sources, killSwitch, exits, restarts)

	for {
		for _, event := range exits.drain() {
			reap(event)
		}
		for _, rule := range restarts.drain() {
			if enabled != 0 {
				launch(rule)
			}
		}
		if alive == 0 && enabled == 0 {
			return nil
		}

		ready, err := readiness.Wait(ctx, s.clock, s.maxWait, sources)
		if err != nil {
			return err
		}
		for _, index := range ready {
			switch {
			case index < killIndex:
				if timers[index].source.take() {
					s.tick(ctx, timers[index])
				}
			case index == killIndex:
				record, err := killSwitch.TryRead()
				if errors.Is(err, tag.ErrWouldBlock) {
					continue
				}
				if err != nil {
					return fmt.Errorf("reading kill-switch: %w", err)
				}
				enabled = record.Value.UInt8()
				s.logger.Info("kill-switch changed", "value", enabled, "rules", alive)
				if enabled == 0 {
					s.setState(StateDraining)
				} else {
					s.setState(StateRunning)
				}
			}
		}
	}
}

// bindTimer opens a timer tag and caches its current record, forced
// to GOOD.
func (s *Supervisor) bindTimer(ctx context.Context, spec TimerSpec) (*runningTimer, error) {
	handle, err := s.directory.Open(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("opening timer %s: %w", spec.Name, err)
	}
	if !handle.DType().IsUnsigned() {
		handle.Close()
		return nil, fmt.Errorf("%w: %s has dtype %s", ErrInvalidTimer, spec.Name, handle.DType())
	}
	record, err := handle.Read(ctx)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("reading timer %s: %w", spec.Name, err)
	}
	record.Quality = tag.Good
	return &runningTimer{spec: spec, handle: handle, record: record}, nil
}

// tick increments a timer tag, wrapping at its width.
func (s *Supervisor) tick(ctx context.Context, timer *runningTimer) {
	value, err := timer.record.Value.Increment(timer.record.DType)
	if err != nil {
		s.logger.Error("timer increment failed", "tag", timer.spec.Name, "error", err)
		return
	}
	timer.record.Value = value
	timer.record.Timestamp = 0
	timer.record.Quality = tag.Good
	if err := timer.handle.Write(ctx, timer.record); err != nil {
		s.logger.Error("timer write failed", "tag", timer.spec.Name, "error", err)
	}
}

func (s *Supervisor) disconnectTimers(ctx context.Context, timers []*runningTimer) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, timer := range timers {
		timer.record.Timestamp = 0
		timer.record.Quality = tag.Disconnected
		if err := timer.handle.Write(ctx, timer.record); err != nil {
			s.logger.Error("marking timer disconnected", "tag", timer.spec.Name, "error", err)
		}
	}
}

// hashRule records the digest of a rule's file and notes when it
// changed since the previous launch.
func (s *Supervisor) hashRule(rule *ruleState) {
	digest, err := binhash.HashFile(rule.spec.Source)
	if err != nil {
		s.logger.Warn("hashing rule", "rule", rule.spec.Name, "error", err)
		return
	}
	if rule.hashed && digest != rule.digest {
		s.logger.Info("rule file changed since last launch",
			"rule", rule.spec.Name,
			"previous", rule.digest.Short(),
			"current", digest.Short(),
		)
	}
	rule.digest = digest
	rule.hashed = true
}
