// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/glasspane/glasspane/lib/clock"
)

// Options configures an Orchestrator. Zero-value collaborators get
// safe defaults: a real clock, a real PTY launcher, allow-everything
// policies, and a discarding audit sink. Ledger and Snapshots have no
// defaults; the daemon wires file-backed stores, tests wire fakes.
type Options struct {
	Logger      *slog.Logger
	Clock       clock.Clock
	Launcher    Launcher
	Ledger      Ledger
	Snapshots   *SnapshotStore
	Multiplexer *Multiplexer

	PathPolicy PathPolicy
	InputGate  InputGate
	Audit      AuditSink
	TokenRules []TokenRule

	// Agent launch configuration.
	AgentBinary      string
	AgentSearchPaths []string
	AgentExtraArgs   []string

	// Streaming configuration.
	RingCapacity      int
	SubscriberBuffer  int
	KeepaliveInterval time.Duration

	// Lifecycle configuration.
	StoppedRetention      time.Duration
	ForegroundIdle        time.Duration
	BackgroundIdle        time.Duration
	MultiplexerKillOnStop bool
}

// Orchestrator is the engine's front door: it owns the registry of
// live sessions and coordinates launch, streaming, input, teardown,
// and durable state. All methods are safe for concurrent use.
type Orchestrator struct {
	logger      *slog.Logger
	clock       clock.Clock
	launcher    Launcher
	registry    *Registry
	ledger      Ledger
	snapshots   *SnapshotStore
	multiplexer *Multiplexer
	pathPolicy  PathPolicy
	inputGate   InputGate
	audit       AuditSink
	extractor   *TokenExtractor
	options     Options
}

// New builds an Orchestrator from options, filling in defaults for
// absent collaborators.
func New(options Options) (*Orchestrator, error) {
	if options.Ledger == nil {
		return nil, errors.New("orchestrator requires a ledger")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Launcher == nil {
		options.Launcher = &PTYLauncher{Logger: options.Logger}
	}
	if options.PathPolicy == nil {
		options.PathPolicy = AllowAllPolicy{}
	}
	if options.InputGate == nil {
		options.InputGate = AllowAllGate{}
	}
	if options.Audit == nil {
		options.Audit = NopAudit{}
	}
	if options.AgentBinary == "" {
		options.AgentBinary = "claude"
	}
	if options.RingCapacity <= 0 {
		options.RingCapacity = DefaultRingCapacity
	}
	if options.SubscriberBuffer <= 0 {
		options.SubscriberBuffer = 256
	}
	return &Orchestrator{
		logger:      options.Logger,
		clock:       options.Clock,
		launcher:    options.Launcher,
		registry:    NewRegistry(),
		ledger:      options.Ledger,
		snapshots:   options.Snapshots,
		multiplexer: options.Multiplexer,
		pathPolicy:  options.PathPolicy,
		inputGate:   options.InputGate,
		audit:       options.Audit,
		extractor:   NewTokenExtractor(options.TokenRules),
		options:     options,
	}, nil
}

// NewSessionID returns a fresh session identifier. Millisecond
// timestamp first so lexicographic order roughly tracks creation
// order in listings and on disk.
func NewSessionID(clk clock.Clock) string {
	return fmt.Sprintf("session-%d-%s", clk.Now().UnixMilli(), uuid.NewString()[:8])
}

// StartParams describes one session launch request.
type StartParams struct {
	// ID is the session identifier. Empty means generate one. Reusing
	// the id of a live session makes Start idempotent: the existing
	// session is returned untouched.
	ID string

	WorkingDirectory  string
	BypassPermissions bool
	IsBackground      bool
	OwnerID           string
	Sandboxed         bool

	// Resume relaunches the assistant against a prior conversation.
	// ResumeToken overrides the token recorded in the ledger;
	// ContinueLast instead asks the assistant for its most recent
	// conversation in the working directory.
	Resume       bool
	ResumeToken  string
	ContinueLast bool

	// UseMultiplexer places the agent inside the dedicated tmux
	// server. ReconnectTarget names an existing tmux session to
	// re-supervise instead of spawning a new agent.
	UseMultiplexer  bool
	ReconnectTarget string

	Columns uint16
	Rows    uint16
}

// StartResult reports the outcome of Start.
type StartResult struct {
	ID             string
	PID            int
	IsBackground   bool
	Resumed        bool
	AlreadyRunning bool
}

// Start validates the request, launches the assistant process, and
// registers the session. No side effect happens before validation and
// the sandbox path check both pass; a failed launch leaves no record
// behind.
func (o *Orchestrator) Start(ctx context.Context, params StartParams) (StartResult, error) {
	if params.ID == "" {
		params.ID = NewSessionID(o.clock)
	}
	if params.WorkingDirectory == "" {
		return StartResult{}, &ValidationError{Field: "workingDirectory", Reason: "must not be empty"}
	}
	if params.Resume && params.ContinueLast {
		return StartResult{}, &ValidationError{Field: "resume", Reason: "resume and continueLast are mutually exclusive"}
	}

	// Idempotent restart: a live, non-terminal session with this id
	// already satisfies the request. The caller reconnected to an
	// existing conversation, so the result reads as resumed.
	if existing := o.registry.Get(params.ID); existing != nil && !existing.Status().IsTerminal() {
		return StartResult{
			ID:             existing.ID,
			PID:            existing.PID(),
			IsBackground:   existing.IsBackground,
			Resumed:        true,
			AlreadyRunning: true,
		}, nil
	}

	info, err := os.Stat(params.WorkingDirectory)
	if err != nil {
		return StartResult{}, &ValidationError{Field: "workingDirectory", Reason: fmt.Sprintf("not accessible: %v", err)}
	}
	if !info.IsDir() {
		return StartResult{}, &ValidationError{Field: "workingDirectory", Reason: "not a directory"}
	}
	if err := o.pathPolicy.CheckPath(ctx, params.WorkingDirectory); err != nil {
		var denied *PathDeniedError
		if errors.As(err, &denied) {
			return StartResult{}, err
		}
		return StartResult{}, &PathDeniedError{Path: params.WorkingDirectory, Reason: err.Error()}
	}

	resumeToken := params.ResumeToken
	if params.Resume && resumeToken == "" {
		entry, ok, err := o.ledger.Get(params.ID)
		if err != nil {
			return StartResult{}, fmt.Errorf("look up resume token: %w", err)
		}
		if !ok || entry.ResumeToken == "" {
			return StartResult{}, &ValidationError{Field: "resumeToken", Reason: "no resume token recorded for this session"}
		}
		resumeToken = entry.ResumeToken
	}

	command, err := o.agentCommand(params, resumeToken)
	if err != nil {
		return StartResult{}, err
	}

	now := o.clock.Now()
	record := &Record{
		ID:                params.ID,
		WorkingDirectory:  params.WorkingDirectory,
		BypassPermissions: params.BypassPermissions,
		IsBackground:      params.IsBackground,
		Sandboxed:         params.Sandboxed,
		OwnerID:           params.OwnerID,
		StartedAt:         now,
		status:            StatusStarting,
		statusChangedAt:   now,
		lastActivityAt:    now,
		ring:              NewRingBuffer(o.options.RingCapacity),
	}
	record.hub = NewHub(o.options.SubscriberBuffer, o.clock, o.options.KeepaliveInterval)
	if params.Resume && resumeToken != "" {
		// Carrying the token forward keeps the session resumable
		// even if the relaunched process never reprints it.
		record.resumeToken = resumeToken
	}
	if o.snapshots != nil && (params.Resume || params.ContinueLast || params.ReconnectTarget != "") {
		// Preload the prior run's scrollback so a reattaching viewer
		// is not greeted by a blank terminal. Missing or unreadable
		// snapshots are ignored.
		if output, ok, err := o.snapshots.Load(params.ID); err == nil && ok {
			record.ring.Append(output)
		}
	}

	handle, err := o.launch(record, params, command)
	if err != nil {
		record.hub.CloseAll(Event{Type: EventComplete, SessionID: record.ID})
		return StartResult{}, err
	}

	record.mu.Lock()
	record.handle = handle
	record.pid = handle.PID()
	record.mu.Unlock()

	if existing, inserted := o.registry.Insert(record); !inserted {
		// A concurrent Start won the race for this id. Tear down the
		// process we just spawned and defer to the winner.
		_ = handle.Kill()
		record.hub.CloseAll(Event{Type: EventComplete, SessionID: record.ID})
		return StartResult{
			ID:             existing.ID,
			PID:            existing.PID(),
			IsBackground:   existing.IsBackground,
			Resumed:        true,
			AlreadyRunning: true,
		}, nil
	}

	o.putLedger(record)
	o.logger.Info("session started",
		"session_id", record.ID,
		"pid", record.PID(),
		"working_directory", record.WorkingDirectory,
		"background", record.IsBackground,
		"multiplexer", record.MultiplexerHandle() != "",
		"resumed", params.Resume || params.ContinueLast)

	return StartResult{
		ID:           record.ID,
		PID:          record.PID(),
		IsBackground: record.IsBackground,
		Resumed:      params.Resume || params.ContinueLast,
	}, nil
}

// agentCommand assembles the assistant argv for a launch.
func (o *Orchestrator) agentCommand(params StartParams, resumeToken string) ([]string, error) {
	binary, err := ResolveBinary(o.options.AgentBinary, o.options.AgentSearchPaths)
	if err != nil {
		return nil, err
	}
	command := append([]string{binary}, o.options.AgentExtraArgs...)
	if params.BypassPermissions {
		command = append(command, "--dangerously-skip-permissions")
	}
	switch {
	case params.Resume:
		command = append(command, "--resume", resumeToken)
	case params.ContinueLast:
		command = append(command, "--continue")
	}
	return command, nil
}

// launch starts the agent process, directly or inside the
// multiplexer, and wires the record's stream callbacks.
func (o *Orchestrator) launch(record *Record, params StartParams, command []string) (ProcessHandle, error) {
	spec := LaunchSpec{
		WorkingDirectory: params.WorkingDirectory,
		Environment:      AgentEnvironment(o.options.AgentSearchPaths),
		Columns:          params.Columns,
		Rows:             params.Rows,
		OnData:           func(chunk []byte) { o.ingest(record, chunk) },
		OnExit:           func(exitCode int, signal string) { o.finalize(record, exitCode, signal) },
	}

	createdHandle := ""
	if params.UseMultiplexer || params.ReconnectTarget != "" {
		if o.multiplexer == nil {
			return nil, &ValidationError{Field: "useMultiplexer", Reason: "multiplexer is not configured"}
		}
		handleName := params.ReconnectTarget
		if handleName == "" {
			handleName = o.multiplexer.HandleName(record.ID)
		}
		if !o.multiplexer.Owns(handleName) {
			return nil, &ValidationError{Field: "reconnectTarget", Reason: "not a session of this multiplexer"}
		}
		if !o.multiplexer.Exists(handleName) {
			if params.ReconnectTarget != "" {
				return nil, fmt.Errorf("reconnect to %s: %w", handleName, ErrGone)
			}
			if err := o.multiplexer.CreateSession(handleName, params.WorkingDirectory, spec.Environment, command); err != nil {
				return nil, err
			}
			createdHandle = handleName
		}
		record.mu.Lock()
		record.multiplexerHandle = handleName
		record.mu.Unlock()

		// The supervised process is the attach client, not the agent:
		// killing it detaches while the agent lives on inside tmux.
		spec.Command = o.multiplexer.AttachCommand(handleName)
	} else {
		spec.Command = command
	}

	handle, err := o.launcher.Launch(spec)
	if err != nil {
		if createdHandle != "" {
			// No record will ever supervise the detached tmux session
			// we just created; reap it instead of leaking it.
			if killErr := o.multiplexer.Kill(createdHandle); killErr != nil {
				o.logger.Warn("killing orphaned multiplexer session failed",
					"session_id", record.ID, "handle", createdHandle, "error", killErr)
			}
		}
		return nil, fmt.Errorf("launch session %s: %w", record.ID, err)
	}
	return handle, nil
}

// ingest handles one output chunk from the process reader goroutine.
// Ring append and publish happen under streamMu so a concurrent
// Attach sees either the chunk in its replay or the live event,
// never both and never neither.
func (o *Orchestrator) ingest(record *Record, chunk []byte) {
	now := o.clock.Now()

	data := make([]byte, len(chunk))
	copy(data, chunk)

	record.streamMu.Lock()
	record.ring.Append(data)
	record.hub.Publish(Event{
		Type:      EventOutput,
		SessionID: record.ID,
		Data:      data,
	})
	record.streamMu.Unlock()

	// First output promotes starting → running (or background).
	if record.Status() == StatusStarting {
		to := StatusRunning
		if record.IsBackground {
			to = StatusBackground
		}
		if record.transition(to, now) {
			record.hub.Publish(Event{Type: EventStatus, SessionID: record.ID, Status: to})
			o.updateLedger(record)
		}
	}

	if record.needsResumeToken() {
		if token, ok := o.extractor.Extract(data); ok && record.setResumeToken(token) {
			o.logger.Info("resume token discovered", "session_id", record.ID, "token", token)
			record.hub.Publish(Event{Type: EventResumeToken, SessionID: record.ID, ResumeToken: token})
			o.updateLedger(record)
		}
	}

	record.touchActivity(now)
}

// finalize runs exactly once per process exit: terminal transition,
// exit and complete events, output snapshot, ledger update, and the
// delayed registry removal.
func (o *Orchestrator) finalize(record *Record, exitCode int, signal string) {
	record.mu.Lock()
	if record.finalized {
		record.mu.Unlock()
		return
	}
	record.finalized = true
	record.mu.Unlock()

	now := o.clock.Now()

	// Clean exit lands in stopped; anything else is an error. A Stop
	// that already marked the record stopped wins: terminal states
	// are final, so the signal from our own kill cannot flip a
	// deliberate stop into an error.
	to := StatusStopped
	if exitCode != 0 || signal != "" {
		to = StatusError
	}
	if record.transition(to, now) {
		record.hub.Publish(Event{Type: EventStatus, SessionID: record.ID, Status: record.Status()})
	}

	record.hub.Publish(Event{
		Type:      EventExit,
		SessionID: record.ID,
		ExitCode:  exitCode,
		Signal:    signal,
	})
	record.hub.CloseAll(Event{Type: EventComplete, SessionID: record.ID})

	if o.snapshots != nil {
		record.streamMu.Lock()
		output := record.ring.Snapshot()
		record.streamMu.Unlock()
		if len(output) > 0 {
			if err := o.snapshots.Save(record.ID, output); err != nil {
				o.logger.Warn("saving output snapshot failed", "session_id", record.ID, "error", err)
			}
		}
	}

	o.updateLedger(record)
	o.logger.Info("session finalized",
		"session_id", record.ID,
		"status", record.Status(),
		"exit_code", exitCode,
		"signal", signal)

	// The record lingers briefly so late viewers still see the final
	// status, then leaves the registry. The ledger entry stays.
	if o.options.StoppedRetention > 0 {
		record.mu.Lock()
		record.removeTimer = o.clock.AfterFunc(o.options.StoppedRetention, func() {
			o.registry.Remove(record.ID)
		})
		record.mu.Unlock()
	} else {
		o.registry.Remove(record.ID)
	}
}

// putLedger writes the record's durable projection unconditionally.
// Only Start uses it; later updates go through updateLedger so an
// explicitly removed entry stays removed.
func (o *Orchestrator) putLedger(record *Record) {
	entry := LedgerEntry{
		ID:                record.ID,
		WorkingDirectory:  record.WorkingDirectory,
		BypassPermissions: record.BypassPermissions,
		StartedAt:         record.StartedAt,
		Status:            record.Status(),
		IsBackground:      record.IsBackground,
		Sandboxed:         record.Sandboxed,
		ResumeToken:       record.ResumeToken(),
		LastActivityAt:    record.LastActivityAt(),
		OwnerID:           record.OwnerID,
		MultiplexerHandle: record.MultiplexerHandle(),
	}
	if err := o.ledger.Put(entry); err != nil {
		o.logger.Warn("ledger write failed", "session_id", record.ID, "error", err)
	}
}

// updateLedger refreshes an existing entry. A missing entry means the
// session was removed; a late callback must not resurrect it.
func (o *Orchestrator) updateLedger(record *Record) {
	_, ok, err := o.ledger.Get(record.ID)
	if err != nil {
		o.logger.Warn("ledger read failed", "session_id", record.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	o.putLedger(record)
}

// Attach subscribes a viewer to a session's event stream. The first
// events are always connected, then status, then — when the ring
// buffer holds output — a single replayed output event, followed by
// live events with no gap and no duplicate.
func (o *Orchestrator) Attach(ctx context.Context, id string) (*Subscription, error) {
	record := o.registry.Get(id)
	if record == nil {
		if _, ok, err := o.ledger.Get(id); err == nil && ok {
			return nil, fmt.Errorf("attach %s: %w", id, ErrGone)
		}
		return nil, fmt.Errorf("attach %s: %w", id, ErrNotFound)
	}

	record.streamMu.Lock()
	defer record.streamMu.Unlock()

	status := record.Status()
	initial := []Event{
		{Type: EventConnected, SessionID: id, Status: status},
		{Type: EventStatus, SessionID: id, Status: status},
	}
	if replay := record.ring.Snapshot(); len(replay) > 0 {
		initial = append(initial, Event{
			Type:      EventOutput,
			SessionID: id,
			Data:      replay,
			Replayed:  true,
		})
	}

	subscription := record.hub.Subscribe(initial)
	if subscription == nil {
		// The hub closed: the process is gone and the record is only
		// lingering out its retention window. Same outcome as after
		// removal, so the same error taxonomy applies.
		if _, ok, err := o.ledger.Get(id); err == nil && ok {
			return nil, fmt.Errorf("attach %s: %w", id, ErrGone)
		}
		return nil, fmt.Errorf("attach %s: %w", id, ErrNotFound)
	}
	return subscription, nil
}

// SendInput writes input to the session's terminal. Sandboxed
// sessions run untrusted content, so their input passes through the
// security gate first; a rejection delivers zero bytes to the process
// and is recorded in the audit trail. Trusted sessions skip the gate.
func (o *Orchestrator) SendInput(ctx context.Context, id string, input []byte) error {
	record, err := o.liveRecord(id)
	if err != nil {
		return fmt.Errorf("send input to %s: %w", id, err)
	}

	if record.Sandboxed {
		decision, err := o.inputGate.Inspect(ctx, input)
		if err != nil {
			return fmt.Errorf("inspect input for %s: %w", id, err)
		}
		if !decision.Allowed {
			o.audit.RecordRejectedInput(record.ID, record.OwnerID, decision.Categories)
			o.logger.Warn("input rejected",
				"session_id", record.ID,
				"owner_id", record.OwnerID,
				"categories", decision.Categories)
			return &RejectedError{Categories: decision.Categories}
		}
	}

	record.mu.Lock()
	handle := record.handle
	record.mu.Unlock()
	if err := handle.Write(input); err != nil {
		return fmt.Errorf("send input to %s: %w", id, err)
	}
	record.touchActivity(o.clock.Now())
	return nil
}

// Resize sets the session's terminal dimensions.
func (o *Orchestrator) Resize(ctx context.Context, id string, columns, rows uint16) error {
	if columns == 0 || rows == 0 {
		return &ValidationError{Field: "size", Reason: "columns and rows must be positive"}
	}
	record, err := o.liveRecord(id)
	if err != nil {
		return fmt.Errorf("resize %s: %w", id, err)
	}
	record.mu.Lock()
	handle := record.handle
	record.mu.Unlock()
	if err := handle.Resize(columns, rows); err != nil {
		return fmt.Errorf("resize %s: %w", id, err)
	}
	record.touchActivity(o.clock.Now())
	return nil
}

// liveRecord resolves id to a record that can still accept terminal
// operations.
func (o *Orchestrator) liveRecord(id string) (*Record, error) {
	record := o.registry.Get(id)
	if record == nil {
		if _, ok, err := o.ledger.Get(id); err == nil && ok {
			return nil, ErrGone
		}
		return nil, ErrNotFound
	}
	if record.Status().IsTerminal() {
		return nil, ErrNotRunning
	}
	record.mu.Lock()
	handle := record.handle
	record.mu.Unlock()
	if handle == nil {
		return nil, ErrNotRunning
	}
	return record, nil
}

// StopOptions modifies Stop's behavior.
type StopOptions struct {
	// RemoveFromLedger erases the session's durable entry and
	// snapshot after stopping, so it disappears from listings.
	RemoveFromLedger bool

	// KillMultiplexer forces the tmux session to die along with the
	// supervised attach client, regardless of the configured
	// kill-on-stop policy.
	KillMultiplexer bool
}

// Stop ends the session. For a direct session the process is killed.
// For a multiplexed session the attach client is always killed; the
// agent inside tmux dies too only when the kill-on-stop policy or
// opts.KillMultiplexer says so — otherwise it keeps running, ready
// for reconnection.
func (o *Orchestrator) Stop(ctx context.Context, id string, opts StopOptions) error {
	record := o.registry.Get(id)
	if record == nil {
		return o.stopGone(id, opts)
	}

	now := o.clock.Now()
	if record.transition(StatusStopped, now) {
		record.hub.Publish(Event{Type: EventStatus, SessionID: id, Status: StatusStopped})
	}

	handleName := record.MultiplexerHandle()
	killAgent := handleName == "" || opts.KillMultiplexer || o.options.MultiplexerKillOnStop

	record.mu.Lock()
	handle := record.handle
	record.mu.Unlock()

	if handleName != "" && killAgent && o.multiplexer != nil {
		if err := o.multiplexer.Kill(handleName); err != nil {
			o.logger.Warn("killing multiplexer session failed",
				"session_id", id, "handle", handleName, "error", err)
		}
	}
	if handle != nil {
		// In multiplexer mode this kills only the attach client; a
		// surviving agent stays reachable through its tmux handle.
		_ = handle.Kill()
	}

	o.logger.Info("session stopped",
		"session_id", id,
		"kill_agent", killAgent,
		"remove", opts.RemoveFromLedger)

	if opts.RemoveFromLedger {
		record.mu.Lock()
		if record.removeTimer != nil {
			record.removeTimer.Stop()
		}
		record.mu.Unlock()
		o.registry.Remove(id)
		return o.removeDurable(id)
	}
	return nil
}

// stopGone handles Stop for a session with no live record: a leftover
// tmux handle is reaped and, on request, the durable state erased.
func (o *Orchestrator) stopGone(id string, opts StopOptions) error {
	entry, ok, err := o.ledger.Get(id)
	if err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("stop %s: %w", id, ErrNotFound)
	}
	if entry.MultiplexerHandle != "" && o.multiplexer != nil &&
		(opts.KillMultiplexer || o.options.MultiplexerKillOnStop || opts.RemoveFromLedger) {
		if err := o.multiplexer.Kill(entry.MultiplexerHandle); err != nil {
			o.logger.Warn("killing multiplexer session failed",
				"session_id", id, "handle", entry.MultiplexerHandle, "error", err)
		}
	}
	if opts.RemoveFromLedger {
		return o.removeDurable(id)
	}
	return nil
}

// removeDurable erases the ledger entry and any output snapshot.
func (o *Orchestrator) removeDurable(id string) error {
	if err := o.ledger.Delete(id); err != nil {
		return fmt.Errorf("remove %s from ledger: %w", id, err)
	}
	if o.snapshots != nil {
		if err := o.snapshots.Delete(id); err != nil {
			o.logger.Warn("deleting output snapshot failed", "session_id", id, "error", err)
		}
	}
	return nil
}

// SessionInfo is one row of List: the durable entry plus live-only
// detail when the session has a registry record.
type SessionInfo struct {
	LedgerEntry

	// Active reports a live registry record (a supervised process).
	Active bool

	// Viewers counts currently attached subscribers. Zero when the
	// session is not active.
	Viewers int

	// PID is the supervised process id, zero when not active.
	PID int
}

// List returns every known session, live and historical, most
// recently active first. Live records override the ledger's stale
// status and activity fields.
func (o *Orchestrator) List(ctx context.Context) ([]SessionInfo, error) {
	entries, err := o.ledger.All()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	infos := make([]SessionInfo, 0, len(entries))
	for _, entry := range entries {
		info := SessionInfo{LedgerEntry: entry}
		if record := o.registry.Get(entry.ID); record != nil {
			info.Active = !record.Status().IsTerminal()
			info.Viewers = record.hub.SubscriberCount()
			info.PID = record.PID()
			info.Status = record.Status()
			info.LastActivityAt = record.LastActivityAt()
			info.ResumeToken = record.ResumeToken()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivityAt.After(infos[j].LastActivityAt)
	})
	return infos, nil
}

// Restore re-supervises multiplexed sessions that survived a daemon
// restart: every ledger entry whose tmux session is still alive gets
// a fresh attach client and a registry record. Entries whose tmux
// session died are marked stopped in place.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.multiplexer == nil {
		return nil
	}
	entries, err := o.ledger.All()
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	for _, entry := range entries {
		if entry.MultiplexerHandle == "" || entry.Status.IsTerminal() {
			continue
		}
		if o.registry.Get(entry.ID) != nil {
			continue
		}
		if !o.multiplexer.Exists(entry.MultiplexerHandle) {
			entry.Status = StatusStopped
			entry.LastActivityAt = o.clock.Now()
			if err := o.ledger.Put(entry); err != nil {
				o.logger.Warn("ledger write failed", "session_id", entry.ID, "error", err)
			}
			continue
		}
		_, err := o.Start(ctx, StartParams{
			ID:                entry.ID,
			WorkingDirectory:  entry.WorkingDirectory,
			BypassPermissions: entry.BypassPermissions,
			IsBackground:      entry.IsBackground,
			OwnerID:           entry.OwnerID,
			Sandboxed:         entry.Sandboxed,
			UseMultiplexer:    true,
			ReconnectTarget:   entry.MultiplexerHandle,
		})
		if err != nil {
			o.logger.Warn("restoring session failed", "session_id", entry.ID, "error", err)
			continue
		}
		o.logger.Info("session restored", "session_id", entry.ID, "handle", entry.MultiplexerHandle)
	}
	return nil
}

// Shutdown detaches from every live session. Multiplexed agents keep
// running inside tmux for the next daemon instance; direct processes
// are killed, since nothing could stream them afterward anyway.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, record := range o.registry.All() {
		record.mu.Lock()
		handle := record.handle
		record.mu.Unlock()
		if handle != nil {
			_ = handle.Kill()
		}
	}
}
