package pregel

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/pregel/pregel/checkpoint"
	"github.com/flowforge/pregel/pregel/emit"
)

// PregelLoop drives a CompiledGraph through checkpointed supersteps (spec
// §4.3). One PregelLoop instance is safe to reuse across many Invoke calls
// against different threads; it holds no per-run mutable state itself.
type PregelLoop struct {
	graph        *CompiledGraph
	checkpointer checkpoint.Checkpointer
	cfg          loopConfig
}

// New builds a PregelLoop over graph, persisting through checkpointer.
func New(graph *CompiledGraph, checkpointer checkpoint.Checkpointer, opts ...Option) (*PregelLoop, error) {
	if graph == nil {
		return nil, &EngineError{Message: "graph must not be nil", Code: "INVALID_GRAPH", Cause: ErrInvalidGraph}
	}
	if checkpointer == nil {
		return nil, &EngineError{Message: "checkpointer must not be nil", Code: "INVALID_OPTION"}
	}
	c := defaultLoopConfig()
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return nil, err
		}
	}
	return &PregelLoop{graph: graph, checkpointer: checkpointer, cfg: c}, nil
}

// PendingInterrupt describes one node-initiated suspension surfaced by
// Invoke when a superstep's tasks request interruption (spec §4.3, "Dynamic
// interrupt").
type PendingInterrupt struct {
	Node    string
	TaskID  string
	Payload any
}

// Result is what Invoke returns after the loop stops, either because no
// further tasks are due or because an interrupt paused execution.
type Result struct {
	Values      map[string]any
	Interrupted bool
	Interrupts  []PendingInterrupt
	Config      checkpoint.Config
	Steps       int
}

type runState struct {
	channels        map[string]Channel
	channelVersions map[string]string
	versionsSeen    map[string]map[string]string
	pendingSends    []checkpoint.PendingSend
	checkpointID    string
	step            int

	// pendingWrites holds, per task ID, the writes a prior (possibly
	// crashed) attempt at the current step already persisted via
	// PutWrites. A task whose ID reappears here on replanning is known to
	// have already completed and is not re-run; its recorded writes are
	// folded into this attempt's commit instead (spec §4.3 step 6).
	pendingWrites map[string][]checkpoint.PendingWrite
}

// Invoke runs the graph against cfg.ThreadID/cfg.Namespace from its latest
// checkpoint (or from scratch if none exists), ingesting input if non-nil,
// and drives supersteps until no task is due or a node requests an
// interrupt.
func (l *PregelLoop) Invoke(ctx context.Context, cfg checkpoint.Config, input any) (Result, error) {
	if cfg.ThreadID == "" {
		return Result{}, ErrThreadRequired
	}

	state, err := l.restore(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	defer l.releaseContextChannels(state.channels)

	if err := l.acquireContextChannels(state.channels); err != nil {
		return Result{}, err
	}

	if input != nil {
		if err := l.ingest(ctx, cfg, state, input); err != nil {
			return Result{}, err
		}
	}

	recursionLimit := l.cfg.recursionLimit
	if cfg.RecursionLimit > 0 && cfg.RecursionLimit < recursionLimit {
		recursionLimit = cfg.RecursionLimit
	}

	var interrupts []PendingInterrupt

	for {
		if l.cfg.maxSteps > 0 && state.step >= l.cfg.maxSteps {
			return Result{}, &EngineError{Message: "max steps exceeded", Code: "MAX_STEPS_EXCEEDED", Cause: ErrRecursionExceeded}
		}
		if recursionLimit > 0 && state.step >= recursionLimit {
			return Result{}, ErrRecursionExceeded
		}
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		planned := planTasks(l.graph, state.channels, state.channelVersions, state.versionsSeen, state.pendingSends)
		if len(planned) == 0 {
			break
		}

		tasks := make([]*Task, len(planned))
		var toRun []*Task
		for i, p := range planned {
			t := &Task{
				ID:       ComputeTaskID(state.checkpointID, p.node.Name, state.step, p.path),
				Node:     p.node.Name,
				Path:     p.path,
				Input:    p.input,
				Triggers: p.node.Triggers,
				Step:     state.step,
			}
			tasks[i] = t
			if resolveFromPendingWrites(t, state.pendingWrites[t.ID]) {
				continue
			}
			toRun = append(toRun, t)
		}

		if l.cfg.metrics != nil {
			l.cfg.metrics.SetInflightTasks(len(toRun))
		}

		dispatchTasks(ctx, toRun, l.cfg.maxConcurrentTasks, func(tctx context.Context, t *Task) {
			l.runTask(tctx, cfg.ThreadID, t)
		})

		stepInterrupts, err := l.commit(ctx, cfg, state, tasks, toRun)
		if err != nil {
			return Result{}, err
		}
		interrupts = append(interrupts, stepInterrupts...)

		state.step++

		if len(stepInterrupts) > 0 {
			break
		}
	}

	values := make(map[string]any, len(state.channels))
	for name, ch := range state.channels {
		if v, err := ch.Get(); err == nil {
			values[name] = v
		}
	}

	finalCfg := cfg
	finalCfg.CheckpointID = state.checkpointID

	return Result{
		Values:      values,
		Interrupted: len(interrupts) > 0,
		Interrupts:  interrupts,
		Config:      finalCfg,
		Steps:       state.step,
	}, nil
}

// restore loads the latest checkpoint for cfg (or synthesizes an empty one)
// and instantiates live channels from it, replaying any pending writes
// recorded but not yet committed by a prior, interrupted run (spec §4.3
// step 6, crash recovery).
func (l *PregelLoop) restore(ctx context.Context, cfg checkpoint.Config) (*runState, error) {
	channels := make(map[string]Channel, len(l.graph.Channels))
	for name, spec := range l.graph.Channels {
		ch, err := NewChannel(name, spec)
		if err != nil {
			return nil, err
		}
		channels[name] = ch
	}

	state := &runState{
		channels:        channels,
		channelVersions: make(map[string]string),
		versionsSeen:    make(map[string]map[string]string),
		step:            0,
	}

	tuple, err := l.checkpointer.GetTuple(ctx, cfg)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return state, nil
		}
		return nil, err
	}

	for name, repr := range tuple.Checkpoint.ChannelValues {
		if ch, ok := channels[name]; ok {
			if err := ch.FromCheckpoint(repr); err != nil {
				return nil, err
			}
		}
	}
	state.channelVersions = tuple.Checkpoint.ChannelVersions
	state.versionsSeen = tuple.Checkpoint.VersionsSeen
	if state.versionsSeen == nil {
		state.versionsSeen = make(map[string]map[string]string)
	}
	state.pendingSends = toPendingSends(tuple.Checkpoint.PendingSends)
	state.checkpointID = tuple.Checkpoint.ID

	pendingWrites := make(map[string][]checkpoint.PendingWrite, len(tuple.PendingWrites))
	for _, w := range tuple.PendingWrites {
		pendingWrites[w.TaskID] = append(pendingWrites[w.TaskID], w)
	}
	state.pendingWrites = pendingWrites

	return state, nil
}

// resolveFromPendingWrites fills t.Writes from a prior attempt's persisted
// writes and reports whether t can skip execution entirely. A task that
// previously errored (its only persisted write is the __error__ marker) is
// never resolved this way — it must be re-run so the caller gets a fresh
// chance to succeed (spec §4.3 step 6, scenario S6).
func resolveFromPendingWrites(t *Task, pw []checkpoint.PendingWrite) bool {
	if len(pw) == 0 {
		return false
	}
	writes := make([]ChannelWrite, 0, len(pw))
	for _, w := range pw {
		if w.Channel == ErrorWritesChannel {
			return false
		}
		writes = append(writes, ChannelWrite{Channel: w.Channel, Value: w.Value})
	}
	t.Writes = writes
	return true
}

func toPendingSends(in []checkpoint.PendingSend) []checkpoint.PendingSend {
	out := make([]checkpoint.PendingSend, len(in))
	copy(out, in)
	return out
}

// ingest writes input to StartChannel directly (bypassing the task model,
// since no node produced it) and commits it as a standalone "input"
// checkpoint (spec §4.3 step 1).
func (l *PregelLoop) ingest(ctx context.Context, cfg checkpoint.Config, state *runState, input any) error {
	ch := state.channels[StartChannel]
	changed, err := ch.Update([]any{input})
	if err != nil {
		return err
	}
	if changed {
		newVersion, err := l.checkpointer.NextVersion(state.channelVersions[StartChannel], StartChannel, input)
		if err != nil {
			return err
		}
		state.channelVersions[StartChannel] = newVersion
	}

	cp, err := l.snapshotCheckpoint(state)
	if err != nil {
		return err
	}
	cfgCfg := cfg
	cfgCfg.CheckpointID = state.checkpointID
	newCfg, err := l.checkpointer.Put(ctx, cfgCfg, cp, checkpoint.Metadata{Source: checkpoint.SourceInput, Step: -1}, map[string]string{StartChannel: state.channelVersions[StartChannel]})
	if err != nil {
		return err
	}
	state.checkpointID = newCfg.CheckpointID
	if l.cfg.metrics != nil {
		l.cfg.metrics.IncrementCheckpoints(string(checkpoint.SourceInput))
	}
	l.cfg.emitter.Emit(emit.Event{RunID: cfg.ThreadID, Timestamp: time.Now(), Kind: emit.KindCheckpoint,
		Checkpoint: &emit.CheckpointEvent{CheckpointID: state.checkpointID, Step: -1, Source: string(checkpoint.SourceInput)}})
	return nil
}

// runTask executes one task's node body to completion, including retries
// and the per-node timeout, recording the task's writes/sends/interrupts or
// terminal error in place.
func (l *PregelLoop) runTask(ctx context.Context, runID string, t *Task) {
	start := time.Now()
	node := l.graph.Nodes[t.Node]
	timeout := nodeTimeout(node.Retry, node.Name, l.cfg.defaultNodeTimeout)

	l.cfg.emitter.Emit(emit.Event{RunID: runID, Timestamp: start, Kind: emit.KindTask,
		Task: &emit.TaskEvent{TaskID: t.ID, Node: t.Node, Step: t.Step, Path: t.Path.String()}})

	for attempt := 0; ; attempt++ {
		t.Attempt = attempt
		w := newTaskWriter(node.Writes)
		taskCtx := contextWithTaskID(ctx, t.ID)
		err := runWithTimeout(taskCtx, node.Name, timeout, func(tctx context.Context) error {
			return node.Body.Run(tctx, t.Input, w)
		})
		writes, sends, interrupts := w.snapshot()

		if err == nil {
			t.Writes, t.Sends, t.Interrupts = writes, sends, interrupts
			if len(interrupts) > 0 && l.cfg.metrics != nil {
				l.cfg.metrics.IncrementInterrupts(node.Name)
			}
			break
		}

		nodeErr := &NodeError{NodeName: node.Name, Attempt: attempt, Cause: err}
		if node.Retry != nil && node.Retry.shouldRetry(attempt, err) {
			if l.cfg.metrics != nil {
				l.cfg.metrics.IncrementRetries(node.Name)
			}
			time.Sleep(backoff(attempt, node.Retry.BaseDelay, node.Retry.MaxDelay, l.cfg.rng))
			continue
		}
		t.Err = nodeErr
		break
	}

	status := "success"
	if t.Err != nil {
		status = "error"
	}
	dur := time.Since(start)
	if l.cfg.metrics != nil {
		l.cfg.metrics.RecordTaskLatency(node.Name, dur, status)
	}

	errMsg := ""
	if t.Err != nil {
		errMsg = t.Err.Error()
	}
	l.cfg.emitter.Emit(emit.Event{RunID: runID, Timestamp: time.Now(), Kind: emit.KindTaskResult,
		TaskResult: &emit.TaskResultEvent{TaskID: t.ID, Node: t.Node, Step: t.Step, Err: errMsg, Attempt: t.Attempt, Duration: dur}})
}

// commit persists each freshly-run task's outcome as pending writes, then —
// only if every task succeeded — consumes every channel (ending the
// lifetime of what this superstep read), applies all tasks' writes to
// channels, bumps versions for channels that actually changed, records for
// each task's node the version each of its trigger channels had when the
// superstep was planned, queues sends for the next superstep, and persists
// the result as a new checkpoint (spec §4.3 steps 4-8). A write set that a
// channel rejects (ErrInvalidUpdate) aborts commit with that error. Tasks carrying an
// interrupt contribute no writes of their own (spec §4.3, "Dynamic
// interrupt" discards the attempt's writes) but do not block other tasks'
// writes in the same superstep from committing.
//
// If any task in the superstep raised a non-retryable NodeError, commit
// aborts before touching a single channel and returns that error: no
// channel value becomes visible to step s+1 from a partially-failed
// superstep (spec §7 "Atomicity", §8 property 3). The failing task's
// __error__ marker and every other task's writes are still persisted via
// PutWrites, so a subsequent Invoke resumes by re-running only the task(s)
// that errored, reusing the rest (spec §4.3 step 6, scenario S6).
func (l *PregelLoop) commit(ctx context.Context, cfg checkpoint.Config, state *runState, tasks []*Task, ranThisAttempt []*Task) ([]PendingInterrupt, error) {
	preCfg := cfg
	preCfg.CheckpointID = state.checkpointID
	for _, t := range ranThisAttempt {
		var writes []checkpoint.PendingWrite
		if t.Err != nil {
			writes = []checkpoint.PendingWrite{{TaskID: t.ID, Channel: ErrorWritesChannel, Value: t.Err.Error()}}
		} else if len(t.Interrupts) == 0 {
			for _, w := range t.Writes {
				writes = append(writes, checkpoint.PendingWrite{TaskID: t.ID, Channel: w.Channel, Value: w.Value})
			}
		}
		if len(writes) > 0 {
			_ = l.checkpointer.PutWrites(ctx, preCfg, writes, t.ID)
		}
	}

	for _, t := range tasks {
		if t.Err != nil {
			return nil, t.Err
		}
	}

	writesByChannel := make(map[string][]any)
	writesSummary := make(map[string]any)
	var nextSends []checkpoint.PendingSend
	var interrupts []PendingInterrupt

	for _, t := range tasks {
		if len(t.Interrupts) > 0 {
			for _, in := range t.Interrupts {
				interrupts = append(interrupts, PendingInterrupt{Node: t.Node, TaskID: t.ID, Payload: in.Payload})
				l.cfg.emitter.Emit(emit.Event{RunID: cfg.ThreadID, Timestamp: time.Now(), Kind: emit.KindInterrupt,
					Interrupt: &emit.InterruptEvent{TaskID: t.ID, Node: t.Node, Payload: in.Payload}})
			}
			continue
		}
		for _, w := range t.Writes {
			writesByChannel[w.Channel] = append(writesByChannel[w.Channel], w.Value)
		}
		for _, s := range t.Sends {
			nextSends = append(nextSends, checkpoint.PendingSend{Node: s.Node, Arg: s.Arg})
		}
	}

	for _, ch := range state.channels {
		ch.Consume()
	}

	dispatchVersions := copyStringMap(state.channelVersions)
	newVersions := make(map[string]string)
	for ch, writes := range writesByChannel {
		channel, ok := state.channels[ch]
		if !ok {
			continue
		}
		changed, err := channel.Update(writes)
		if err != nil {
			return nil, err
		}
		if changed {
			v, err := l.checkpointer.NextVersion(state.channelVersions[ch], ch, writes)
			if err == nil {
				state.channelVersions[ch] = v
				newVersions[ch] = v
			}
		}
		writesSummary[ch] = writes
	}

	for _, t := range tasks {
		if len(t.Interrupts) > 0 {
			continue
		}
		seen := state.versionsSeen[t.Node]
		if seen == nil {
			seen = make(map[string]string)
			state.versionsSeen[t.Node] = seen
		}
		for _, ch := range t.Triggers {
			if v, ok := dispatchVersions[ch]; ok {
				seen[ch] = v
			}
		}
	}

	state.pendingSends = nextSends

	cp, err := l.snapshotCheckpoint(state)
	if err == nil {
		putCfg := cfg
		putCfg.CheckpointID = state.checkpointID
		newCfg, err := l.checkpointer.Put(ctx, putCfg, cp, checkpoint.Metadata{Source: checkpoint.SourceLoop, Step: state.step, Writes: writesSummary}, newVersions)
		if err == nil {
			state.checkpointID = newCfg.CheckpointID
			if l.cfg.metrics != nil {
				l.cfg.metrics.IncrementCheckpoints(string(checkpoint.SourceLoop))
			}
			l.cfg.emitter.Emit(emit.Event{RunID: cfg.ThreadID, Timestamp: time.Now(), Kind: emit.KindCheckpoint,
				Checkpoint: &emit.CheckpointEvent{CheckpointID: state.checkpointID, Step: state.step, Source: string(checkpoint.SourceLoop)}})
		}
	}

	return interrupts, nil
}

func (l *PregelLoop) snapshotCheckpoint(state *runState) (checkpoint.Checkpoint, error) {
	values := make(map[string]any, len(state.channels))
	for name, ch := range state.channels {
		repr, err := ch.Checkpoint()
		if err != nil {
			return checkpoint.Checkpoint{}, err
		}
		if repr != nil {
			values[name] = repr
		}
	}
	pending := make([]checkpoint.PendingSend, len(state.pendingSends))
	copy(pending, state.pendingSends)

	return checkpoint.Checkpoint{
		SchemaVersion:   1,
		ChannelValues:   values,
		ChannelVersions: copyStringMap(state.channelVersions),
		VersionsSeen:    copyNestedStringMap(state.versionsSeen),
		PendingSends:    pending,
	}, nil
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyNestedStringMap(m map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(m))
	for k, v := range m {
		out[k] = copyStringMap(v)
	}
	return out
}

func (l *PregelLoop) acquireContextChannels(channels map[string]Channel) error {
	for _, ch := range channels {
		if cc, ok := ch.(*ContextChannel); ok {
			if err := cc.AcquireResource(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *PregelLoop) releaseContextChannels(channels map[string]Channel) {
	for _, ch := range channels {
		if cc, ok := ch.(*ContextChannel); ok {
			_ = cc.ReleaseResource()
		}
	}
}

// GetState returns the latest (or, if cfg.CheckpointID is set, a specific
// historical) checkpoint tuple for a thread (spec §6.5).
func (l *PregelLoop) GetState(ctx context.Context, cfg checkpoint.Config) (*checkpoint.Tuple, error) {
	return l.checkpointer.GetTuple(ctx, cfg)
}

// GetStateHistory lists checkpoints for a thread, newest-first, honoring
// opts (spec §6.5, get_state_history pagination).
func (l *PregelLoop) GetStateHistory(ctx context.Context, cfg checkpoint.Config, opts checkpoint.ListOptions) ([]checkpoint.Tuple, error) {
	return l.checkpointer.List(ctx, cfg, opts)
}

// UpdateState applies values directly to named channels as if asNode had
// written them, without running any node body, and commits the result as a
// new "update" checkpoint (spec §6.5, update_state).
func (l *PregelLoop) UpdateState(ctx context.Context, cfg checkpoint.Config, values map[string]any, asNode string) (checkpoint.Config, error) {
	state, err := l.restore(ctx, cfg)
	if err != nil {
		return checkpoint.Config{}, err
	}

	newVersions := make(map[string]string)
	writesSummary := make(map[string]any, len(values))
	for ch, v := range values {
		channel, ok := state.channels[ch]
		if !ok {
			return checkpoint.Config{}, &EngineError{Message: fmt.Sprintf("unknown channel %q", ch), Code: "INVALID_GRAPH", Cause: ErrInvalidGraph}
		}
		changed, err := channel.Update([]any{v})
		if err != nil {
			return checkpoint.Config{}, err
		}
		if changed {
			ver, err := l.checkpointer.NextVersion(state.channelVersions[ch], ch, v)
			if err != nil {
				return checkpoint.Config{}, err
			}
			state.channelVersions[ch] = ver
			newVersions[ch] = ver
		}
		writesSummary[ch] = v
	}

	if node, ok := l.graph.Nodes[asNode]; ok {
		seen := state.versionsSeen[asNode]
		if seen == nil {
			seen = make(map[string]string)
			state.versionsSeen[asNode] = seen
		}
		for _, ch := range node.Triggers {
			if v, ok := state.channelVersions[ch]; ok {
				seen[ch] = v
			}
		}
	}

	cp, err := l.snapshotCheckpoint(state)
	if err != nil {
		return checkpoint.Config{}, err
	}
	putCfg := cfg
	putCfg.CheckpointID = state.checkpointID
	return l.checkpointer.Put(ctx, putCfg, cp, checkpoint.Metadata{Source: checkpoint.SourceUpdate, Step: state.step, Writes: writesSummary, Extra: map[string]any{"as_node": asNode}}, newVersions)
}
