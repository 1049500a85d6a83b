// Package runner hosts an engine on a fixed-rate loop. The loop goroutine is
// the only one that touches the engine; everything else talks to it through
// channels and reads published metrics.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"trustcollapse.dev/internal/observerproto"
	"trustcollapse.dev/internal/sim/engine"
	"trustcollapse.dev/internal/sim/world"
)

const DefaultTickRateHz = 12

type Options struct {
	TickRateHz  int
	StartPaused bool
	Seed        int64 // reported to observers only
	Histogram   world.HistogramSpec

	// RunID tags every tick log entry of this process so replay can tell
	// restarts apart. Defaults to the start time.
	RunID string

	// CommandBuffer bounds the number of commands waiting for the next tick
	// boundary. Further commands fail with ErrBusy.
	CommandBuffer int

	Logger     *log.Logger
	TickLogger TickLogger

	// SnapshotSink receives engine snapshots every SnapshotEveryTicks ticks
	// and on RequestSnapshot. Sends never block the loop.
	SnapshotSink       chan<- engine.Snapshot
	SnapshotEveryTicks uint64
}

type Runner struct {
	eng     *engine.Engine
	opts    Options
	log     *log.Logger
	tickLog TickLogger
	params  observerproto.WorldParams

	cmds          chan cmdReq
	snapReq       chan chan engine.Snapshot
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once
	done          chan struct{}
	started       atomic.Bool

	// Loop-owned state.
	running    bool
	rate       int
	applied    []Command
	observers  map[string]*observerClient
	departed   map[string]struct{}
	stepErrors uint64
	lastStepMS float64

	metrics atomic.Value
}

type cmdReq struct {
	cmd  Command
	resp chan cmdResp
}

type cmdResp struct {
	status observerproto.Status
	err    error
}

// New wraps eng. The engine must not be used by anyone else once Run starts.
func New(eng *engine.Engine, opts Options) *Runner {
	if opts.TickRateHz <= 0 {
		opts.TickRateHz = DefaultTickRateHz
	}
	if opts.TickRateHz > MaxTickRateHz {
		opts.TickRateHz = MaxTickRateHz
	}
	if opts.CommandBuffer <= 0 {
		opts.CommandBuffer = 256
	}
	if opts.RunID == "" {
		opts.RunID = strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if opts.Histogram.Bins <= 0 {
		opts.Histogram = world.DefaultHistogram()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[runner] ", log.LstdFlags|log.Lmicroseconds)
	}
	cfg := eng.Config()
	r := &Runner{
		eng:     eng,
		opts:    opts,
		log:     logger,
		tickLog: opts.TickLogger,
		params: observerproto.WorldParams{
			Width:           cfg.Width,
			Height:          cfg.Height,
			Seed:            opts.Seed,
			StreakThreshold: cfg.StreakThreshold,
			MigrationCap:    cfg.MigrationCap,
			Histogram:       opts.Histogram,
		},

		cmds:          make(chan cmdReq, opts.CommandBuffer),
		snapReq:       make(chan chan engine.Snapshot, 16),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),

		running:   !opts.StartPaused,
		rate:      opts.TickRateHz,
		observers: map[string]*observerClient{},
		departed:  map[string]struct{}{},
	}
	r.publish(world.Summarize(eng.World(world.Good)), world.Summarize(eng.World(world.Mixed)))
	return r
}

func tickInterval(hz int) time.Duration { return time.Second / time.Duration(hz) }

// Run drives the loop until ctx is canceled or Stop is called. Commands are
// buffered and applied in arrival order at the next tick boundary, after
// which the engine steps once if the runner is not paused.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runner: already started")
	}
	defer close(r.done)
	defer r.closeObservers()

	ticker := time.NewTicker(tickInterval(r.rate))
	defer ticker.Stop()

	var pending []cmdReq
	for {
		select {
		case <-ctx.Done():
			failPending(pending)
			return ctx.Err()
		case <-r.stop:
			failPending(pending)
			return nil
		case req := <-r.cmds:
			pending = append(pending, req)
		case resp := <-r.snapReq:
			resp <- r.checkpoint()
		case req := <-r.observerJoin:
			r.handleObserverJoin(req)
		case req := <-r.observerSub:
			r.handleObserverSubscribe(req)
		case id := <-r.observerLeave:
			r.handleObserverLeave(id)
		case <-ticker.C:
			rate := r.rate
			r.boundary(pending)
			clear(pending)
			pending = pending[:0]
			if r.rate != rate {
				ticker.Reset(tickInterval(r.rate))
			}
		}
	}
}

func (r *Runner) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Done is closed once Run has returned.
func (r *Runner) Done() <-chan struct{} { return r.done }

func failPending(pending []cmdReq) {
	for _, req := range pending {
		reply(req, observerproto.Status{}, ErrStopped)
	}
}

func reply(req cmdReq, st observerproto.Status, err error) {
	if req.resp == nil {
		return
	}
	select {
	case req.resp <- cmdResp{status: st, err: err}:
	default:
		// Caller gave up; never block the loop.
	}
}

func (r *Runner) boundary(pending []cmdReq) {
	errs := make([]error, len(pending))
	stepped, changed := false, false
	for i, req := range pending {
		s, err := r.apply(req.cmd)
		if err != nil {
			r.log.Printf("command %s: %v", req.cmd.Kind, err)
		} else {
			changed = true
		}
		stepped = stepped || s
		errs[i] = err
	}
	switch {
	case r.running:
		r.step()
	case changed && !stepped:
		r.publish(world.Summarize(r.eng.World(world.Good)), world.Summarize(r.eng.World(world.Mixed)))
	}
	// Reply after publishing so callers observe their effect in Metrics.
	st := r.status()
	for i, req := range pending {
		reply(req, st, errs[i])
	}
}

func (r *Runner) apply(c Command) (stepped bool, err error) {
	switch c.Kind {
	case CmdStart:
		r.running = true
	case CmdPause:
		r.running = false
	case CmdStep:
		// A running loop steps on its own at this boundary.
		if !r.running {
			r.step()
			return true, nil
		}
	case CmdSetRate:
		if !validRate(c.Rate) {
			return false, fmt.Errorf("%w: %d", ErrInvalidRate, c.Rate)
		}
		r.rate = c.Rate
	case CmdReset, CmdSetShuffle, CmdRandomizeMixed:
		if err := c.ApplyTo(r.eng); err != nil {
			return false, err
		}
		r.applied = append(r.applied, c)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
	return false, nil
}

func (r *Runner) step() {
	start := time.Now()
	entry, err := StepOnce(r.eng, r.opts.RunID, r.applied, r.tickLog != nil)
	r.lastStepMS = float64(time.Since(start).Microseconds()) / 1000.0
	r.applied = nil
	if err != nil {
		r.stepErrors++
		r.running = false
		r.log.Printf("tick %d: %v; paused", entry.Tick, err)
	}
	if r.tickLog != nil {
		if err := r.tickLog.WriteTick(entry); err != nil {
			r.log.Printf("tick log: %v", err)
		}
	}
	r.publish(entry.Good, entry.Mixed)

	if every := r.opts.SnapshotEveryTicks; every > 0 && r.opts.SnapshotSink != nil && r.eng.Tick()%every == 0 {
		select {
		case r.opts.SnapshotSink <- r.checkpoint():
		default:
			r.log.Printf("tick %d: snapshot sink backpressure", r.eng.Tick())
		}
	}
}

// checkpoint snapshots the engine together with the number of commands
// applied since the last step. Those commands are logged with the next tick.
func (r *Runner) checkpoint() engine.Snapshot {
	s := r.eng.Snapshot()
	s.CommandsApplied = len(r.applied)
	return s
}

func (r *Runner) status() observerproto.Status {
	return observerproto.Status{
		Tick:           r.eng.Tick(),
		Running:        r.running,
		TickRateHz:     r.rate,
		ShuffleEnabled: r.eng.ShuffleEnabled(),
	}
}

// Do queues cmd for the next tick boundary and waits until it has been
// applied. It fails fast with ErrBusy when the command buffer is full.
func (r *Runner) Do(ctx context.Context, cmd Command) (observerproto.Status, error) {
	select {
	case <-r.done:
		return observerproto.Status{}, ErrStopped
	default:
	}
	resp := make(chan cmdResp, 1)
	select {
	case r.cmds <- cmdReq{cmd: cmd, resp: resp}:
	default:
		return observerproto.Status{}, ErrBusy
	}
	select {
	case res := <-resp:
		return res.status, res.err
	case <-r.done:
		return observerproto.Status{}, ErrStopped
	case <-ctx.Done():
		return observerproto.Status{}, ctx.Err()
	}
}

// Submit queues cmd without waiting for it to be applied.
func (r *Runner) Submit(cmd Command) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.cmds <- cmdReq{cmd: cmd}:
		return nil
	default:
		return ErrBusy
	}
}

// Snapshot returns a deep copy of the engine state, taken on the loop
// goroutine between ticks.
func (r *Runner) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	resp := make(chan engine.Snapshot, 1)
	select {
	case r.snapReq <- resp:
	case <-r.done:
		return engine.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return engine.Snapshot{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-r.done:
		return engine.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return engine.Snapshot{}, ctx.Err()
	}
}

// RequestSnapshot hands a snapshot of the current state to the snapshot sink
// and returns its tick.
func (r *Runner) RequestSnapshot(ctx context.Context) (uint64, error) {
	if r.opts.SnapshotSink == nil {
		return 0, ErrNoSnapshotSink
	}
	s, err := r.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	select {
	case r.opts.SnapshotSink <- s:
		return s.Tick, nil
	default:
		return s.Tick, fmt.Errorf("%w: snapshot sink full", ErrBusy)
	}
}

// Params describes the fixed grid parameters of the hosted engine.
func (r *Runner) Params() observerproto.WorldParams { return r.params }
