package runner

import (
	"encoding/json"

	"trustcollapse.dev/internal/observerproto"
	"trustcollapse.dev/internal/sim/world"
)

// ObserverJoinRequest registers a read-only frame stream. Out is owned by the
// loop from then on and is closed when the session leaves or the loop exits.
type ObserverJoinRequest struct {
	SessionID  string
	Out        chan []byte
	Grids      bool
	Histogram  bool
	EveryTicks int
}

type ObserverSubscribeRequest struct {
	SessionID  string
	Grids      bool
	Histogram  bool
	EveryTicks int
}

type observerCfg struct {
	grids     bool
	histogram bool
	every     int
}

type observerClient struct {
	id    string
	out   chan []byte
	cfg   observerCfg
	since int
}

func newObserverCfg(grids, hist bool, every int) observerCfg {
	if every <= 0 {
		every = 1
	}
	return observerCfg{grids: grids, histogram: hist, every: every}
}

// JoinObserver hands a session to the loop. It fails with ErrBusy instead of
// blocking when the loop is backed up.
func (r *Runner) JoinObserver(req ObserverJoinRequest) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.observerJoin <- req:
		return nil
	default:
		return ErrBusy
	}
}

// SubscribeObserver updates a session's settings. Updates are dropped under
// load; clients may resend.
func (r *Runner) SubscribeObserver(req ObserverSubscribeRequest) {
	select {
	case r.observerSub <- req:
	default:
	}
}

// LeaveObserver removes a session and closes its stream. It waits for the
// loop to take the request unless the loop has stopped, in which case every
// stream is already closed.
func (r *Runner) LeaveObserver(sessionID string) {
	select {
	case r.observerLeave <- sessionID:
	case <-r.done:
	}
}

func (r *Runner) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	if _, ok := r.departed[req.SessionID]; ok {
		// The leave overtook the join.
		delete(r.departed, req.SessionID)
		close(req.Out)
		return
	}
	if old := r.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	c := &observerClient{
		id:  req.SessionID,
		out: req.Out,
		cfg: newObserverCfg(req.Grids, req.Histogram, req.EveryTicks),
	}
	r.observers[req.SessionID] = c
	// New sessions get the current state right away.
	b, err := json.Marshal(r.frame(r.Metrics(), c.cfg.grids, c.cfg.histogram))
	if err != nil {
		r.log.Printf("observer %s: encode frame: %v", c.id, err)
		return
	}
	sendLatest(c.out, b)
}

func (r *Runner) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := r.observers[req.SessionID]
	if c == nil {
		return
	}
	c.cfg = newObserverCfg(req.Grids, req.Histogram, req.EveryTicks)
	c.since = 0
}

func (r *Runner) handleObserverLeave(id string) {
	c := r.observers[id]
	if c == nil {
		r.departed[id] = struct{}{}
		return
	}
	delete(r.observers, id)
	close(c.out)
}

func (r *Runner) closeObservers() {
	for id, c := range r.observers {
		delete(r.observers, id)
		close(c.out)
	}
	// Joins still buffered never reached the loop; close their streams too.
	for {
		select {
		case req := <-r.observerJoin:
			if req.Out != nil {
				close(req.Out)
			}
		default:
			clear(r.departed)
			return
		}
	}
}

func (r *Runner) broadcast(m Metrics) {
	if len(r.observers) == 0 {
		return
	}
	// One encoding per (grids, histogram) variant.
	var cache [4][]byte
	for _, c := range r.observers {
		c.since++
		if c.since < c.cfg.every {
			continue
		}
		c.since = 0
		k := 0
		if c.cfg.grids {
			k |= 1
		}
		if c.cfg.histogram {
			k |= 2
		}
		if cache[k] == nil {
			b, err := json.Marshal(r.frame(m, c.cfg.grids, c.cfg.histogram))
			if err != nil {
				r.log.Printf("encode frame: %v", err)
				return
			}
			cache[k] = b
		}
		sendLatest(c.out, cache[k])
	}
}

func (r *Runner) frame(m Metrics, grids, hist bool) observerproto.FrameMsg {
	f := observerproto.FrameMsg{
		Type:            observerproto.TypeFrame,
		ProtocolVersion: observerproto.Version,
		Status:          m.Status(),
		QueueLen:        m.QueueLen,
		MigratedTotal:   m.MigratedTotal,
		MigratedTick:    m.MigratedTick,
		EnqueuedTick:    m.EnqueuedTick,
		Good:            observerproto.WorldFrame{Summary: m.Good},
		Mixed:           observerproto.WorldFrame{Summary: m.Mixed},
	}
	good, mixed := r.eng.World(world.Good), r.eng.World(world.Mixed)
	if hist {
		f.Good.Histogram = world.Histogram(good, r.opts.Histogram)
		f.Mixed.Histogram = world.Histogram(mixed, r.opts.Histogram)
	}
	if grids {
		f.Good.Grid = observerproto.NewGridFrame(good)
		f.Mixed.Grid = observerproto.NewGridFrame(mixed)
	}
	return f
}

// sendLatest delivers b, dropping the oldest queued frame if the consumer is
// behind.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
