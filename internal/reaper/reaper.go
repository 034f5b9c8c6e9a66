package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/roomrelay/internal/domain"
)

// DefaultInterval is how often the reaper sweeps.
const DefaultInterval = 30 * time.Second

// Rooms lists the rooms to sweep.
type Rooms interface {
	IDs() []domain.RoomID
}

// Evictor removes dead members from a room.
type Evictor interface {
	EvictDead(roomID domain.RoomID) (int, error)
}

// Connections drops dead connection entries once their memberships are gone.
type Connections interface {
	Prune() int
}

// Observer is notified after each sweep.
type Observer interface {
	Reaped(members, connections int)
}

// Result summarizes one sweep.
type Result struct {
	RoomsSwept     int
	MembersEvicted int
	ConnsPruned    int
}

// Reaper periodically evicts members whose connections died without a clean
// close and deletes rooms left empty. It is the only path that reclaims
// resources of clients that vanish.
type Reaper struct {
	rooms    Rooms
	evictor  Evictor
	conns    Connections
	observer Observer
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// Option is a function that configures a Reaper.
type Option func(*Reaper)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithObserver registers a sweep observer.
func WithObserver(o Observer) Option {
	return func(r *Reaper) {
		r.observer = o
	}
}

// New creates a Reaper. It does nothing until Start is called.
func New(rooms Rooms, evictor Evictor, conns Connections, opts ...Option) *Reaper {
	r := &Reaper{
		rooms:    rooms,
		evictor:  evictor,
		conns:    conns,
		interval: DefaultInterval,
		logger:   slog.Default().With("component", "reaper"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Interval returns the sweep interval.
func (r *Reaper) Interval() time.Duration {
	return r.interval
}

// Start launches the sweep loop. It stops when ctx is cancelled or Stop is
// called. Starting a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.run(ctx, r.stop, r.stopped)
	r.logger.Info("Reaper started", "interval", r.interval)
}

// Stop ends the sweep loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	stop, stopped := r.stop, r.stopped
	r.stop, r.stopped = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	r.logger.Info("Reaper stopped")
}

func (r *Reaper) run(ctx context.Context, stop, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass over every room.
func (r *Reaper) Sweep() Result {
	var res Result
	for _, id := range r.rooms.IDs() {
		n, err := r.evictor.EvictDead(id)
		if err != nil {
			// Deleted since the listing.
			continue
		}
		res.RoomsSwept++
		res.MembersEvicted += n
	}
	res.ConnsPruned = r.conns.Prune()

	if r.observer != nil {
		r.observer.Reaped(res.MembersEvicted, res.ConnsPruned)
	}
	if res.MembersEvicted > 0 || res.ConnsPruned > 0 {
		r.logger.Info("Reaped dead connections",
			"rooms_swept", res.RoomsSwept,
			"members_evicted", res.MembersEvicted,
			"connections_pruned", res.ConnsPruned)
	}
	return res
}
