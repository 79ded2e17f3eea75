package audit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// GapMetadataKey is set on the first delivered event of a correlation after
// earlier events of that correlation were lost. Its value is how many.
const GapMetadataKey = "audit_gap"

// maxTrackedGaps bounds the per-correlation gap table. Losses beyond it are
// still counted by Dropped.
const maxTrackedGaps = 256

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher hands audit events to a sink on its own goroutine so that
// sign-in and recovery never wait on audit I/O.
//
// Losses are visible twice: Dropped counts every event that never reached
// the queue, and a correlated trail (one recovery attempt, say) carries the
// number of events it lost on its next delivered event, so a reader of the
// trail sees the hole instead of a clean sequence.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event
	stop  chan struct{}
	idle  sync.WaitGroup

	dropped  atomic.Uint64
	stopping atomic.Bool
	stopOnce sync.Once

	gapMu sync.Mutex
	gaps  map[string]int
}

// NewDispatcher starts delivery. It returns nil when auditing is disabled;
// every method of a nil Dispatcher is a no-op.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
		gaps:  map[string]int{},
	}
	d.idle.Add(1)
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer d.idle.Done()
	ctx := context.Background()
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(ctx, event)
		case <-d.stop:
			d.flush(ctx)
			return
		}
	}
}

// flush delivers whatever is still queued at shutdown.
func (d *Dispatcher) flush(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(ctx, event)
		default:
			return
		}
	}
}

// Emit queues event, stamping ID and Timestamp when unset. With DropIfFull a
// full queue loses the event; otherwise Emit waits for room until ctx ends,
// which also loses it. Events offered after Close are ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = NewID(event.Timestamp)
	}

	gap := d.takeGap(event.CorrelationID)
	if gap > 0 {
		event.Metadata = withGap(event.Metadata, gap)
	}

	var lost <-chan struct{}
	if !d.cfg.DropIfFull {
		lost = ctx.Done()
	}
	select {
	case d.queue <- event:
		return
	case <-d.stop:
		return
	default:
		if d.cfg.DropIfFull {
			d.lose(event.CorrelationID, gap)
			return
		}
	}

	select {
	case d.queue <- event:
	case <-d.stop:
	case <-lost:
		d.lose(event.CorrelationID, gap)
	}
}

// lose records a lost event along with the earlier losses it was carrying.
func (d *Dispatcher) lose(correlationID string, carried int) {
	d.dropped.Add(1)
	if correlationID == "" {
		return
	}
	d.gapMu.Lock()
	defer d.gapMu.Unlock()
	if _, ok := d.gaps[correlationID]; !ok && len(d.gaps) >= maxTrackedGaps {
		return
	}
	d.gaps[correlationID] += carried + 1
}

func (d *Dispatcher) takeGap(correlationID string) int {
	if correlationID == "" {
		return 0
	}
	d.gapMu.Lock()
	defer d.gapMu.Unlock()
	n := d.gaps[correlationID]
	delete(d.gaps, correlationID)
	return n
}

func withGap(metadata map[string]string, gap int) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[GapMetadataKey] = strconv.Itoa(gap)
	return out
}

// Close stops intake, delivers what is queued and waits for the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
		d.idle.Wait()
	})
}

// Dropped reports how many events were lost.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
