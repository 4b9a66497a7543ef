package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tracklink/internal/monitoring"
)

// Recorder queues events and samples for a background writer so the frame
// path never waits on disk. When the queue is full entries are dropped and
// counted.
type Recorder struct {
	journal     *Journal
	queue       chan entry
	logInterval time.Duration

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

type entry struct {
	event  *Event
	sample *Sample
}

// NewRecorder creates a recorder with room for size pending entries.
func NewRecorder(j *Journal, size int, logInterval time.Duration) *Recorder {
	if size <= 0 {
		size = 256
	}
	if logInterval <= 0 {
		logInterval = 30 * time.Second
	}
	return &Recorder{
		journal:     j,
		queue:       make(chan entry, size),
		logInterval: logInterval,
	}
}

// RecordEvent queues e without blocking.
func (r *Recorder) RecordEvent(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.enqueue(entry{event: &e})
}

// RecordSample queues s without blocking.
func (r *Recorder) RecordSample(s Sample) {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	r.enqueue(entry{sample: &s})
}

func (r *Recorder) enqueue(e entry) {
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
	}
}

// Run writes queued entries until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.logInterval)
	defer ticker.Stop()
	var lastDropped, lastFailed uint64

	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case e := <-r.queue:
			r.write(e)
		case <-ticker.C:
			d, f := r.dropped.Load(), r.failed.Load()
			if d > lastDropped || f > lastFailed {
				monitoring.Logf("[Journal] %d entries dropped, %d writes failed in the last %s", d-lastDropped, f-lastFailed, r.logInterval)
				lastDropped, lastFailed = d, f
			}
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		default:
			return
		}
	}
}

func (r *Recorder) write(e entry) {
	var err error
	switch {
	case e.event != nil:
		err = r.journal.Record(*e.event)
	case e.sample != nil:
		err = r.journal.RecordSample(*e.sample)
	}
	if err != nil {
		r.failed.Add(1)
		return
	}
	r.written.Add(1)
}

// RecorderStats is a snapshot of recorder counters.
type RecorderStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Pending int    `json:"pending"`
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
		Pending: len(r.queue),
	}
}
