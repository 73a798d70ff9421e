// Package journal records spirit lifecycle events to durable sinks for
// later inspection. A journal is write-only from the interpreter's point of
// view: nothing is ever restored from it.
package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/coven/vm"
)

var log = commonlog.GetLogger("coven.journal")

// Record is one journaled lifecycle transition.
type Record struct {
	Run    string    `cbor:"1,keyasint"`
	Seq    uint64    `cbor:"2,keyasint"`
	Spirit uint64    `cbor:"3,keyasint"`
	Parent uint64    `cbor:"4,keyasint"`
	Ritual string    `cbor:"5,keyasint"`
	State  string    `cbor:"6,keyasint"`
	Detail string    `cbor:"7,keyasint,omitempty"`
	Time   time.Time `cbor:"8,keyasint"`
}

func (r Record) String() string {
	s := fmt.Sprintf("%s #%d %-9s spirit #%d (%s) parent #%d",
		r.Time.Format(time.RFC3339Nano), r.Seq, r.State, r.Spirit, r.Ritual, r.Parent)
	if r.Detail != "" {
		s += ": " + r.Detail
	}
	return s
}

// Sink stores records. Write is never called concurrently.
type Sink interface {
	Write(Record) error
	Close() error
}

// queueSize bounds how many records may wait for the writer before
// Observe blocks.
const queueSize = 256

type entry struct {
	rec     Record
	flushed chan struct{} // set on flush markers instead of a record
}

// Journal fans lifecycle events out to its sinks. It implements vm.Observer.
// Records are numbered in the order Observe accepts them and written by a
// single goroutine in that order, so spirits never wait on sink I/O unless
// the queue is full.
type Journal struct {
	run uuid.UUID

	mu     sync.Mutex
	seq    uint64
	closed bool
	queue  chan entry
	done   chan struct{}

	sinks []Sink // owned by drain

	errMu sync.Mutex
	err   error
}

// New creates a journal with a fresh run id and starts its writer.
func New(sinks ...Sink) *Journal {
	j := &Journal{
		run:   uuid.New(),
		sinks: sinks,
		queue: make(chan entry, queueSize),
		done:  make(chan struct{}),
	}
	go j.drain()
	return j
}

// RunID identifies this journal's records.
func (j *Journal) RunID() uuid.UUID { return j.run }

// Observe queues e for every sink. Events observed after Close are dropped.
func (j *Journal) Observe(e vm.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		log.Warningf("spirit #%d %s after journal close; dropped", e.Spirit, e.State)
		return
	}
	j.seq++
	j.queue <- entry{rec: Record{
		Run:    j.run.String(),
		Seq:    j.seq,
		Spirit: uint64(e.Spirit),
		Parent: uint64(e.Parent),
		Ritual: e.Ritual,
		State:  e.State.String(),
		Detail: e.Detail,
		Time:   e.Time.UTC(),
	}}
}

// drain writes queued records to every sink. The first sink error is kept;
// later records are still offered to all sinks.
func (j *Journal) drain() {
	defer close(j.done)
	for en := range j.queue {
		if en.flushed != nil {
			close(en.flushed)
			continue
		}
		for _, s := range j.sinks {
			if err := s.Write(en.rec); err != nil {
				j.fail(err)
			}
		}
	}
}

func (j *Journal) fail(err error) {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	if j.err == nil {
		j.err = err
		log.Errorf("journal write failed: %v", err)
	}
}

func (j *Journal) firstErr() error {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	return j.err
}

// Flush waits until every record observed so far has been written.
func (j *Journal) Flush() {
	flushed := make(chan struct{})
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.queue <- entry{flushed: flushed}
	j.mu.Unlock()
	<-flushed
}

// Err flushes and returns the first write error.
func (j *Journal) Err() error {
	j.Flush()
	return j.firstErr()
}

// Close writes the remaining records, closes every sink and returns the
// first write or close error.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		<-j.done
		return j.firstErr()
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done

	var g errgroup.Group
	for _, s := range j.sinks {
		g.Go(s.Close)
	}
	err := g.Wait()
	if werr := j.firstErr(); werr != nil {
		return werr
	}
	return err
}
