// Package dump implements the manual-dump side channel: injected code asks
// for an out-of-band snapshot at a chosen invocation of a call site.
package dump

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/risor-io/risor/object"

	"github.com/jward/livescope/internal/protocol"
	"github.com/jward/livescope/internal/scope"
	"github.com/jward/livescope/internal/snapshot"
)

// ModuleName is the importable helper module exposing dump. It holds
// run-scoped state and is evicted from the module cache after every run.
const ModuleName = "live_dump"

// OutputKey is the snapshot key used when a single value is dumped.
const OutputKey = "dump output"

// Site identifies a call site by file, enclosing function and line.
type Site struct {
	File     string
	Function string
	Line     int
}

func (s Site) key() string {
	return fmt.Sprintf("%s\x00%s\x00%d", s.File, s.Function, s.Line)
}

// Emitter writes a mid-run Result to the result channel.
type Emitter func(*protocol.Result) error

// Request is one dump call.
type Request struct {
	Site Site
	// Value is dumped under OutputKey. When nil the Scope is dumped.
	Value object.Object
	// Scope supplies the bindings visible at the call. Only consulted when
	// Value is nil.
	Scope func() *scope.Scope
	// At lists the invocation counts that fire. Empty means {0}.
	At []int
	// Filter applies when the whole scope is dumped.
	Filter snapshot.Filter
}

// Channel counts invocations per call site and emits a Result when the count
// matches. Counts live until Reset.
type Channel struct {
	mu      sync.Mutex
	counts  map[string]int
	encoder *snapshot.Encoder
	emit    Emitter
}

// NewChannel returns a Channel that encodes with enc and writes through emit.
// A nil emit discards dumps after counting them.
func NewChannel(enc *snapshot.Encoder, emit Emitter) *Channel {
	return &Channel{
		counts:  make(map[string]int),
		encoder: enc,
		emit:    emit,
	}
}

// SetEmitter replaces the emitter.
func (c *Channel) SetEmitter(emit Emitter) {
	c.mu.Lock()
	c.emit = emit
	c.mu.Unlock()
}

// Reset forgets every call-site count so the next run starts fresh.
func (c *Channel) Reset() {
	c.mu.Lock()
	clear(c.counts)
	c.mu.Unlock()
}

// Count returns the current invocation count of site, or -1 if it has not
// been called since the last Reset.
func (c *Channel) Count(site Site) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[site.key()]
	if !ok {
		return -1
	}
	return n
}

// Dump records one invocation of req.Site. When the invocation count is in
// req.At the snapshot is emitted and returned; otherwise Dump returns nil.
func (c *Channel) Dump(req Request) (*protocol.Result, error) {
	start := time.Now()

	c.mu.Lock()
	key := req.Site.key()
	count := 0
	if prev, ok := c.counts[key]; ok {
		count = prev + 1
	}
	c.counts[key] = count
	emit := c.emit
	c.mu.Unlock()

	at := req.At
	if len(at) == 0 {
		at = []int{0}
	}
	if !slices.Contains(at, count) {
		return nil, nil
	}

	var doc string
	if req.Value != nil {
		doc = c.encoder.EncodeFields(snapshot.Fields{{Key: OutputKey, Value: req.Value}})
	} else {
		var s *scope.Scope
		if req.Scope != nil {
			s = req.Scope()
		}
		doc = c.encoder.Encode(s, req.Filter)
	}

	res := protocol.NewResult()
	res.UserVariables = doc
	res.Caller = req.Site.Function
	res.LineNo = req.Site.Line
	res.Done = false
	res.Count = count
	res.TotalTime = time.Since(start).Seconds()

	if emit != nil {
		if err := emit(res); err != nil {
			return res, fmt.Errorf("dump: emit: %w", err)
		}
	}
	return res, nil
}
