package geocore

import (
	"sync"
	"time"
)

// FrameRunner is one synchronous stage applied to a completed DataFrame
// (§4.7): either a FrameSender (serialize and post to a publisher) or a
// domain-specific stage such as RasterSampler.
type FrameRunner interface {
	// Run processes frame and reports whether it should continue running;
	// false signals a fatal stage error (§7's RunnerError).
	Run(frame *DataFrame) bool
	// Release is called once Run returns, regardless of outcome.
	Release()
}

// FrameSender is a FrameRunner that serializes a frame's columns and posts
// the resulting wire records to a named publisher channel (§4.6, §4.7).
type FrameSender struct {
	Publisher  chan<- []WireRecord
	FrameKey   uint32
	RequestKey uint32
	Meta       []*Column
}

func (s *FrameSender) Run(frame *DataFrame) bool {
	records, err := EncodeFrame(frame, s.Meta, s.FrameKey, s.RequestKey)
	if err != nil {
		LogError(err, "frame encode failed")
		return false
	}
	s.Publisher <- records
	return true
}

func (s *FrameSender) Release() {}

// FrameScheduler is the single-threaded, cooperative queue of §4.7: it
// drains runner tasks posted by a frame's producer and applies each to the
// frame in strict FIFO order, polling at SYS_TIMEOUT granularity so a
// cleared active flag is noticed promptly (§5's "Suspension points").
type FrameScheduler struct {
	queue     chan FrameRunner
	frame     *DataFrame
	active    *atomicBool
	timeout   time.Duration
	mu        sync.Mutex
	runtime   time.Duration
	done      chan struct{}
	fatalStop bool
}

// NewFrameScheduler builds a scheduler bound to frame, with a runner queue
// of the given capacity (the "bounded publisher/subscriber pair" of §4.7).
func NewFrameScheduler(frame *DataFrame, queueCapacity int, timeout time.Duration) *FrameScheduler {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &FrameScheduler{
		queue:   make(chan FrameRunner, queueCapacity),
		frame:   frame,
		active:  newAtomicBool(true),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Submit enqueues a runner, blocking if the bounded queue is full (§4.7's
// "bounded publisher/subscriber pair" backpressure).
func (s *FrameScheduler) Submit(r FrameRunner) {
	s.queue <- r
}

// Stop posts the termination sentinel (a nil runner) that ends Run's loop.
func (s *FrameScheduler) Stop() {
	s.active.set(false)
	s.queue <- nil
}

// Run is the cooperative task body of §4.7's pseudocode: it loops applying
// runners FIFO until the termination sentinel, a fatal stage error, or a
// receive timeout after the active flag is cleared, signaling completion on
// done. A runner is not run against a frame with no rows, but is still
// released.
func (s *FrameScheduler) Run() {
	defer close(s.done)

	for {
		var runner FrameRunner
		select {
		case runner = <-s.queue:
		case <-time.After(s.timeout):
			if !s.active.get() {
				return
			}
			continue
		}

		if runner == nil {
			return
		}

		if s.frame.Rows() > 0 {
			start := time.Now()
			ok := runner.Run(s.frame)
			s.updateRunTime(time.Since(start))
			if !ok {
				s.frame.SetActive(false)
				s.frame.SetInError(true)
				s.fatalStop = true
			}
		}
		runner.Release()

		if s.fatalStop {
			return
		}
	}
}

// Done reports completion of the scheduler's loop, mirroring §4.7's
// signal_run_complete.
func (s *FrameScheduler) Done() <-chan struct{} {
	return s.done
}

// updateRunTime is the only mutation a runner makes visible to an outside
// reader, guarded by a mutex per §4.7.
func (s *FrameScheduler) updateRunTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime += d
}

func (s *FrameScheduler) RunTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

// atomicBool is a tiny mutex-guarded bool, used for the frame's "active"
// flag that every reader/stage honors at SYS_TIMEOUT-granularity poll
// boundaries (§5).
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func newAtomicBool(v bool) *atomicBool {
	return &atomicBool{v: v}
}

func (b *atomicBool) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.v = v
}
