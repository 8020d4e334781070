package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/oddnote/midimind/midierr"
	"github.com/oddnote/midimind/queue"
)

// eventHeap is a min-heap over *ScheduledEvent ordered by (DueUS, Seq),
// giving FIFO among equal deadlines (spec §4.7). Pointer elements so
// container/heap's Push(x any) boxes a pooled *ScheduledEvent instead
// of a fresh value on every submission.
type eventHeap []*ScheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].DueUS != h[j].DueUS {
		return h[i].DueUS < h[j].DueUS
	}
	return h[i].Seq < h[j].Seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*ScheduledEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}

// PriorityScheduler is the min-heap dispatch strategy of spec §4.7:
// single dispatch goroutine, lock + condition variable for wakeups,
// bounded re-evaluation wake (MaxWake) so newly-submitted earlier
// events are never missed for long.
type PriorityScheduler struct {
	mu   sync.Mutex
	cond *sync.Cond
	heap eventHeap
	seq  uint64
	pool *queue.Pool[ScheduledEvent]

	dispatcher Dispatcher
	now        func() int64

	closed     bool
	doneCh     chan struct{}
	stopTicker chan struct{}
}

// NewPriorityScheduler returns a PriorityScheduler delivering due
// events to dispatcher, using now for the current clock in
// microseconds. The dispatch goroutine starts immediately.
func NewPriorityScheduler(dispatcher Dispatcher, now func() int64) *PriorityScheduler {
	s := &PriorityScheduler{
		dispatcher: dispatcher,
		now:        now,
		doneCh:     make(chan struct{}),
		stopTicker: make(chan struct{}),
		pool:       queue.NewPool[ScheduledEvent](),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.tick()
	go s.run()
	return s
}

// Submit enqueues ev, assigning it the next monotonic sequence number
// used to break (due, seq) ties.
func (s *PriorityScheduler) Submit(ev ScheduledEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return midierr.New("scheduler.PriorityScheduler.Submit", midierr.KindTransportClosed)
	}
	s.seq++
	ev.Seq = s.seq
	pooled := s.pool.Get()
	*pooled = ev
	heap.Push(&s.heap, pooled)
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

// Tick is a no-op for PriorityScheduler: dispatch is driven by its own
// goroutine, not by an externally-pumped tick. Present to satisfy
// Scheduler.
func (s *PriorityScheduler) Tick(nowUS int64) {}

func epsilonUS() int64 { return int64(Epsilon / time.Microsecond) }

// tick periodically broadcasts so the dispatch loop re-evaluates the
// heap even with no new submissions, bounding wake latency to MaxWake.
func (s *PriorityScheduler) tick() {
	t := time.NewTicker(MaxWake)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-s.stopTicker:
			return
		}
	}
}

func (s *PriorityScheduler) run() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			close(s.doneCh)
			return
		}
		if s.heap.Len() == 0 {
			s.cond.Wait()
			continue
		}
		head := s.heap[0]
		if head.DueUS > s.now()+epsilonUS() {
			s.cond.Wait()
			continue
		}
		for s.heap.Len() > 0 && s.heap[0].DueUS <= s.now()+epsilonUS() {
			ev := heap.Pop(&s.heap).(*ScheduledEvent)
			due := *ev
			s.pool.Put(ev)
			s.mu.Unlock()
			s.dispatcher(due)
			s.mu.Lock()
		}
	}
}

// Drain blocks until the heap empties or deadline elapses, returning
// KindDrainTimeout in the latter case (spec §5's "drain 1 s").
func (s *PriorityScheduler) Drain(deadline time.Duration) error {
	deadlineAt := time.Now().Add(deadline)
	for {
		s.mu.Lock()
		empty := s.heap.Len() == 0
		s.mu.Unlock()
		if empty {
			return nil
		}
		if time.Now().After(deadlineAt) {
			return midierr.New("scheduler.PriorityScheduler.Drain", midierr.KindDrainTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// Close stops accepting submissions and terminates the dispatch
// goroutine once it next wakes (spec §5's "global stop token...tasks
// exit their main loops after completing the current message").
func (s *PriorityScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	close(s.stopTicker)
}
