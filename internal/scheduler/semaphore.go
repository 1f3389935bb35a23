package scheduler

// Semaphore caps how many sends run at once. Channel-backed so acquisition
// composes with select.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given number of slots.
func NewSemaphore(cap int) *Semaphore {
	if cap <= 0 {
		cap = 1
	}
	return &Semaphore{ch: make(chan struct{}, cap)}
}

// TryAcquire takes a slot without blocking and reports whether one was free.
// Actions that miss a slot stay pending and are retried on a later tick.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot taken by a successful TryAcquire.
func (s *Semaphore) Release() {
	<-s.ch
}

// Available reports the free slot count.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}
