package asyncq

// waker wakes receivers blocked on one queue. C carries a single token so
// that a Wake with nobody waiting is not lost; gone is closed when the queue
// is deleted, releasing every receiver at once.
type waker struct {
	C    chan struct{}
	gone chan struct{}
}

func newWaker() *waker {
	return &waker{
		C:    make(chan struct{}, 1),
		gone: make(chan struct{}),
	}
}

// Wake leaves a token for the next receiver. It never blocks.
func (w *waker) Wake() {
	select {
	case w.C <- struct{}{}:
	default:
	}
}

func (w *waker) close() {
	close(w.gone)
}
