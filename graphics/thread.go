package graphics

import (
	"errors"
	"runtime"
	"sync"
)

var ErrThreadStopped = errors.New("render thread stopped")

// Thread runs jobs in order on one locked OS thread, which is where a GL
// context must be current. A nil *Thread runs jobs inline on the caller.
type Thread struct {
	jobs chan func()
	done chan struct{}

	mu      sync.Mutex
	stopped bool
}

func NewThread() *Thread {
	t := &Thread{
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Thread) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)
	for f := range t.jobs {
		f()
	}
}

// Call runs f on the thread and waits for it. Jobs must not Call back into
// their own thread.
func (t *Thread) Call(f func()) error {
	if t == nil {
		f()
		return nil
	}
	ch := make(chan struct{})
	if err := t.Post(func() {
		defer close(ch)
		f()
	}); err != nil {
		return err
	}
	<-ch
	return nil
}

// Post queues f without waiting.
func (t *Thread) Post(f func()) error {
	if t == nil {
		f()
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrThreadStopped
	}
	t.jobs <- f
	return nil
}

// Stop runs the queued jobs and ends the thread.
func (t *Thread) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if !t.stopped {
		t.stopped = true
		close(t.jobs)
	}
	t.mu.Unlock()
	<-t.done
}
