package transport

import (
	"sync"
)

// loop delivers notifications of one transport serially and in order.
// Tasks are queued without blocking, a drain goroutine is spawned on demand
// and exits when the queue is empty, so an idle transport holds no goroutine.
// A task may enqueue further tasks, for example a hook calling Abort.
type loop struct {
	lock    sync.Mutex
	queue   []func()
	running bool
}

func (l *loop) enqueue(task func()) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.queue = append(l.queue, task)
	if !l.running {
		l.running = true
		go l.drain()
	}
}

func (l *loop) drain() {
	for {
		l.lock.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.lock.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.lock.Unlock()

		l.run(task)
	}
}

// run executes one task. A panicking hook is not recovered,
// it crashes the process the same way as a panic in any other goroutine.
func (l *loop) run(task func()) {
	task()
}
