package rpc

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/groutine"
)

// Executor runs posted tasks one at a time in posting order.
// Post reports false when the executor no longer accepts tasks.
type Executor interface {
	Post(task func()) bool
}

// SerialExecutor runs tasks on one named goroutine. Its mailbox is unbounded:
// Post never blocks and never drops a task while the executor is running.
type SerialExecutor struct {
	name   string
	logger *logrus.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	stopped bool
	done    <-chan struct{}
}

// NewSerialExecutor starts the executor goroutine.
func NewSerialExecutor(name string, logger *logrus.Logger) *SerialExecutor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &SerialExecutor{name: name, logger: logger}
	e.cond = sync.NewCond(&e.mu)
	e.done = groutine.Spawn(context.Background(), name, e.loop)
	return e
}

func (e *SerialExecutor) Post(task func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		e.logger.WithField("executor", e.name).Debug("Rejecting task posted after stop")
		return false
	}
	e.tasks = append(e.tasks, task)
	e.cond.Signal()
	return true
}

// Stop rejects new tasks; tasks already posted still run. It does not wait.
func (e *SerialExecutor) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Done is closed once the executor has stopped and drained its mailbox.
func (e *SerialExecutor) Done() <-chan struct{} {
	return e.done
}

func (e *SerialExecutor) loop(ctx context.Context) {
	for {
		e.mu.Lock()
		for len(e.tasks) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 {
			e.mu.Unlock()
			e.logger.WithField("executor", groutine.GetName(ctx)).Debug("Executor stopped")
			return
		}
		task := e.tasks[0]
		e.tasks[0] = nil
		e.tasks = e.tasks[1:]
		e.mu.Unlock()

		task()
	}
}

// InlineExecutor runs tasks on the posting goroutine. A task posted while another
// one is running is queued and runs after it, so tasks never nest.
type InlineExecutor struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

func NewInlineExecutor() *InlineExecutor {
	return &InlineExecutor{}
}

func (e *InlineExecutor) Post(task func()) bool {
	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	if e.running {
		e.mu.Unlock()
		return true
	}
	e.running = true
	for len(e.tasks) > 0 {
		next := e.tasks[0]
		e.tasks[0] = nil
		e.tasks = e.tasks[1:]
		e.mu.Unlock()
		next()
		e.mu.Lock()
	}
	e.running = false
	e.mu.Unlock()
	return true
}
