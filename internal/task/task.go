// Package task runs the long-lived loops of the bridge (serial read loop,
// outbound flush loop, remote sender/receiver loops) as managed goroutines that
// share one cancellable context.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-serialbridge/internal/pool"
	"github.com/arloliu/go-serialbridge/logger"
)

// startTimeout bounds how long Start* waits for a goroutine to report that it is running.
const startTimeout = 5 * time.Second

// Func performs one iteration of a task.
// It should return true to continue running the task, or false to stop the goroutine.
type Func func() bool

// ReadFunc performs one iteration of a read task with a buffer owned by the task goroutine.
// It should return true to continue running the task, or false to stop the goroutine.
type ReadFunc func(buf []byte) bool

// CancelFunc is called when a goroutine managed by the Manager exits, whatever the reason.
type CancelFunc func()

// Manager manages the lifecycle of goroutines (tasks).
//
// All tasks observe one context derived from the parent context. Stop cancels
// it; each loop notices the cancellation at its next iteration boundary, so a
// task blocked inside an iteration (e.g. a read with a timeout) finishes that
// iteration first. Wait blocks until every task has returned and re-arms the
// manager so it can be started again.
//
// Example Usage:
//
//	taskMgr := task.NewManager(ctx, logger)
//
//	taskMgr.Start("myTask", func() bool {
//	    // ... task logic ...
//	    return true // Return true to continue running, false to stop
//	})
//
//	taskMgr.Stop()
//	taskMgr.Wait()
type Manager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*time.Ticker
	mu      sync.RWMutex // protect ctx and cancel
	taskMu  sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a new Manager with the given context as the parent context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context observed by the tasks of the current run.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine with the given name and task function.
//
// The taskFunc should return true to continue running, or false to stop the goroutine.
func (mgr *Manager) Start(name string, taskFunc Func) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runLoop(name, taskFunc)
	})

	return starter.waitForStart()
}

// StartReader starts a new goroutine that repeatedly calls taskFunc with a
// buffer of bufSize bytes allocated once for the lifetime of the goroutine.
//
// The cancelFunc will be called when the goroutine exits or is canceled.
func (mgr *Manager) StartReader(name string, bufSize int, taskFunc ReadFunc, cancelFunc CancelFunc) error {
	mgr.logger.Debug("start reader task", "name", name, "bufSize", bufSize)

	if bufSize <= 0 {
		return fmt.Errorf("invalid read buffer size: %d", bufSize)
	}

	starter, err := mgr.newStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		if cancelFunc != nil {
			defer cancelFunc()
		}

		buf := make([]byte, bufSize)
		mgr.runLoop(name, func() bool {
			return taskFunc(buf)
		})
	})

	return starter.waitForStart()
}

// StartInterval starts a new goroutine that executes the given task function at the specified interval.
// If runNow is true, the task function is executed immediately before starting the interval.
// The function returns a *time.Ticker that can be used to stop the interval.
func (mgr *Manager) StartInterval(name string, taskFunc Func, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval: %v", interval)
	}

	ticker := time.NewTicker(interval)

	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	if runNow {
		if !mgr.callWithRecover(name, taskFunc) {
			cleanup()
			mgr.logger.Debug("interval task terminated by runNow", "name", name)
			return ticker, nil
		}
	}

	starter, err := mgr.newStarter(name)
	if err != nil {
		cleanup()
		return nil, err
	}

	starter.startTask(func() {
		defer cleanup()

		ctx := mgr.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		cleanup()
		return nil, err
	}

	return ticker, nil
}

// StartConsumer starts a goroutine on mgr that calls fn for every value received
// from input, until the manager is stopped, input is closed, or fn returns false.
//
// A panic inside fn is logged and the consumer keeps running.
func StartConsumer[T any](mgr *Manager, name string, input <-chan T, fn func(T) bool) error {
	mgr.logger.Debug("start consumer task", "name", name)

	if input == nil {
		return fmt.Errorf("input channel is nil")
	}

	starter, err := mgr.newStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		ctx := mgr.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-input:
				if !ok {
					mgr.logger.Debug("input channel closed", "name", name)
					return
				}
				if !mgr.callWithRecover(name, func() bool { return fn(v) }) {
					return
				}
			}
		}
	})

	return starter.waitForStart()
}

// callWithRecover calls fn with panic protection. A recovered panic counts as "continue".
func (mgr *Manager) callWithRecover(name string, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			cont = true
		}
	}()

	return fn()
}

// Stop signals all running goroutines.
func (mgr *Manager) Stop() {
	mgr.tickers.Range(func(_, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}

		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then prepares a fresh context
// so the manager can start tasks again.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// WaitTimeout waits like Wait but gives up after timeout. It reports whether
// all tasks terminated in time. On timeout the manager is not re-armed.
func (mgr *Manager) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	return pool.WaitDone(done, timeout)
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

// starter encapsulates common startup logic
type starter struct {
	mgr     *Manager
	name    string
	started chan error
}

func (mgr *Manager) newStarter(name string) (*starter, error) {
	select {
	case <-mgr.Context().Done():
		return nil, fmt.Errorf("task manager already stopped")
	default:
	}

	return &starter{
		mgr:     mgr,
		name:    name,
		started: make(chan error, 1),
	}, nil
}

// startTask runs the common startup sequence for all tasks
func (s *starter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)

	go func() {
		defer s.mgr.wg.Done()

		s.mgr.count.Add(1)
		s.started <- nil

		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("task terminated", "name", s.name, "task_count", s.mgr.TaskCount())
		}()

		taskBody()
	}()
}

// waitForStart waits for the task goroutine to report that it is running.
func (s *starter) waitForStart() error {
	timer := time.NewTimer(startTimeout)
	defer timer.Stop()

	select {
	case err := <-s.started:
		if err != nil {
			return fmt.Errorf("failed to start %s: %w", s.name, err)
		}

		return nil

	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s to start", s.name)
	}
}

// runLoop runs a task function in a loop until the context is cancelled or
// the function asks to stop.
func (mgr *Manager) runLoop(name string, taskFunc Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	ctx := mgr.Context()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}
