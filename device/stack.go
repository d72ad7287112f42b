package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
)

// Stack runs an Engine from a HAL's event stream. All events are handled on
// one goroutine, so the engine is never entered concurrently.
type Stack struct {
	engine *Engine
	hal    hal.DeviceHAL

	running bool
	mutex   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewStack creates a stack driving e.
func NewStack(e *Engine) *Stack {
	return &Stack{engine: e, hal: e.hal}
}

// Engine returns the driven engine.
func (s *Stack) Engine() *Engine {
	return s.engine
}

// Start initializes the controller, attaches the device, and starts the
// event loop.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.running {
		return pkg.ErrAlreadyRunning
	}

	if err := s.hal.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := s.engine.Attach(); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.err = nil
	s.running = true
	go s.eventLoop(ctx, s.done)

	pkg.LogDebug(pkg.ComponentDevice, "device stack started")
	return nil
}

// Stop ends the event loop and detaches the device. It returns the error that
// ended the loop early, if any.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.cancel()
	done := s.done
	s.mutex.Unlock()

	<-done

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.running = false
	loopErr := s.err
	if err := s.engine.Detach(); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentDevice, "device stack stopped")
	return loopErr
}

// Run starts the stack and blocks until ctx is cancelled or the HAL fails.
func (s *Stack) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mutex.Lock()
	done := s.done
	s.mutex.Unlock()
	<-done
	return s.Stop()
}

// IsRunning returns true if the event loop is running.
func (s *Stack) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

func (s *Stack) eventLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		ev, err := s.hal.WaitEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pkg.LogError(pkg.ComponentDevice, "event loop stopped", "error", err)
			s.mutex.Lock()
			s.err = fmt.Errorf("wait event: %w", err)
			s.mutex.Unlock()
			return
		}
		s.engine.HandleEvent(ev)
	}
}
