//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/ardnew/usbcore/pkg"
)

var (
	activeMutex sync.Mutex
	active      bool
)

// Session is one profiling run.
type Session struct {
	cfg     Config
	cpu     *os.File
	stopped bool
}

// Enabled reports whether profiling is compiled in.
func Enabled() bool {
	return true
}

// Start begins collecting the profiles named by cfg.
func Start(cfg Config) (*Session, error) {
	s := &Session{cfg: cfg}
	if cfg.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if cfg.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	if cfg.CPU == "" {
		return s, nil
	}

	activeMutex.Lock()
	defer activeMutex.Unlock()
	if active {
		return nil, ErrActive
	}
	f, err := os.Create(cfg.CPU)
	if err != nil {
		return nil, fmt.Errorf("cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("cpu profile: %w", err)
	}
	s.cpu = f
	active = true
	pkg.LogDebug(pkg.ComponentSim, "cpu profile started", "path", cfg.CPU)
	return s, nil
}

// Stop ends the CPU profile and writes the snapshot profiles. Calling Stop
// again does nothing.
func (s *Session) Stop() error {
	if s == nil || s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if s.cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, s.cpu.Close())
		activeMutex.Lock()
		active = false
		activeMutex.Unlock()
	}
	for _, p := range s.cfg.snapshots() {
		errs = append(errs, writeSnapshot(p[0], p[1]))
	}
	if s.cfg.Block != "" {
		runtime.SetBlockProfileRate(0)
	}
	if s.cfg.Mutex != "" {
		runtime.SetMutexProfileFraction(0)
	}
	return errors.Join(errs...)
}

func writeSnapshot(name, path string) error {
	if name == "heap" {
		runtime.GC()
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s profile: %w", name, err)
	}
	defer f.Close()
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		return fmt.Errorf("%s profile: %w", name, err)
	}
	pkg.LogDebug(pkg.ComponentSim, "profile written", "profile", name, "path", path)
	return nil
}
