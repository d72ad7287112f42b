//go:build !profile

package prof

import "github.com/ardnew/usbcore/pkg"

// Session is one profiling run. Without the "profile" build tag it collects
// nothing.
type Session struct{}

// Enabled reports whether profiling is compiled in.
func Enabled() bool {
	return false
}

// Start returns an inert session.
func Start(cfg Config) (*Session, error) {
	if !cfg.Empty() {
		pkg.LogWarn(pkg.ComponentSim, "profiling requested but not compiled in", "tag", "profile")
	}
	return &Session{}, nil
}

// Stop does nothing.
func (s *Session) Stop() error {
	return nil
}
