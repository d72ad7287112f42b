// Package pkg provides shared utilities for the usbcore device engine.
//
// This package contains common functionality used by the engine, its
// hardware abstraction layers, and class drivers:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentControl, "setup received", "request", setup.String())
//
// Code on the control path checks [LogEnabled] before assembling attributes
// that are only useful at debug level.
//
// # Errors
//
// Common USB errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrInvalidConfiguration) {
//	    // Host selected a configuration the device does not expose
//	}
package pkg
