// Package prof collects runtime profiles for one run of a usbcore tool.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/ep0sim
//
// Without the tag, [Start] returns an inert session and [Enabled] reports
// false, so callers keep their profiling flags wired in every build.
//
// # Usage
//
//	s, err := prof.Start(prof.Config{CPU: "cpu.prof", Heap: "heap.prof"})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// The CPU profile streams for the lifetime of the session. Snapshot
// profiles (heap, goroutine, block, mutex) are written by Stop. Block and
// mutex sampling is switched on by Start when those profiles are requested.
package prof
