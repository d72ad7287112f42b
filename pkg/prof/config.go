package prof

import "errors"

// ErrActive indicates a session is already collecting a CPU profile.
var ErrActive = errors.New("profiling session already active")

// Config names the output file of each requested profile. Empty paths are
// not collected.
type Config struct {
	CPU       string
	Heap      string
	Goroutine string
	Block     string
	Mutex     string
}

// Empty reports whether no profile is requested.
func (c Config) Empty() bool {
	return c == Config{}
}

// snapshots returns the requested snapshot profiles by runtime/pprof name.
func (c Config) snapshots() [][2]string {
	var out [][2]string
	for _, p := range [][2]string{
		{"heap", c.Heap},
		{"goroutine", c.Goroutine},
		{"block", c.Block},
		{"mutex", c.Mutex},
	} {
		if p[1] != "" {
			out = append(out, p)
		}
	}
	return out
}
