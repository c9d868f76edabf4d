// Package profiler realizes the framework's "instrumented artifact writes
// profile data" requirement on top of Go's own CPU profiler. Go plugins
// have no mechanism for embedding per-symbol instrumentation counters the
// way an LLVM/GCC -fprofile-instr-generate binary does, so instead the
// recorder here profiles the host process itself while any group is in
// GatheringData, and chunks the result into each group's profile_data
// directory for later merging.
//
// runtime/pprof allows only one active CPU profile per process, which is
// why this is a single shared, reference-counted recorder rather than one
// profiler per group.
package profiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"
)

// Recorder runs rolling CPU-profile windows while at least one group has
// called Acquire, writing each window's samples into every currently
// acquired group's profile directory.
type Recorder struct {
	mu        sync.Mutex
	window    time.Duration
	consumers map[string]int // profile dir -> acquire count
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewRecorder returns a Recorder that captures rolling windows of the
// given duration. A typical window is 1-5 seconds; shorter windows merge
// profile data into the training set sooner at the cost of more file
// churn.
func NewRecorder(window time.Duration) *Recorder {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Recorder{
		window:    window,
		consumers: make(map[string]int),
	}
}

// Acquire registers profileDir as wanting profile data and starts the
// background capture loop if it is not already running.
func (r *Recorder) Acquire(profileDir string) error {
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	r.mu.Lock()
	r.consumers[profileDir]++
	needStart := !r.running
	if needStart {
		r.running = true
		r.stop = make(chan struct{})
		r.done = make(chan struct{})
	}
	r.mu.Unlock()

	if needStart {
		go r.loop()
	}
	return nil
}

// Release unregisters profileDir; the window in flight is not written to
// it. Once no consumer remains, the capture loop ends its current window
// early and exits.
func (r *Recorder) Release(profileDir string) {
	r.mu.Lock()
	if n := r.consumers[profileDir]; n <= 1 {
		delete(r.consumers, profileDir)
	} else {
		r.consumers[profileDir] = n - 1
	}
	stopNow := len(r.consumers) == 0 && r.running
	var stopCh chan struct{}
	if stopNow {
		r.running = false
		stopCh = r.stop
	}
	r.mu.Unlock()

	if stopNow {
		close(stopCh)
	}
}

// Shutdown stops the capture loop unconditionally and waits for it to
// exit, used when the host process is tearing down.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	running := r.running
	done := r.done
	stopCh := r.stop
	r.running = false
	r.mu.Unlock()

	if !running {
		return nil
	}
	close(stopCh)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop() {
	defer close(r.done)

	for {
		buf := &bytes.Buffer{}
		if err := pprof.StartCPUProfile(buf); err != nil {
			// Another profile is already active process-wide; back off
			// and retry next window rather than losing the consumer.
			select {
			case <-time.After(r.window):
				continue
			case <-r.stop:
				return
			}
		}

		select {
		case <-time.After(r.window):
		case <-r.stop:
			pprof.StopCPUProfile()
			r.flush(buf)
			return
		}
		pprof.StopCPUProfile()
		r.flush(buf)

		r.mu.Lock()
		empty := len(r.consumers) == 0
		r.mu.Unlock()
		if empty {
			return
		}
	}
}

func (r *Recorder) flush(buf *bytes.Buffer) {
	if buf.Len() == 0 {
		return
	}

	r.mu.Lock()
	dirs := make([]string, 0, len(r.consumers))
	for d := range r.consumers {
		dirs = append(dirs, d)
	}
	r.mu.Unlock()

	name := fmt.Sprintf("chunk-%d.pprof", time.Now().UnixNano())
	for _, dir := range dirs {
		os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644)
	}
}
