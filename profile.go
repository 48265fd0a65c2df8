package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

const (
	memProfileRate = 4096
	timeFormat     = "20060102_150405"
)

// profileKind starts one profile writing to `f`, the returned func flushes and stops it.
type profileKind func(f *os.File) (stop func(), err error)

var profileKinds = map[string]profileKind{
	"cpu": func(f *os.File) (func(), error) {
		if err := pprof.StartCPUProfile(f); err != nil {
			return nil, err
		}
		return pprof.StopCPUProfile, nil
	},
	"heap": func(f *os.File) (func(), error) {
		old := runtime.MemProfileRate
		runtime.MemProfileRate = memProfileRate
		return func() {
			_ = pprof.Lookup("heap").WriteTo(f, 0)
			runtime.MemProfileRate = old
		}, nil
	},
	"mutex": func(f *os.File) (func(), error) {
		runtime.SetMutexProfileFraction(1)
		return func() {
			_ = pprof.Lookup("mutex").WriteTo(f, 0)
			runtime.SetMutexProfileFraction(0)
		}, nil
	},
	"block": func(f *os.File) (func(), error) {
		runtime.SetBlockProfileRate(1)
		return func() {
			_ = pprof.Lookup("block").WriteTo(f, 0)
			runtime.SetBlockProfileRate(0)
		}, nil
	},
	"threadcreate": func(f *os.File) (func(), error) {
		return func() {
			_ = pprof.Lookup("threadcreate").WriteTo(f, 0)
		}, nil
	},
	"trace": func(f *os.File) (func(), error) {
		if err := trace.Start(f); err != nil {
			return nil, err
		}
		return trace.Stop, nil
	},
}

// parseProfileKinds parses a comma separated kind list, "all" selects every kind.
func parseProfileKinds(s string) ([]string, error) {
	if strings.TrimSpace(s) == "all" {
		var kinds []string
		for k := range profileKinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		return kinds, nil
	}

	var kinds []string
	seen := make(map[string]bool)
	for _, k := range strings.Split(s, ",") {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		if _, ok := profileKinds[k]; !ok {
			return nil, fmt.Errorf("unknown profile kind `%s`", k)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no profile kind in `%s`", s)
	}
	return kinds, nil
}

// Profiler is a running profiling session, toggled by SIGUSR2.
type Profiler struct {
	dir     string
	stops   []func()
	stopped atomic.Bool
}

// StartProfiler starts `kinds` writing to files under `dir`. Kinds that fail
// to start are logged and skipped.
func StartProfiler(dir string, kinds []string) *Profiler {
	p := &Profiler{dir: dir}
	for _, kind := range kinds {
		fn := p.dumpFile(kind, "pprof")
		f, err := os.Create(fn)
		if err != nil {
			glog.Errorf("pprof: create %s profile %q: %v", kind, fn, err)
			continue
		}
		stop, err := profileKinds[kind](f)
		if err != nil {
			glog.Errorf("pprof: start %s profile: %v", kind, err)
			_ = f.Close()
			continue
		}
		glog.Infof("pprof: %s profiling enabled, %s", kind, fn)
		p.stops = append(p.stops, func() {
			stop()
			_ = f.Close()
			glog.Infof("pprof: %s profiling disabled, %s", kind, fn)
		})
	}
	return p
}

// Stop flushes and stops all profiles, it's safe to call more than once.
func (p *Profiler) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, stop := range p.stops {
		stop()
	}
}

func (p *Profiler) dumpFile(kind, ext string) string {
	return filepath.Join(p.dir, fmt.Sprintf("%s-%s.%s", kind, time.Now().Format(timeFormat), ext))
}

// dumpGoroutines writes stacks of all goroutines to a file under `dir`.
func dumpGoroutines(dir string) (string, error) {
	fn := filepath.Join(dir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(timeFormat)))
	f, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		return "", err
	}
	return fn, nil
}
