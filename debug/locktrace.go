package debug

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Lock tracing reports how long callers wait to acquire the ledger and
// registry locks, and how long exclusive holders keep them. It is off by
// default.
//
// Enable with:
//   MEMLEDGER_LOCK_TRACE=1
//
// Optional filters (milliseconds; default 0 = log everything):
//   MEMLEDGER_LOCK_TRACE_MIN_WAIT_MS
//   MEMLEDGER_LOCK_TRACE_MIN_HOLD_MS   (exclusive locks only)

var (
	lockTraceEnabled atomic.Bool

	minWaitNS atomic.Int64
	minHoldNS atomic.Int64

	// Correlates acquire/release lines of exclusive holders.
	lockSeq atomic.Uint64

	lockTraceInitOnce sync.Once

	traceLogger atomic.Pointer[slog.Logger]
)

func lockTraceInit() {
	lockTraceInitOnce.Do(func() {
		lockTraceEnabled.Store(envBool("MEMLEDGER_LOCK_TRACE", false))
		minWaitNS.Store(envMillis("MEMLEDGER_LOCK_TRACE_MIN_WAIT_MS"))
		minHoldNS.Store(envMillis("MEMLEDGER_LOCK_TRACE_MIN_HOLD_MS"))
	})
}

// SetLockTrace turns tracing on or off at runtime, overriding the
// environment.
func SetLockTrace(enabled bool) {
	lockTraceInit()
	lockTraceEnabled.Store(enabled)
}

// SetLogger directs trace lines to l instead of slog.Default().
func SetLogger(l *slog.Logger) {
	traceLogger.Store(l)
}

func logger() *slog.Logger {
	if l := traceLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envMillis(key string) int64 {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n < 0 {
		return 0
	}
	return int64(time.Duration(n) * time.Millisecond)
}

// callerShort reports the lock callsite as "dir/file.go:line".
func callerShort() string {
	// 0 callerShort, 1 tracker method, 2 lock wrapper, 3 callsite
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown:0"
	}
	parts := strings.Split(file, "/")
	if len(parts) >= 2 {
		file = parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return file + ":" + strconv.Itoa(line)
}

// tracker carries the shared bookkeeping for exclusive acquisitions.
type tracker struct {
	name      string
	acquireNS atomic.Int64
	seq       atomic.Uint64
}

func (t *tracker) label() string {
	if t.name == "" {
		return "(unnamed)"
	}
	return t.name
}

func (t *tracker) acquired(mode string, start time.Time, exclusive bool) {
	wait := time.Since(start)
	var seq uint64
	if exclusive {
		seq = lockSeq.Add(1)
		t.seq.Store(seq)
		t.acquireNS.Store(time.Now().UnixNano())
	}
	if int64(wait) < minWaitNS.Load() {
		return
	}
	logger().Debug("lock acquired",
		"seq", seq,
		"name", t.label(),
		"mode", mode,
		"wait", wait.Truncate(time.Microsecond),
		"at", callerShort())
}

func (t *tracker) released(mode string) {
	held := time.Since(time.Unix(0, t.acquireNS.Load()))
	if int64(held) < minHoldNS.Load() {
		return
	}
	logger().Debug("lock released",
		"seq", t.seq.Load(),
		"name", t.label(),
		"mode", mode,
		"held", held.Truncate(time.Microsecond),
		"at", callerShort())
}

// RWMutex is a sync.RWMutex with optional contention tracing.
type RWMutex struct {
	mu sync.RWMutex
	t  tracker
}

func (m *RWMutex) SetName(name string) { m.t.name = name }

func (m *RWMutex) Lock() {
	lockTraceInit()
	if !lockTraceEnabled.Load() {
		m.mu.Lock()
		return
	}
	start := time.Now()
	m.mu.Lock()
	m.t.acquired("Lock", start, true)
}

func (m *RWMutex) Unlock() {
	if !lockTraceEnabled.Load() {
		m.mu.Unlock()
		return
	}
	// Read bookkeeping before another writer can overwrite it.
	m.t.released("Unlock")
	m.mu.Unlock()
}

// RLock traces wait time only; shared holders have no single hold time.
func (m *RWMutex) RLock() {
	lockTraceInit()
	if !lockTraceEnabled.Load() {
		m.mu.RLock()
		return
	}
	start := time.Now()
	m.mu.RLock()
	m.t.acquired("RLock", start, false)
}

func (m *RWMutex) RUnlock() {
	m.mu.RUnlock()
}

// Mutex is a sync.Mutex with optional contention tracing.
type Mutex struct {
	mu sync.Mutex
	t  tracker
}

func (m *Mutex) SetName(name string) { m.t.name = name }

func (m *Mutex) Lock() {
	lockTraceInit()
	if !lockTraceEnabled.Load() {
		m.mu.Lock()
		return
	}
	start := time.Now()
	m.mu.Lock()
	m.t.acquired("Lock", start, true)
}

func (m *Mutex) Unlock() {
	if !lockTraceEnabled.Load() {
		m.mu.Unlock()
		return
	}
	m.t.released("Unlock")
	m.mu.Unlock()
}
