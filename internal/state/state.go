package state

import (
	"os"
	"time"
)

// Phase is the engine's lifecycle phase. Stopping is terminal.
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseBuilding Phase = "building"
	PhaseRunning  Phase = "running"
	PhaseWarning  Phase = "warning"
	PhaseStopping Phase = "stopping"
)

// DefaultErrorCap bounds the persisted error ring.
const DefaultErrorCap = 32

// maxOutputLines bounds each merged stdout/stderr buffer. Oldest lines are
// evicted together with their dedup entries so the persisted snapshot stays
// a fixed size.
const maxOutputLines = 2048

// OutputLine is one captured line of workload output. The (At, Line) pair is
// the identity used for deduplication across health ticks.
type OutputLine struct {
	At   int64  `json:"at"` // unix milliseconds
	Line string `json:"line"`
}

// ErrorKind classifies entries in the bounded error ring.
type ErrorKind string

const (
	ErrGeneral     ErrorKind = "general"
	ErrInputOutput ErrorKind = "input_output"
	ErrBuildFailed ErrorKind = "build_failed"
	ErrOverRAM     ErrorKind = "over_ram_limit"
	ErrTimedOut    ErrorKind = "timed_out"
)

type ErrorEntry struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// State is the process-wide status snapshot. It is owned and mutated only by
// the engine's main loop; everyone else sees the persisted snapshot.
type State struct {
	Name         string       `json:"name"`
	Phase        Phase        `json:"phase"`
	PID          int          `json:"pid"`       // daemon pid
	ChildPID     int          `json:"child_pid"` // last observed workload pid
	EventCounter uint64       `json:"event_counter"`
	Data         string       `json:"data"`
	StartedAt    time.Time    `json:"started_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	MemoryMB     float64      `json:"memory_mb"`
	CPUPercent   float64      `json:"cpu_percent"`
	Stdout       []OutputLine `json:"stdout"`
	Stderr       []OutputLine `json:"stderr"`
	ErrorLog     []ErrorEntry `json:"error_log"`

	errorCap int
	seenOut  map[OutputLine]struct{}
	seenErr  map[OutputLine]struct{}
}

// New returns a fresh state in phase starting.
func New(name string, errorCap int) *State {
	if errorCap <= 0 {
		errorCap = DefaultErrorCap
	}
	now := time.Now()
	return &State{
		Name:      name,
		Phase:     PhaseStarting,
		PID:       os.Getpid(),
		StartedAt: now,
		UpdatedAt: now,
		Data:      "initializing",
		errorCap:  errorCap,
		seenOut:   make(map[OutputLine]struct{}),
		seenErr:   make(map[OutputLine]struct{}),
	}
}

// FromSnapshot revives a deserialized snapshot from a previous run and
// reinitializes it for the current process.
func FromSnapshot(snap State, errorCap int) *State {
	s := snap
	s.errorCap = errorCap
	s.Reset()
	return &s
}

// Reset reinitializes a state loaded from a previous run: output buffers and
// the error ring are cleared, the event counter is kept, and the phase goes
// back to starting under the current daemon pid.
func (s *State) Reset() {
	s.Phase = PhaseStarting
	s.PID = os.Getpid()
	s.ChildPID = 0
	s.Data = "initializing"
	s.StartedAt = time.Now()
	s.UpdatedAt = s.StartedAt
	s.Stdout = nil
	s.Stderr = nil
	s.ErrorLog = nil
	if s.errorCap <= 0 {
		s.errorCap = DefaultErrorCap
	}
	s.seenOut = make(map[OutputLine]struct{})
	s.seenErr = make(map[OutputLine]struct{})
}

// AppendError pushes an entry onto the error ring, evicting the oldest entry
// once the cap is reached.
func (s *State) AppendError(kind ErrorKind, msg string) {
	s.ErrorLog = append(s.ErrorLog, ErrorEntry{Kind: kind, Message: msg, At: time.Now()})
	s.TrimErrors()
}

// TrimErrors drops the oldest entries beyond the configured cap.
func (s *State) TrimErrors() {
	limit := s.errorCap
	if limit <= 0 {
		limit = DefaultErrorCap
	}
	if n := len(s.ErrorLog) - limit; n > 0 {
		s.ErrorLog = append(s.ErrorLog[:0], s.ErrorLog[n:]...)
	}
}

// MergeStdout appends lines not already present, keyed by (timestamp, line)
// identity. Merging the same batch twice is a no-op. Returns the number of
// lines appended.
func (s *State) MergeStdout(lines []OutputLine) int {
	return merge(&s.Stdout, s.seenOut, lines)
}

// MergeStderr is the stderr counterpart of MergeStdout.
func (s *State) MergeStderr(lines []OutputLine) int {
	return merge(&s.Stderr, s.seenErr, lines)
}

func merge(dst *[]OutputLine, seen map[OutputLine]struct{}, lines []OutputLine) int {
	added := 0
	for _, ln := range lines {
		if _, ok := seen[ln]; ok {
			continue
		}
		seen[ln] = struct{}{}
		*dst = append(*dst, ln)
		added++
	}
	if n := len(*dst) - maxOutputLines; n > 0 {
		for _, old := range (*dst)[:n] {
			delete(seen, old)
		}
		*dst = append((*dst)[:0], (*dst)[n:]...)
	}
	return added
}

// Touch records an observable transition: the event counter increments and
// the update timestamp refreshes. Called once per persisted mutation.
func (s *State) Touch() {
	s.EventCounter++
	s.UpdatedAt = time.Now()
}

// Snapshot returns a deep copy safe to serialize outside the main loop.
func (s *State) Snapshot() State {
	cp := *s
	cp.Stdout = append([]OutputLine(nil), s.Stdout...)
	cp.Stderr = append([]OutputLine(nil), s.Stderr...)
	cp.ErrorLog = append([]ErrorEntry(nil), s.ErrorLog...)
	cp.seenOut = nil
	cp.seenErr = nil
	return cp
}
