// Package statestore implements component C of the specification: loading,
// validating, and persisting the cross-invocation state document, and the
// two bootstrap steps that run at load time (reboot detection and
// busy-history detection).
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/boottime"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// BootTimeLayout is the layout used to persist last_os_boot_time, matching
// the reference implementation's "%Y-%m-%d %H:%M:%S" strftime format.
const BootTimeLayout = "2006-01-02 15:04:05"

// RebootTolerance is the window within which two boot-time readings are
// considered the same boot (§3, §4.C).
const RebootTolerance = 5 * time.Second

// StateReadError is returned by Load when the document is missing or not
// valid JSON. Per §7, this is fatal to the invocation.
type StateReadError struct {
	Path string
	Err  error
}

func (e *StateReadError) Error() string {
	return fmt.Sprintf("statestore: unable to read state document at %s: %v", e.Path, e.Err)
}

func (e *StateReadError) Unwrap() error { return e.Err }

// Store owns the on-disk state document and the in-memory state object.
// All other components read it via Document/Config/State and propose
// updates via UpdateState; only Store ever writes the file.
type Store struct {
	path     string
	doc      structs.Document
	dirty    bool
	log      *logging.Logger
	boot     boottime.Reader
	now      func() time.Time
	readFile func(string) ([]byte, error)
}

// Option customizes a Store at construction time, primarily for tests.
type Option func(*Store)

// WithBootTimeReader overrides the default /proc/stat boot-time reader.
func WithBootTimeReader(r boottime.Reader) Option {
	return func(s *Store) { s.boot = r }
}

// WithClock overrides the default time.Now for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New constructs a Store for the document at path. Call Load before using
// it.
func New(path string, log *logging.Logger, opts ...Option) *Store {
	if log == nil {
		log = logging.Nop()
	}
	s := &Store{
		path:     path,
		log:      log.Component("statestore"),
		boot:     boottime.NewProcStatReader(),
		now:      time.Now,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the JSON document from disk and runs the two bootstrap steps
// described in §4.C: reboot detection and busy-history detection. It
// returns a *StateReadError if the file is missing or not valid JSON.
func (s *Store) Load() error {
	raw, err := s.readFile(s.path)
	if err != nil {
		return &StateReadError{Path: s.path, Err: err}
	}

	var doc structs.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &StateReadError{Path: s.path, Err: err}
	}
	s.doc = doc
	s.dirty = false

	s.detectReboot()
	s.detectBusyHistory()

	return nil
}

// detectReboot implements §4.C step 1.
func (s *Store) detectReboot() {
	current, err := s.boot.BootTime()
	if err != nil {
		s.log.Warn("unable to read OS boot time, skipping reboot detection: %v", err)
		return
	}
	currentStr := current.Format(BootTimeLayout)

	last := s.doc.State.LastOSBootTime
	if last == "" {
		// First run after deployment, not a reboot.
		s.applyLocked(structs.KeyLastOSBootTime, currentStr)
		return
	}

	lastTime, err := time.Parse(BootTimeLayout, last)
	if err != nil {
		s.log.Warn("stored boot time %q is unparseable, treating as reboot: %v", last, err)
		s.markReboot(currentStr)
		return
	}

	delta := current.Sub(lastTime)
	if delta < 0 {
		delta = -delta
	}

	if delta > RebootTolerance {
		s.markReboot(currentStr)
		return
	}

	if s.doc.State.FirstRunAfterReboot {
		s.applyLocked(structs.KeyFirstRunAfterReboot, false)
	}
}

func (s *Store) markReboot(currentBootTimeStr string) {
	s.applyLocked(structs.KeyFirstRunAfterReboot, true)
	s.applyLocked(structs.KeyClusterReadyForTermination, false)
	s.applyLocked(structs.KeyWasMJSBusy, false)
	s.applyLocked(structs.KeyMWStateSet, false)
	s.applyLocked(structs.KeyMWStateCounter, "0")
	s.applyLocked(structs.KeyLastOSBootTime, currentBootTimeStr)

	logPath := s.doc.Config.MJSStatusLogFile
	if logPath != "" {
		if _, err := os.Stat(logPath); err == nil {
			if err := os.Remove(logPath); err != nil {
				s.log.Warn("unable to delete stale MJS status log %s: %v", logPath, err)
			} else {
				s.log.Debug("deleted stale MJS status log %s after reboot", logPath)
			}
		}
	}
}

// detectBusyHistory implements §4.C step 2.
func (s *Store) detectBusyHistory() {
	if s.doc.State.WasMJSBusy {
		return
	}

	logPath := s.doc.Config.MJSStatusLogFile
	if logPath == "" {
		return
	}

	content, err := s.readFile(logPath)
	if err != nil {
		// Missing log file is not an error (§4.C).
		return
	}

	if strings.Contains(string(content), "MJS busy") {
		s.applyLocked(structs.KeyWasMJSBusy, true)
	}
}

// applyLocked applies a bootstrap-time update, bypassing UpdateState's
// logging (bootstrap updates are not "proposed" by an external component)
// but going through the same schema validation.
func (s *Store) applyLocked(key string, value interface{}) {
	if err := s.doc.Apply(key, value); err != nil {
		s.log.Error("bootstrap update rejected for %s: %v", key, err)
		return
	}
	s.dirty = true
}

// UpdateState validates and applies a batch of proposed updates. Rejected
// updates are logged and dropped; this method never returns an error
// because a component making a bad proposal is not itself a failure (§7).
func (s *Store) UpdateState(updates map[string]interface{}) {
	for key, value := range updates {
		if err := s.doc.Apply(key, value); err != nil {
			s.log.Error("rejected state update for %s: %v", key, err)
			continue
		}
		s.log.Debug("state update accepted: %s = %v", key, value)
		s.dirty = true
	}
}

// Dirty reports whether any update has been accepted since the last
// successful Flush.
func (s *Store) Dirty() bool {
	return s.dirty
}

// Document returns a copy of the whole document, useful for tests and
// diagnostics. Components should prefer Config()/State() for everyday use.
func (s *Store) Document() structs.Document {
	return s.doc
}

// Config returns the read-only config section.
func (s *Store) Config() structs.Config {
	return s.doc.Config
}

// State returns a copy of the current mutated state section.
func (s *Store) State() structs.State {
	return s.doc.State
}

// Flush serializes the whole document and writes it atomically (temp file,
// fsync, rename). It clears the dirty flag only on success and returns
// whether the write succeeded.
func (s *Store) Flush() bool {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		s.log.Error("unable to serialize state document: %v", err)
		return false
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cluster_management_data-*.tmp")
	if err != nil {
		s.log.Error("unable to create temp file for state write: %v", err)
		return false
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		s.log.Error("unable to write state document: %v", err)
		return false
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		s.log.Error("unable to fsync state document: %v", err)
		return false
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		s.log.Error("unable to close temp state file: %v", err)
		return false
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		s.log.Error("unable to rename temp state file into place: %v", err)
		return false
	}

	s.dirty = false
	s.log.Debug("flushed state document to %s", s.path)
	return true
}
