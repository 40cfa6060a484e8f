package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store is the on-disk State Store (C1). One Store instance owns one base
// directory; all paths it derives from caller-supplied identifiers are
// validated via pathsafe.BuildSafeFilePath before use.
type Store struct {
	baseDir string

	fleetStateMu sync.Mutex // serializes fleet-state snapshot writers (spec §5)

	jobMetaMu sync.Mutex // serializes job metadata writers per store instance
	outputMu  sync.Map   // jobID -> *sync.Mutex, serializes output-log appenders

	sessionMu  sync.Map // agentName -> *sync.Mutex
	scheduleMu sync.Map // agentName -> *sync.Mutex

	watchMu  sync.Mutex
	watchers map[string][]chan OutputRecord

	logger *slog.Logger
}

// New creates a Store rooted at baseDir. Call InitStateDirectory before
// first use.
func New(baseDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{baseDir: baseDir, watchers: make(map[string][]chan OutputRecord), logger: logger}
}

func (s *Store) jobsDir() string      { return filepath.Join(s.baseDir, "jobs") }
func (s *Store) sessionsDir() string  { return filepath.Join(s.baseDir, "sessions") }
func (s *Store) schedulesDir() string { return filepath.Join(s.baseDir, "schedules") }
func (s *Store) fleetStatePath() string {
	return filepath.Join(s.baseDir, "fleet-state.snapshot")
}

// InitStateDirectory creates the required subdirectories. Idempotent.
func (s *Store) InitStateDirectory() error {
	const op = "store.InitStateDirectory"
	for _, dir := range []string{s.baseDir, s.jobsDir(), s.sessionsDir(), s.schedulesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errStateDir(op, err)
		}
	}
	return nil
}

func (s *Store) mutexFor(m *sync.Map, key string) *sync.Mutex {
	v, _ := m.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}
