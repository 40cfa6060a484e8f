package store

import (
	"os"
	"time"
)

// ReadFleetState reads the single fleet-state snapshot file. Returns a
// fresh FleetState (StartedAt now, no agents; not an error) if no snapshot
// has been written yet.
func (s *Store) ReadFleetState() (*FleetState, error) {
	const op = "store.ReadFleetState"
	path := s.fleetStatePath()

	s.fleetStateMu.Lock()
	defer s.fleetStateMu.Unlock()

	var fs FleetState
	if err := readJSON(path, &fs); err != nil {
		if os.IsNotExist(err) {
			return &FleetState{StartedAt: time.Now(), Agents: make(map[string]AgentState)}, nil
		}
		return nil, errStateDir(op, err)
	}
	if fs.Agents == nil {
		fs.Agents = make(map[string]AgentState)
	}
	return &fs, nil
}

// WriteFleetState atomically replaces the snapshot file, serialized
// through a write-lock to prevent interleaved writers (spec §5).
func (s *Store) WriteFleetState(fs *FleetState) error {
	const op = "store.WriteFleetState"
	s.fleetStateMu.Lock()
	defer s.fleetStateMu.Unlock()

	if err := atomicWriteJSON(s.fleetStatePath(), fs); err != nil {
		return errAtomicWrite(op, err)
	}
	return nil
}
