package store

import (
	"os"

	"github.com/fleetsupervisor/fleetd/internal/pathsafe"
)

// scheduleStateFile is the per-agent on-disk shape for schedules/<agent>.state.
type scheduleStateFile struct {
	Schedules map[string]ScheduleState `json:"schedules"`
}

func (s *Store) schedulesPath(agentName string) (string, error) {
	return pathsafe.BuildSafeFilePath(s.schedulesDir(), agentName, ".state")
}

func (s *Store) readScheduleFile(agentName string) (*scheduleStateFile, error) {
	path, err := s.schedulesPath(agentName)
	if err != nil {
		return nil, err
	}
	var f scheduleStateFile
	if err := readJSON(path, &f); err != nil {
		if os.IsNotExist(err) {
			return &scheduleStateFile{Schedules: make(map[string]ScheduleState)}, nil
		}
		return nil, errStateDir("store.readScheduleFile", err)
	}
	if f.Schedules == nil {
		f.Schedules = make(map[string]ScheduleState)
	}
	return &f, nil
}

// GetScheduleState returns the persisted runtime state for (agent,
// schedule), or the zero value with ok=false if never persisted.
func (s *Store) GetScheduleState(agentName, scheduleName string) (ScheduleState, bool, error) {
	f, err := s.readScheduleFile(agentName)
	if err != nil {
		return ScheduleState{}, false, err
	}
	st, ok := f.Schedules[scheduleName]
	return st, ok, nil
}

// UpdateScheduleState reads, applies patch, and atomically rewrites the
// per-agent schedule state file.
func (s *Store) UpdateScheduleState(agentName, scheduleName string, patch func(*ScheduleState)) (ScheduleState, error) {
	const op = "store.UpdateScheduleState"
	path, err := s.schedulesPath(agentName)
	if err != nil {
		return ScheduleState{}, err
	}

	mu := s.mutexFor(&s.scheduleMu, agentName)
	mu.Lock()
	defer mu.Unlock()

	f, err := s.readScheduleFile(agentName)
	if err != nil {
		return ScheduleState{}, err
	}
	st := f.Schedules[scheduleName]
	patch(&st)
	f.Schedules[scheduleName] = st

	if err := atomicWriteJSON(path, f); err != nil {
		return ScheduleState{}, errAtomicWrite(op, err)
	}
	return st, nil
}
