package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsupervisor/fleetd/internal/pathsafe"
)

// CreateJobInput carries the fields needed to allocate a new job.
type CreateJobInput struct {
	AgentName    string
	TriggerType  TriggerType
	ScheduleName string
	Prompt       string
	Resume       string
	ForkedFrom   string
}

// NewJobID allocates a safe job identifier of the form
// "job-YYYY-MM-DD-<random>", per spec §3.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("job-%s-%s", now.UTC().Format("2006-01-02"), suffix)
}

func (s *Store) jobMetaPath(id string) (string, error) {
	return pathsafe.BuildSafeFilePath(s.jobsDir(), id, ".meta")
}

func (s *Store) jobOutputPath(id string) (string, error) {
	return pathsafe.BuildSafeFilePath(s.jobsDir(), id, ".jsonl")
}

// CreateJob allocates a safe id and writes initial metadata atomically.
func (s *Store) CreateJob(input CreateJobInput) (*JobMetadata, error) {
	const op = "store.CreateJob"
	if !pathsafe.ValidIdentifier(input.AgentName) {
		return nil, errInvalidIdentifier(op, input.AgentName)
	}

	id := NewJobID(time.Now())
	meta := &JobMetadata{
		ID:           id,
		AgentName:    input.AgentName,
		TriggerType:  input.TriggerType,
		ScheduleName: input.ScheduleName,
		Prompt:       input.Prompt,
		ForkedFrom:   input.ForkedFrom,
		Status:       JobPending,
		StartedAt:    time.Now(),
	}

	path, err := s.jobMetaPath(id)
	if err != nil {
		return nil, err
	}

	s.jobMetaMu.Lock()
	defer s.jobMetaMu.Unlock()
	if err := atomicWriteJSON(path, meta); err != nil {
		return nil, errAtomicWrite(op, err)
	}
	return meta, nil
}

// GetJob reads one job's metadata, or returns a KindNotFound error.
func (s *Store) GetJob(id string) (*JobMetadata, error) {
	const op = "store.GetJob"
	path, err := s.jobMetaPath(id)
	if err != nil {
		return nil, err
	}
	var meta JobMetadata
	if err := readJSON(path, &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound(op, id)
		}
		return nil, errStateDir(op, err)
	}
	return &meta, nil
}

// ListJobs returns jobs matching filter, most recently started first.
func (s *Store) ListJobs(filter JobFilter) ([]*JobMetadata, error) {
	const op = "store.ListJobs"
	entries, err := os.ReadDir(s.jobsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errStateDir(op, err)
	}

	var jobs []*JobMetadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".meta")
		meta, err := s.GetJob(id)
		if err != nil {
			s.logger.Warn("skipping unreadable job metadata", "job_id", id, "error", err)
			continue
		}
		if filter.AgentName != "" && meta.AgentName != filter.AgentName {
			continue
		}
		if filter.Status != "" && meta.Status != filter.Status {
			continue
		}
		jobs = append(jobs, meta)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// UpdateJob applies patch to the job's metadata. Fails closed with
// KindConflict, writing nothing, if the job is already terminal, per spec
// invariant 3. Finish details are therefore recorded in the same patch
// that sets the terminal status.
func (s *Store) UpdateJob(id string, patch func(*JobMetadata)) (*JobMetadata, error) {
	const op = "store.UpdateJob"
	path, err := s.jobMetaPath(id)
	if err != nil {
		return nil, err
	}

	s.jobMetaMu.Lock()
	defer s.jobMetaMu.Unlock()

	var meta JobMetadata
	if err := readJSON(path, &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound(op, id)
		}
		return nil, errStateDir(op, err)
	}

	wasTerminal := meta.Status.IsTerminal()
	patch(&meta)
	if wasTerminal {
		return nil, errTerminalImmutable(op, id)
	}

	if err := atomicWriteJSON(path, &meta); err != nil {
		return nil, errAtomicWrite(op, err)
	}
	return &meta, nil
}

// AppendJobOutput appends one line-JSON record to the job's output log,
// fsyncing at the record boundary so no partial record is ever observable
// by a concurrent reader.
func (s *Store) AppendJobOutput(id string, rec OutputRecord) error {
	const op = "store.AppendJobOutput"
	path, err := s.jobOutputPath(id)
	if err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	mu := s.mutexFor(&s.outputMu, id)
	mu.Lock()
	defer mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: marshal record: %w", op, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errAtomicWrite(op, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errAtomicWrite(op, err)
	}
	if err := f.Sync(); err != nil {
		return errAtomicWrite(op, err)
	}

	s.notifyWatchers(id, rec)
	return nil
}

// ReadJobOutputAll reads every well-formed record in the job's output log.
// A partially-written trailing line is skipped, never raised as an error,
// per spec invariant 4.
func (s *Store) ReadJobOutputAll(id string) ([]OutputRecord, error) {
	const op = "store.ReadJobOutputAll"
	path, err := s.jobOutputPath(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errStateDir(op, err)
	}
	defer f.Close()

	var records []OutputRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec OutputRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Partially-written or corrupt trailing line: skip, do not fail.
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// WatchJobOutput registers ch to receive every subsequently appended
// record for job id. Callers must drain ch; the returned cancel removes
// and closes it.
func (s *Store) WatchJobOutput(id string) (ch chan OutputRecord, cancel func()) {
	ch = make(chan OutputRecord, 64)
	s.watchMu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	s.watchMu.Unlock()

	cancel = func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		chans := s.watchers[id]
		for i, c := range chans {
			if c == ch {
				s.watchers[id] = append(chans[:i:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (s *Store) notifyWatchers(id string, rec OutputRecord) {
	s.watchMu.Lock()
	chans := make([]chan OutputRecord, len(s.watchers[id]))
	copy(chans, s.watchers[id])
	s.watchMu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- rec:
		default:
			s.logger.Warn("output watcher channel full, dropping record", "job_id", id)
		}
	}
}
