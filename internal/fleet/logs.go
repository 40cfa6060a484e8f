package fleet

import (
	"context"
	"iter"

	"github.com/fleetsupervisor/fleetd/internal/bus"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

// LogEntry is one line of a unified log stream, per spec §6.2.
type LogEntry struct {
	Timestamp    string
	Level        string
	Source       string
	AgentName    string
	JobID        string
	ScheduleName string
	Message      string
	Data         any
}

// LogStreamOptions configures streamLogs/streamAgentLogs/streamJobOutput.
type LogStreamOptions struct {
	IncludeHistory bool
	HistoryLimit   int

	// Follow keeps the sequence open for live entries after history
	// replay. When false, the sequence ends once history has been
	// replayed (StreamJobOutput still ends early on a terminal record
	// regardless of Follow).
	Follow bool
}

// StreamAgentLogs replays an agent's past job output when IncludeHistory
// is set (the HistoryLimit most recent jobs, replayed oldest first), then,
// when Follow is set, yields live job:output entries for that agent as
// they occur. A following sequence never ends on its own; stop ranging (or
// cancel ctx) to detach.
func (m *Manager) StreamAgentLogs(ctx context.Context, agentName string, opts LogStreamOptions) iter.Seq[LogEntry] {
	return func(yield func(LogEntry) bool) {
		if opts.IncludeHistory {
			jobs, err := m.store.ListJobs(store.JobFilter{AgentName: agentName})
			if err == nil {
				jobs = boundHistory(jobs, opts.HistoryLimit)
				for i := len(jobs) - 1; i >= 0; i-- {
					if !replayJob(m.store, jobs[i], yield) {
						return
					}
				}
			}
		}
		if !opts.Follow {
			return
		}

		ch := make(chan LogEntry, 64)
		sub := m.bus.Subscribe(bus.TopicJobOutput, func(ev bus.Event) {
			p, ok := ev.Payload.(bus.JobOutputPayload)
			if !ok || p.AgentName != agentName {
				return
			}
			select {
			case ch <- LogEntry{Level: "info", Source: "job:output", AgentName: p.AgentName, JobID: p.JobID, Message: "output", Data: p.Record}:
			default:
			}
		})
		defer m.bus.Unsubscribe(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-ch:
				if !yield(entry) {
					return
				}
			}
		}
	}
}

// StreamJobOutput replays a job's existing output file (when
// IncludeHistory), then, when Follow is set, watches for appended records
// via the store's file watcher until a terminal record arrives.
func (m *Manager) StreamJobOutput(ctx context.Context, jobID string, opts LogStreamOptions) iter.Seq[LogEntry] {
	return func(yield func(LogEntry) bool) {
		if opts.IncludeHistory {
			meta, err := m.store.GetJob(jobID)
			if err == nil {
				if !replayJob(m.store, meta, yield) {
					return
				}
			}
		}
		if !opts.Follow {
			return
		}

		ch, cancel := m.store.WatchJobOutput(jobID)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-ch:
				if !ok {
					return
				}
				if !yield(LogEntry{Level: "info", Source: "job:output", JobID: jobID, Message: string(rec.Type), Data: rec.Raw}) {
					return
				}
				if isTerminalRecordType(rec.Type) {
					return
				}
			}
		}
	}
}

// StreamLogs is the fleet-wide stream: every agent's live output, plus
// lifecycle events, with the same history semantics as StreamAgentLogs.
func (m *Manager) StreamLogs(ctx context.Context, opts LogStreamOptions) iter.Seq[LogEntry] {
	return func(yield func(LogEntry) bool) {
		if opts.IncludeHistory {
			jobs, err := m.store.ListJobs(store.JobFilter{})
			if err == nil {
				jobs = boundHistory(jobs, opts.HistoryLimit)
				for i := len(jobs) - 1; i >= 0; i-- {
					if !replayJob(m.store, jobs[i], yield) {
						return
					}
				}
			}
		}
		if !opts.Follow {
			return
		}

		ch := make(chan LogEntry, 256)
		forward := func(source string) bus.Handler {
			return func(ev bus.Event) {
				entry := LogEntry{Level: "info", Source: source, Data: ev.Payload}
				if p, ok := ev.Payload.(bus.JobOutputPayload); ok {
					entry.AgentName, entry.JobID = p.AgentName, p.JobID
				}
				select {
				case ch <- entry:
				default:
				}
			}
		}
		subs := []bus.Subscription{
			m.bus.Subscribe(bus.TopicJobOutput, forward("job:output")),
			m.bus.Subscribe(bus.TopicJobCompleted, forward("job:completed")),
			m.bus.Subscribe(bus.TopicJobFailed, forward("job:failed")),
			m.bus.Subscribe(bus.TopicJobCancelled, forward("job:cancelled")),
		}
		defer func() {
			for _, s := range subs {
				m.bus.Unsubscribe(s)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-ch:
				if !yield(entry) {
					return
				}
			}
		}
	}
}

func boundHistory(jobs []*store.JobMetadata, limit int) []*store.JobMetadata {
	if limit <= 0 || len(jobs) <= limit {
		return jobs
	}
	return jobs[:limit]
}

// replayJob yields one job's complete output log in order, skipping any
// malformed trailing line (ReadJobOutputAll already does), and returns
// false if yield asked to stop.
func replayJob(st *store.Store, meta *store.JobMetadata, yield func(LogEntry) bool) bool {
	records, err := st.ReadJobOutputAll(meta.ID)
	if err != nil {
		return true
	}
	for _, rec := range records {
		entry := LogEntry{
			Level: "info", Source: "history", AgentName: meta.AgentName, JobID: meta.ID,
			ScheduleName: meta.ScheduleName, Message: string(rec.Type), Data: rec.Raw,
		}
		if !yield(entry) {
			return false
		}
	}
	return true
}

func isTerminalRecordType(t store.OutputRecordType) bool {
	return t == store.RecordResult || t == store.RecordError
}
