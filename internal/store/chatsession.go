package store

import (
	"os"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/pathsafe"
)

// chatSessionFile is the per-agent on-disk shape for sessions/<agent>.chat:
// a map keyed by channel id.
type chatSessionFile struct {
	Sessions map[string]ChatSession `json:"sessions"`
}

func (s *Store) sessionsPath(agentName string) (string, error) {
	return pathsafe.BuildSafeFilePath(s.sessionsDir(), agentName, ".chat")
}

func (s *Store) readSessionFile(agentName string) (*chatSessionFile, error) {
	path, err := s.sessionsPath(agentName)
	if err != nil {
		return nil, err
	}
	var f chatSessionFile
	if err := readJSON(path, &f); err != nil {
		if os.IsNotExist(err) {
			return &chatSessionFile{Sessions: make(map[string]ChatSession)}, nil
		}
		return nil, errStateDir("store.readSessionFile", err)
	}
	if f.Sessions == nil {
		f.Sessions = make(map[string]ChatSession)
	}
	return &f, nil
}

// GetChatSession returns the session for (agentName, channelID), if any.
func (s *Store) GetChatSession(agentName, channelID string) (*ChatSession, bool, error) {
	f, err := s.readSessionFile(agentName)
	if err != nil {
		return nil, false, err
	}
	sess, ok := f.Sessions[channelID]
	if !ok {
		return nil, false, nil
	}
	return &sess, true, nil
}

// GetOrCreateChatSession returns the existing session for (agentName,
// channelID), or creates and persists an empty one (no session id yet) if
// none exists, per spec §4.1's getOrCreate operation. created reports
// whether a new record was written.
func (s *Store) GetOrCreateChatSession(agentName, channelID string) (sess ChatSession, created bool, err error) {
	const op = "store.GetOrCreateChatSession"
	path, pathErr := s.sessionsPath(agentName)
	if pathErr != nil {
		return ChatSession{}, false, pathErr
	}

	mu := s.mutexFor(&s.sessionMu, agentName)
	mu.Lock()
	defer mu.Unlock()

	f, err := s.readSessionFile(agentName)
	if err != nil {
		return ChatSession{}, false, err
	}
	if existing, ok := f.Sessions[channelID]; ok {
		return existing, false, nil
	}

	sess = ChatSession{
		AgentName:     agentName,
		ChannelID:     channelID,
		LastMessageAt: time.Now(),
	}
	f.Sessions[channelID] = sess
	if err := atomicWriteJSON(path, f); err != nil {
		return ChatSession{}, false, errAtomicWrite(op, err)
	}
	return sess, true, nil
}

// SetChatSession sets (or creates) the session id for (agentName,
// channelID), per spec invariant 7: callers must only call this on
// successful job completion.
func (s *Store) SetChatSession(agentName, channelID, sessionID string) error {
	const op = "store.SetChatSession"
	path, err := s.sessionsPath(agentName)
	if err != nil {
		return err
	}

	mu := s.mutexFor(&s.sessionMu, agentName)
	mu.Lock()
	defer mu.Unlock()

	f, err := s.readSessionFile(agentName)
	if err != nil {
		return err
	}
	f.Sessions[channelID] = ChatSession{
		AgentName:     agentName,
		ChannelID:     channelID,
		SessionID:     sessionID,
		LastMessageAt: time.Now(),
	}
	if err := atomicWriteJSON(path, f); err != nil {
		return errAtomicWrite(op, err)
	}
	return nil
}

// TouchChatSession updates LastMessageAt without changing the session id.
func (s *Store) TouchChatSession(agentName, channelID string) error {
	const op = "store.TouchChatSession"
	path, err := s.sessionsPath(agentName)
	if err != nil {
		return err
	}

	mu := s.mutexFor(&s.sessionMu, agentName)
	mu.Lock()
	defer mu.Unlock()

	f, err := s.readSessionFile(agentName)
	if err != nil {
		return err
	}
	sess, ok := f.Sessions[channelID]
	if !ok {
		return nil
	}
	sess.LastMessageAt = time.Now()
	f.Sessions[channelID] = sess
	if err := atomicWriteJSON(path, f); err != nil {
		return errAtomicWrite(op, err)
	}
	return nil
}

// ClearChatSession deletes the session for (agentName, channelID), used by
// the explicit reset command.
func (s *Store) ClearChatSession(agentName, channelID string) error {
	const op = "store.ClearChatSession"
	path, err := s.sessionsPath(agentName)
	if err != nil {
		return err
	}

	mu := s.mutexFor(&s.sessionMu, agentName)
	mu.Lock()
	defer mu.Unlock()

	f, err := s.readSessionFile(agentName)
	if err != nil {
		return err
	}
	delete(f.Sessions, channelID)
	if err := atomicWriteJSON(path, f); err != nil {
		return errAtomicWrite(op, err)
	}
	return nil
}

// CleanupExpiredChatSessions deletes sessions for agentName whose
// LastMessageAt is older than maxAge, returning the count removed.
// Cleanup is opportunistic per spec §5, not scheduled by this package.
func (s *Store) CleanupExpiredChatSessions(agentName string, maxAge time.Duration) (int, error) {
	const op = "store.CleanupExpiredChatSessions"
	path, err := s.sessionsPath(agentName)
	if err != nil {
		return 0, err
	}

	mu := s.mutexFor(&s.sessionMu, agentName)
	mu.Lock()
	defer mu.Unlock()

	f, err := s.readSessionFile(agentName)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for channelID, sess := range f.Sessions {
		if sess.LastMessageAt.Before(cutoff) {
			delete(f.Sessions, channelID)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := atomicWriteJSON(path, f); err != nil {
		return 0, errAtomicWrite(op, err)
	}
	return removed, nil
}

// ActiveChatSessionCount returns the number of sessions currently recorded
// for agentName.
func (s *Store) ActiveChatSessionCount(agentName string) (int, error) {
	f, err := s.readSessionFile(agentName)
	if err != nil {
		return 0, err
	}
	return len(f.Sessions), nil
}
