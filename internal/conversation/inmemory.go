package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a threadsafe in-memory store for tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	threads      map[string]*Thread
	threadByCase map[string]string // caseID -> threadID
	messages     map[string]*Message
	byThread     map[string][]*Message
	nextSeq      map[string]int64
	now          func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:      make(map[string]*Thread),
		threadByCase: make(map[string]string),
		messages:     make(map[string]*Message),
		byThread:     make(map[string][]*Message),
		nextSeq:      make(map[string]int64),
		now:          time.Now,
	}
}

func (s *InMemoryStore) CreateThread(ctx context.Context, t *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Active = true
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.threads[t.ID] = cloneThread(t)
	s.threadByCase[t.CaseID] = t.ID
	return nil
}

// PutThread stores the thread as-is, for test setup.
func (s *InMemoryStore) PutThread(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = cloneThread(t)
	s.threadByCase[t.CaseID] = t.ID
}

func (s *InMemoryStore) GetThreadByCase(ctx context.Context, orgID int64, caseID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.threadByCase[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	t := s.threads[id]
	if t == nil || t.OrgID != orgID {
		return nil, ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *InMemoryStore) GetThread(ctx context.Context, orgID int64, threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok || t.OrgID != orgID {
		return nil, ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *InMemoryStore) MergeThreadMetadata(ctx context.Context, threadID string, metadata map[string]string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	for k, v := range metadata {
		t.Metadata[k] = v
	}
	t.UpdatedAt = s.now()
	return cloneThread(t), nil
}

func (s *InMemoryStore) DeactivateThread(ctx context.Context, orgID int64, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.OrgID != orgID {
		return ErrNotFound
	}
	t.Active = false
	t.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) CreateMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[m.ThreadID]; !ok {
		return ErrNotFound
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	s.nextSeq[m.ThreadID]++
	m.Seq = s.nextSeq[m.ThreadID]
	m.CreatedAt = s.now()
	s.messages[m.ID] = cloneMessage(m)
	s.byThread[m.ThreadID] = append(s.byThread[m.ThreadID], cloneMessage(m))
	return nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, threadID string, opts ListOptions) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, ErrNotFound
	}
	arr := s.byThread[threadID]
	out := make([]*Message, 0, len(arr))
	for _, m := range arr {
		if m.Seq > opts.AfterSeq {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) SetExternalID(ctx context.Context, messageID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	m.ExternalID = externalID
	for _, tm := range s.byThread[m.ThreadID] {
		if tm.ID == messageID {
			tm.ExternalID = externalID
		}
	}
	return nil
}

func (s *InMemoryStore) AddReadBy(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	for _, u := range m.ReadBy {
		if u == userID {
			return nil
		}
	}
	m.ReadBy = append(m.ReadBy, userID)
	for _, tm := range s.byThread[m.ThreadID] {
		if tm.ID == messageID {
			tm.ReadBy = append(tm.ReadBy, userID)
		}
	}
	return nil
}

func (s *InMemoryStore) LatestExternalID(ctx context.Context, threadID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.byThread[threadID]
	for i := len(arr) - 1; i >= 0; i-- {
		if arr[i].ExternalID != "" {
			return arr[i].ExternalID, nil
		}
	}
	return "", nil
}

func (s *InMemoryStore) HasAIReplySince(ctx context.Context, threadID string, afterSeq int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.byThread[threadID] {
		if m.Seq > afterSeq && m.Author.Type == AuthorAI && m.Visibility == VisibilityExternal {
			return true, nil
		}
	}
	return false, nil
}

func cloneThread(t *Thread) *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ParticipantUserIDs != nil {
		cp.ParticipantUserIDs = append([]string(nil), t.ParticipantUserIDs...)
	}
	if t.ParticipantGroupIDs != nil {
		cp.ParticipantGroupIDs = append([]string(nil), t.ParticipantGroupIDs...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Attachments != nil {
		cp.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ReadBy != nil {
		cp.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return &cp
}
