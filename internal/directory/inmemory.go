package directory

import (
	"context"
	"sync"
	"time"
)

// InMemoryDirectory is a threadsafe in-memory directory for tests.
type InMemoryDirectory struct {
	mu        sync.RWMutex
	cases     map[string]*Case
	customers map[string]*Customer
	agents    map[string]*Agent
	settings  map[int64]*OrgSettings

	// Escalations records every EscalateWithAI call for assertions.
	Escalations []Escalation

	now func() time.Time
}

// Escalation is one recorded EscalateWithAI call.
type Escalation struct {
	OrgID      int64
	CaseID     string
	Reason     string
	Summary    string
	Confidence int
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		cases:     make(map[string]*Case),
		customers: make(map[string]*Customer),
		agents:    make(map[string]*Agent),
		settings:  make(map[int64]*OrgSettings),
		now:       time.Now,
	}
}

func (d *InMemoryDirectory) PutCase(c *Case) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *c
	d.cases[c.ID] = &cp
}

func (d *InMemoryDirectory) PutCustomer(c *Customer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *c
	d.customers[c.ID] = &cp
}

func (d *InMemoryDirectory) PutAgent(a *Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *a
	d.agents[a.ID] = &cp
}

func (d *InMemoryDirectory) PutOrgSettings(s *OrgSettings) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *s
	d.settings[s.OrgID] = &cp
}

func (d *InMemoryDirectory) FindCase(ctx context.Context, orgID int64, caseID string) (*Case, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.cases[caseID]
	if !ok || c.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *InMemoryDirectory) UpdateCase(ctx context.Context, orgID int64, caseID string, patch CasePatch) (*Case, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cases[caseID]
	if !ok || c.OrgID != orgID {
		return nil, ErrNotFound
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.AssignedAgentID != nil {
		c.AssignedAgentID = *patch.AssignedAgentID
	}
	if patch.AIProcessing != nil {
		c.AIProcessing = *patch.AIProcessing
	}
	if patch.AIEscalated != nil {
		c.AIEscalated = *patch.AIEscalated
	}
	if patch.AIAutoReplyDisabled != nil {
		c.AIAutoReplyDisabled = *patch.AIAutoReplyDisabled
	}
	if patch.WaitingForNewTopic != nil {
		c.WaitingForNewTopic = *patch.WaitingForNewTopic
	}
	if patch.AIConfidence != nil {
		c.AIConfidence = *patch.AIConfidence
	}
	if patch.ResolutionType != nil {
		c.ResolutionType = *patch.ResolutionType
	}
	if patch.FirstRespondedAt != nil && c.FirstRespondedAt == nil {
		t := *patch.FirstRespondedAt
		c.FirstRespondedAt = &t
	}
	c.UpdatedAt = d.now()
	cp := *c
	return &cp, nil
}

func (d *InMemoryDirectory) FindCustomer(ctx context.Context, orgID int64, customerID string) (*Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[customerID]
	if !ok || c.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *InMemoryDirectory) FindAgent(ctx context.Context, orgID int64, agentID string) (*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[agentID]
	if !ok || a.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (d *InMemoryDirectory) OrgSettings(ctx context.Context, orgID int64) (*OrgSettings, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.settings[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (d *InMemoryDirectory) EscalateWithAI(ctx context.Context, orgID int64, caseID, reason, summary string, confidence int) error {
	d.mu.Lock()
	c, ok := d.cases[caseID]
	if !ok || c.OrgID != orgID {
		d.mu.Unlock()
		return ErrNotFound
	}
	c.Status = StatusEscalated
	c.AIEscalated = true
	c.AIConfidence = confidence
	c.UpdatedAt = d.now()
	d.Escalations = append(d.Escalations, Escalation{
		OrgID: orgID, CaseID: caseID, Reason: reason, Summary: summary, Confidence: confidence,
	})
	d.mu.Unlock()
	return nil
}
