package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned for any lookup that misses, including lookups
// that address an entity outside the caller's organization. Cross-tenant
// reads are indistinguishable from absent rows.
var ErrNotFound = errors.New("not found")

// Directory is the case/customer directory collaborator.
type Directory interface {
	FindCase(ctx context.Context, orgID int64, caseID string) (*Case, error)
	UpdateCase(ctx context.Context, orgID int64, caseID string, patch CasePatch) (*Case, error)
	FindCustomer(ctx context.Context, orgID int64, customerID string) (*Customer, error)
	FindAgent(ctx context.Context, orgID int64, agentID string) (*Agent, error)
	OrgSettings(ctx context.Context, orgID int64) (*OrgSettings, error)

	// EscalateWithAI routes the case to a human queue. Model-chosen,
	// threshold-forced, and externally triggered escalations all go
	// through this single path.
	EscalateWithAI(ctx context.Context, orgID int64, caseID, reason, summary string, confidence int) error
}
