// Package directory defines the case/customer directory the core
// collaborates with. Case lifecycle is owned elsewhere; the orchestrator
// reads and writes only the AI-specific fields through this boundary.
package directory

import (
	"time"

	"github.com/replydesk/internal/channels"
)

// CaseStatus is the lifecycle status of a support case.
type CaseStatus string

const (
	StatusOpen      CaseStatus = "open"
	StatusEscalated CaseStatus = "escalated"
	StatusResolved  CaseStatus = "resolved"
	StatusClosed    CaseStatus = "closed"
)

// ResolutionType records who resolved a case.
type ResolutionType string

const (
	ResolutionAgent ResolutionType = "agent"
	ResolutionAI    ResolutionType = "ai"
)

// Case is one customer support issue.
type Case struct {
	ID         string
	OrgID      int64
	CustomerID string
	Subject    string
	Status     CaseStatus
	Channel    channels.Channel

	AssignedAgentID string
	AssignedGroupID string

	// AI lifecycle fields. Written only while the case's exclusion lock is
	// held; reads outside the lock may be stale.
	AIProcessing        bool
	AIEscalated         bool
	AIAutoReplyDisabled bool
	WaitingForNewTopic  bool
	AIConfidence        int
	ConfidenceThreshold int // 0 means "use the org default"
	ResolutionType      ResolutionType
	FirstRespondedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Customer is the person on the other side of a case.
type Customer struct {
	ID    string
	OrgID int64
	Name  string
	Email string
	Phone string // E.164, empty when unknown

	WebhookURL string // outbound endpoint for webhook-channel customers
}

// Agent is a staff member who can post replies.
type Agent struct {
	ID    string
	OrgID int64
	Name  string
	Admin bool

	SignatureEnabled  bool
	SignatureText     string
	SignatureImageURL string
}

// OrgSettings holds per-organization channel identities and AI defaults.
type OrgSettings struct {
	OrgID int64

	EmailFromName    string
	EmailFromAddress string
	EmailSignature   string // appended to AI replies on the email channel

	WhatsAppConnected bool

	ConfidenceThreshold int    // default threshold for cases without an override
	InterventionMessage string // idle-customer nudge text
}

// CasePatch is a partial update of the AI-owned case fields. Nil pointers
// leave the field untouched.
type CasePatch struct {
	Status              *CaseStatus
	AssignedAgentID     *string
	AIProcessing        *bool
	AIEscalated         *bool
	AIAutoReplyDisabled *bool
	WaitingForNewTopic  *bool
	AIConfidence        *int
	ResolutionType      *ResolutionType
	FirstRespondedAt    *time.Time
}
