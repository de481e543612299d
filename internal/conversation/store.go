package conversation

import (
	"context"
	"errors"
)

// ErrNotFound is returned for threads and messages that do not exist or are
// addressed from outside their organization.
var ErrNotFound = errors.New("not found")

// ListOptions pages through a thread's messages oldest-first. AfterSeq=0
// starts at the beginning; a caller resumes by passing the last Seq it saw.
type ListOptions struct {
	AfterSeq int64
	Limit    int
}

// Store is the persistence boundary for threads and messages. The service
// on top owns authorization and visibility; the store only answers
// org-scoped lookups with ErrNotFound on any cross-tenant miss.
type Store interface {
	CreateThread(ctx context.Context, t *Thread) error
	GetThreadByCase(ctx context.Context, orgID int64, caseID string) (*Thread, error)
	GetThread(ctx context.Context, orgID int64, threadID string) (*Thread, error)
	MergeThreadMetadata(ctx context.Context, threadID string, metadata map[string]string) (*Thread, error)
	DeactivateThread(ctx context.Context, orgID int64, threadID string) error

	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	ListMessages(ctx context.Context, threadID string, opts ListOptions) ([]*Message, error)
	SetExternalID(ctx context.Context, messageID, externalID string) error
	AddReadBy(ctx context.Context, messageID, userID string) error

	// LatestExternalID returns the most recent provider message id on the
	// thread, used for email threading headers. Empty when none exists.
	LatestExternalID(ctx context.Context, threadID string) (string, error)

	// HasAIReplySince reports whether an external AI-authored message with
	// Seq greater than afterSeq exists on the thread. The orchestrator uses
	// it as the idempotency check before writing a retried reply.
	HasAIReplySince(ctx context.Context, threadID string, afterSeq int64) (bool, error)
}
