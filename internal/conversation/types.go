// Package conversation owns threads and messages: one thread per case,
// append-only messages with visibility rules, and the read/unread state.
package conversation

import (
	"time"

	"github.com/replydesk/internal/channels"
)

// Visibility controls who may see a message.
type Visibility string

const (
	// VisibilityExternal messages are customer-visible.
	VisibilityExternal Visibility = "external"
	// VisibilityInternal messages are staff-only notes.
	VisibilityInternal Visibility = "internal"
)

// IsValid checks if the visibility is valid.
func (v Visibility) IsValid() bool {
	return v == VisibilityExternal || v == VisibilityInternal
}

// AuthorType identifies what kind of actor wrote a message.
type AuthorType string

const (
	AuthorAgent    AuthorType = "agent"
	AuthorCustomer AuthorType = "customer"
	AuthorAI       AuthorType = "ai"
)

// AuthorRef is the normalized author reference. ID is always present; Name
// is filled when the author was resolved at write time. Downstream code
// never branches on runtime shape.
type AuthorRef struct {
	Type AuthorType `json:"type"`
	ID   string     `json:"id"`
	Name string     `json:"name,omitempty"`
}

// Attachment is one file attached to a message.
type Attachment struct {
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}

// Thread is the single conversation container for a case.
type Thread struct {
	ID     string
	CaseID string
	OrgID  int64

	ParticipantUserIDs  []string
	ParticipantGroupIDs []string

	// Metadata holds channel-session details, e.g. the live widget session
	// id under the "widget_session_id" key.
	Metadata map[string]string

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WidgetSessionID returns the live-socket session bound to this thread, or
// empty when the thread has none.
func (t *Thread) WidgetSessionID() string {
	return t.Metadata[MetadataWidgetSession]
}

// MetadataWidgetSession is the thread metadata key for the live session id.
const MetadataWidgetSession = "widget_session_id"

// Message is one unit of communication within a thread. Messages are never
// mutated after creation except to record the provider external id after
// dispatch and to extend the read-by set; they are never deleted.
type Message struct {
	ID       string
	ThreadID string
	Seq      int64 // store-assigned, total order within the thread

	Visibility Visibility
	Channel    channels.Channel
	Author     AuthorRef

	Content     string
	Attachments []Attachment

	// ExternalID is the provider-assigned message id, used for threading
	// on email and WhatsApp. Empty until (and unless) dispatch succeeds.
	ExternalID string

	ReadBy    []string
	CreatedAt time.Time
}

// Requester identifies who is asking to read a thread. Customer requesters
// carry their customer id as ActorID with Admin=false and no groups.
type Requester struct {
	ActorID  string
	GroupIDs []string
	Admin    bool
}

// inGroup reports whether the requester belongs to any of the given groups.
func (r Requester) inGroup(groupIDs []string) bool {
	for _, g := range r.GroupIDs {
		for _, want := range groupIDs {
			if g == want {
				return true
			}
		}
	}
	return false
}
