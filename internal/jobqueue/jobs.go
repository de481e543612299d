// Package jobqueue provides the River-based job queue carrying the AI
// orchestration jobs. The queue gives at-least-once delivery with retries;
// everything downstream is built to tolerate redelivery.
package jobqueue

import (
	"github.com/riverqueue/river"
)

// AIQueue is the queue name for AI orchestration jobs, kept separate from
// river's default queue so worker counts can be tuned independently.
const AIQueue = "ai"

// GenerateReplyArgs triggers an AI decision for a case after an inbound
// customer message.
type GenerateReplyArgs struct {
	OrgID  int64  `json:"org_id"`
	CaseID string `json:"case_id"`

	// TriggerMessageID and TriggerSeq identify the inbound message this
	// job answers; the worker uses them as its idempotency anchor on
	// redelivery.
	TriggerMessageID string `json:"trigger_message_id"`
	TriggerSeq       int64  `json:"trigger_seq"`
}

// Kind returns the job kind for River.
func (GenerateReplyArgs) Kind() string { return "generate_reply" }

func (GenerateReplyArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: AIQueue}
}

// SendInterventionArgs nudges an idle customer and marks the case so the
// next inbound message is treated as a fresh topic.
type SendInterventionArgs struct {
	OrgID  int64  `json:"org_id"`
	CaseID string `json:"case_id"`
}

// Kind returns the job kind for River.
func (SendInterventionArgs) Kind() string { return "send_intervention" }

func (SendInterventionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: AIQueue}
}

// SendEscalationNoticeArgs forces an escalation with no AI decision
// involved, used by externally-triggered automation.
type SendEscalationNoticeArgs struct {
	OrgID  int64  `json:"org_id"`
	CaseID string `json:"case_id"`
}

// Kind returns the job kind for River.
func (SendEscalationNoticeArgs) Kind() string { return "send_escalation_notice" }

func (SendEscalationNoticeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: AIQueue}
}
