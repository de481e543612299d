package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/directory"
)

// ErrForbidden is returned when an actor is not authorized to post with the
// requested visibility.
var ErrForbidden = errors.New("forbidden")

// Pusher delivers messages and typing state to a live widget session.
// Fire-and-forget: implementations must never block message persistence.
type Pusher interface {
	PushMessage(orgID int64, sessionID string, m *Message)
	PushTyping(orgID int64, sessionID string, typing bool)
}

// Service owns the conversation rules on top of a Store: one thread per
// case, visibility filtering, first-response stamping, live pushes, and the
// companion case transitions for human replies.
type Service struct {
	store  Store
	dir    directory.Directory
	pusher Pusher
	now    func() time.Time
}

func NewService(store Store, dir directory.Directory, pusher Pusher) *Service {
	return &Service{store: store, dir: dir, pusher: pusher, now: time.Now}
}

// GetOrCreateThread returns the case's thread, creating it on first use.
// Idempotent: an existing thread gets the new metadata union-merged (new
// keys overwrite) and is returned as-is otherwise.
func (s *Service) GetOrCreateThread(ctx context.Context, orgID int64, caseID, customerID string, metadata map[string]string) (*Thread, error) {
	if _, err := s.dir.FindCustomer(ctx, orgID, customerID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	existing, err := s.store.GetThreadByCase(ctx, orgID, caseID)
	if err == nil {
		if len(metadata) == 0 {
			return existing, nil
		}
		return s.store.MergeThreadMetadata(ctx, existing.ID, metadata)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	t := &Thread{
		CaseID:   caseID,
		OrgID:    orgID,
		Metadata: metadata,
	}
	if err := s.store.CreateThread(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AppendMessageRequest carries everything needed to write one message.
type AppendMessageRequest struct {
	OrgID       int64
	ThreadID    string
	Visibility  Visibility
	Channel     channels.Channel
	Author      AuthorRef
	Content     string
	Attachments []Attachment
}

// AppendMessage writes one message to a thread. AI authors act under the
// system's own authority and bypass the human authorization checks.
//
// Side effects, all best-effort and non-blocking for the write itself:
// first-response stamping on the case, the live-socket push when the thread
// has a widget session, and the human-reply case transitions
// (de-escalation, auto-assignment, AI hand-off disable).
func (s *Service) AppendMessage(ctx context.Context, req AppendMessageRequest) (*Message, error) {
	if !req.Visibility.IsValid() {
		return nil, errors.New("invalid visibility")
	}

	thread, err := s.store.GetThread(ctx, req.OrgID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, req.OrgID, req.Author, req.Visibility); err != nil {
		return nil, err
	}

	m := &Message{
		ThreadID:    thread.ID,
		Visibility:  req.Visibility,
		Channel:     req.Channel,
		Author:      req.Author,
		Content:     req.Content,
		Attachments: req.Attachments,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}

	if req.Visibility == VisibilityExternal {
		switch req.Author.Type {
		case AuthorAgent, AuthorAI:
			s.stampFirstResponse(ctx, req.OrgID, thread.CaseID)
		}
		if req.Author.Type == AuthorAgent {
			s.applyHumanReplyTransition(ctx, req.OrgID, thread.CaseID, req.Author.ID)
		}
		if session := thread.WidgetSessionID(); session != "" && s.pusher != nil {
			s.pusher.PushMessage(req.OrgID, session, m)
		}
	}

	return m, nil
}

// ListMessages returns the thread's messages oldest-first, filtered by what
// the requester may see. Admins, thread participants (directly or through a
// group), and the case's assignee see everything; everyone else sees
// external messages plus their own internal notes. Internal notes leaking
// past this filter is a security defect, not a display bug.
func (s *Service) ListMessages(ctx context.Context, orgID int64, threadID string, requester Requester, opts ListOptions) ([]*Message, error) {
	thread, err := s.store.GetThread(ctx, orgID, threadID)
	if err != nil {
		return nil, err
	}

	all, err := s.store.ListMessages(ctx, threadID, opts)
	if err != nil {
		return nil, err
	}

	if s.canSeeInternal(ctx, orgID, thread, requester) {
		return all, nil
	}

	filtered := make([]*Message, 0, len(all))
	for _, m := range all {
		if m.Visibility == VisibilityExternal || m.Author.ID == requester.ActorID {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

// MarkRead is an idempotent add to the message's read-by set.
func (s *Service) MarkRead(ctx context.Context, messageID, userID string) error {
	return s.store.AddReadBy(ctx, messageID, userID)
}

func (s *Service) authorize(ctx context.Context, orgID int64, author AuthorRef, visibility Visibility) error {
	switch author.Type {
	case AuthorAI:
		return nil
	case AuthorCustomer:
		if visibility == VisibilityInternal {
			return ErrForbidden
		}
		return nil
	case AuthorAgent:
		if _, err := s.dir.FindAgent(ctx, orgID, author.ID); err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return ErrForbidden
			}
			return err
		}
		return nil
	default:
		return ErrForbidden
	}
}

func (s *Service) canSeeInternal(ctx context.Context, orgID int64, thread *Thread, requester Requester) bool {
	if requester.Admin {
		return true
	}
	for _, id := range thread.ParticipantUserIDs {
		if id == requester.ActorID {
			return true
		}
	}
	if requester.inGroup(thread.ParticipantGroupIDs) {
		return true
	}

	c, err := s.dir.FindCase(ctx, orgID, thread.CaseID)
	if err != nil {
		// The case lookup failing must never widen visibility.
		return false
	}
	if c.AssignedAgentID != "" && c.AssignedAgentID == requester.ActorID {
		return true
	}
	if c.AssignedGroupID != "" && requester.inGroup([]string{c.AssignedGroupID}) {
		return true
	}
	return false
}

// stampFirstResponse records the first staff/AI external reply timestamp on
// the case. Best-effort: a failure is logged and never blocks the write.
func (s *Service) stampFirstResponse(ctx context.Context, orgID int64, caseID string) {
	c, err := s.dir.FindCase(ctx, orgID, caseID)
	if err != nil || c.FirstRespondedAt != nil {
		return
	}
	now := s.now()
	if _, err := s.dir.UpdateCase(ctx, orgID, caseID, directory.CasePatch{FirstRespondedAt: &now}); err != nil {
		log.Warn().
			Str("case_id", caseID).
			Err(err).
			Msg("failed to stamp first response time")
	}
}

// applyHumanReplyTransition runs the companion state transition for a human
// agent's external reply: the case is de-escalated, auto-assigned to the
// agent if unassigned, and taken out of AI auto-reply when the AI had
// escalated it.
func (s *Service) applyHumanReplyTransition(ctx context.Context, orgID int64, caseID, agentID string) {
	c, err := s.dir.FindCase(ctx, orgID, caseID)
	if err != nil {
		log.Warn().Str("case_id", caseID).Err(err).Msg("human reply transition: case lookup failed")
		return
	}

	patch := directory.CasePatch{}
	changed := false

	if c.Status == directory.StatusEscalated {
		open := directory.StatusOpen
		patch.Status = &open
		changed = true
	}
	if c.AssignedAgentID == "" {
		patch.AssignedAgentID = &agentID
		changed = true
	}
	if c.AIEscalated {
		f, tr := false, true
		patch.AIEscalated = &f
		patch.AIAutoReplyDisabled = &tr
		changed = true
	}

	if !changed {
		return
	}
	if _, err := s.dir.UpdateCase(ctx, orgID, caseID, patch); err != nil {
		log.Warn().Str("case_id", caseID).Err(err).Msg("human reply transition failed")
	}
}
