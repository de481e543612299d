// Package orchestrator consumes AI jobs from the queue and applies the
// resulting actions: reply, escalate, auto-resolve, or nothing. One AI job
// runs per case at a time, enforced by the exclusion lock; a job that loses
// the lock race is dropped, because re-processing the same case state would
// duplicate replies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/ai"
	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
	"github.com/replydesk/internal/dispatch"
	"github.com/replydesk/internal/exclusion"
)

// DefaultConfidenceThreshold applies when neither the case nor the
// organization configures one.
const DefaultConfidenceThreshold = 60

// escalationNoticeReason is the fixed reason for externally-triggered
// escalations, which involve no AI decision.
const escalationNoticeReason = "Automated Escalation Notice"

// defaultInterventionMessage is the idle-customer nudge when the
// organization has not configured its own.
const defaultInterventionMessage = "Are you still there? Let us know if you need anything else, and we'll pick this up right away."

// WhatsAppTyping emits typing indicators over the WhatsApp bridge.
// Best-effort everywhere; failures are logged and never abort a job.
type WhatsAppTyping interface {
	SendTyping(ctx context.Context, to string, typing bool) error
}

// Orchestrator holds the collaborators shared by the job workers.
type Orchestrator struct {
	convo      *conversation.Service
	store      conversation.Store
	dir        directory.Directory
	locker     exclusion.Locker
	decider    ai.Decider
	dispatcher *dispatch.Dispatcher
	pusher     conversation.Pusher
	waTyping   WhatsAppTyping

	lockTTL          time.Duration
	defaultThreshold int
}

// Config bundles the orchestrator's tunables.
type Config struct {
	// LockTTL bounds how long a crashed worker can hold a case. Must
	// exceed the worst-case decision round trip plus dispatch time.
	LockTTL time.Duration

	// ConfidenceThreshold is the instance-wide fallback threshold.
	ConfidenceThreshold int
}

func New(convo *conversation.Service, store conversation.Store, dir directory.Directory, locker exclusion.Locker, decider ai.Decider, dispatcher *dispatch.Dispatcher, pusher conversation.Pusher, waTyping WhatsAppTyping, cfg Config) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Orchestrator{
		convo:            convo,
		store:            store,
		dir:              dir,
		locker:           locker,
		decider:          decider,
		dispatcher:       dispatcher,
		pusher:           pusher,
		waTyping:         waTyping,
		lockTTL:          cfg.LockTTL,
		defaultThreshold: cfg.ConfidenceThreshold,
	}
}

// GenerateReply runs one AI decision for the case's newest inbound message.
// Returning an error hands the job back to the queue's retry policy; the
// deferred cleanup has already put the case back into a safe idle state.
func (o *Orchestrator) GenerateReply(ctx context.Context, orgID int64, caseID, triggerMessageID string, triggerSeq int64) error {
	release, acquired, err := o.locker.Acquire(ctx, "generate_reply:"+caseID, o.lockTTL)
	if err != nil {
		return fmt.Errorf("lock acquire failed for case %s: %w", caseID, err)
	}
	if !acquired {
		// Another worker holds this case. Its run sees the latest thread
		// state, so dropping here cannot lose the customer's message.
		log.Warn().
			Str("case_id", caseID).
			Msg("case locked by another worker, dropping job")
		return nil
	}

	defer func() {
		o.clearProcessingFlags(orgID, caseID)
		release()
	}()

	cse, err := o.dir.FindCase(ctx, orgID, caseID)
	if err != nil {
		return fmt.Errorf("case lookup failed: %w", err)
	}
	if cse.AIAutoReplyDisabled {
		log.Debug().Str("case_id", caseID).Msg("auto-reply disabled, skipping")
		return nil
	}
	if cse.Status == directory.StatusResolved || cse.Status == directory.StatusClosed {
		log.Debug().Str("case_id", caseID).Msg("case no longer open, skipping")
		return nil
	}

	processing := true
	if _, err := o.dir.UpdateCase(ctx, orgID, caseID, directory.CasePatch{AIProcessing: &processing}); err != nil {
		return fmt.Errorf("failed to mark case processing: %w", err)
	}

	thread, err := o.store.GetThreadByCase(ctx, orgID, caseID)
	if err != nil {
		return fmt.Errorf("thread lookup failed: %w", err)
	}

	// Redelivered job after a partial failure: if a prior attempt already
	// answered this trigger, do not ask the provider again.
	replied, err := o.store.HasAIReplySince(ctx, thread.ID, triggerSeq)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if replied {
		log.Info().
			Str("case_id", caseID).
			Str("trigger_message_id", triggerMessageID).
			Msg("reply already written for trigger, skipping")
		return nil
	}

	trigger, err := o.store.GetMessage(ctx, triggerMessageID)
	if err != nil {
		return fmt.Errorf("trigger message lookup failed: %w", err)
	}
	history, err := o.store.ListMessages(ctx, thread.ID, conversation.ListOptions{})
	if err != nil {
		return fmt.Errorf("history load failed: %w", err)
	}

	o.setTyping(ctx, cse, thread, true)
	defer o.setTyping(ctx, cse, thread, false)

	decision, err := o.decider.Decide(ctx, ai.DecisionInput{
		Case:       cse,
		NewMessage: trigger,
		History:    history,
		NewTopic:   cse.WaitingForNewTopic,
	})
	if err != nil {
		// Fail open: no reply, no escalation. The queue decides whether
		// to retry.
		return fmt.Errorf("decision failed for case %s: %w", caseID, err)
	}

	return o.applyDecision(ctx, cse, thread, decision)
}

func (o *Orchestrator) applyDecision(ctx context.Context, cse *directory.Case, thread *conversation.Thread, decision *ai.Decision) error {
	threshold := o.effectiveThreshold(ctx, cse)

	action := decision.Action
	reason := decision.EscalationReason
	if action == ai.ActionReply && decision.Confidence < threshold {
		action = ai.ActionEscalate
		reason = fmt.Sprintf("AI confidence %d below threshold %d", decision.Confidence, threshold)
	}

	switch action {
	case ai.ActionIgnore:
		log.Info().Str("case_id", cse.ID).Msg("AI decided no action warranted")
		return nil

	case ai.ActionAutoResolve:
		return o.autoResolve(ctx, cse, thread)

	case ai.ActionEscalate:
		if reason == "" {
			reason = "AI chose to escalate"
		}
		if err := o.dir.EscalateWithAI(ctx, cse.OrgID, cse.ID, reason, decision.EscalationSummary, decision.Confidence); err != nil {
			return fmt.Errorf("escalation failed for case %s: %w", cse.ID, err)
		}
		log.Info().
			Str("case_id", cse.ID).
			Str("reason", reason).
			Int("confidence", decision.Confidence).
			Msg("case escalated")
		return nil

	case ai.ActionReply:
		return o.reply(ctx, cse, thread, decision)

	default:
		return fmt.Errorf("unknown decision action %q", action)
	}
}

func (o *Orchestrator) autoResolve(ctx context.Context, cse *directory.Case, thread *conversation.Thread) error {
	resolved := directory.StatusResolved
	resType := directory.ResolutionAI
	if _, err := o.dir.UpdateCase(ctx, cse.OrgID, cse.ID, directory.CasePatch{
		Status:         &resolved,
		ResolutionType: &resType,
	}); err != nil {
		return fmt.Errorf("auto-resolve failed for case %s: %w", cse.ID, err)
	}

	// The note is staff-facing context, not a customer message; nothing
	// leaves the system here.
	if _, err := o.convo.AppendMessage(ctx, conversation.AppendMessageRequest{
		OrgID:      cse.OrgID,
		ThreadID:   thread.ID,
		Visibility: conversation.VisibilityInternal,
		Channel:    channels.ChannelPlatform,
		Author:     conversation.AuthorRef{Type: conversation.AuthorAI, ID: "ai", Name: "AI Assistant"},
		Content:    "Case auto-resolved: the customer indicated their issue is solved.",
	}); err != nil {
		log.Warn().Str("case_id", cse.ID).Err(err).Msg("failed to write auto-resolution note")
	}

	log.Info().Str("case_id", cse.ID).Msg("case auto-resolved")
	return nil
}

func (o *Orchestrator) reply(ctx context.Context, cse *directory.Case, thread *conversation.Thread, decision *ai.Decision) error {
	content := decision.Content
	if cse.Channel == channels.ChannelEmail {
		if settings, err := o.dir.OrgSettings(ctx, cse.OrgID); err == nil && settings.EmailSignature != "" {
			content = content + "\n\n" + settings.EmailSignature
		}
	}

	msg, err := o.convo.AppendMessage(ctx, conversation.AppendMessageRequest{
		OrgID:      cse.OrgID,
		ThreadID:   thread.ID,
		Visibility: conversation.VisibilityExternal,
		Channel:    cse.Channel,
		Author:     conversation.AuthorRef{Type: conversation.AuthorAI, ID: "ai", Name: "AI Assistant"},
		Content:    content,
	})
	if err != nil {
		return fmt.Errorf("failed to write AI reply for case %s: %w", cse.ID, err)
	}

	falseV := false
	if _, err := o.dir.UpdateCase(ctx, cse.OrgID, cse.ID, directory.CasePatch{
		AIConfidence: &decision.Confidence,
		AIEscalated:  &falseV,
	}); err != nil {
		log.Warn().Str("case_id", cse.ID).Err(err).Msg("failed to record confidence on case")
	}

	// The message is persisted and, for widget threads, already pushed.
	// A failed outbound delivery is a recoverable inconsistency surfaced
	// via logs, not a job failure: retrying the job would re-ask the
	// provider, not re-send this message.
	if cse.Channel != channels.ChannelWidget {
		result := o.dispatcher.Dispatch(ctx, dispatch.Request{Message: msg, Case: cse})
		if !result.Delivered {
			log.Error().
				Str("case_id", cse.ID).
				Str("message_id", msg.ID).
				Err(result.Failure).
				Msg("AI reply persisted but not delivered")
		}
	}

	log.Info().
		Str("case_id", cse.ID).
		Int("confidence", decision.Confidence).
		Msg("AI reply sent")
	return nil
}

// SendIntervention writes the idle-customer nudge and flips the case into
// new-topic mode so the next customer message starts fresh.
func (o *Orchestrator) SendIntervention(ctx context.Context, orgID int64, caseID string) error {
	release, acquired, err := o.locker.Acquire(ctx, "send_intervention:"+caseID, o.lockTTL)
	if err != nil {
		return fmt.Errorf("lock acquire failed for case %s: %w", caseID, err)
	}
	if !acquired {
		log.Warn().Str("case_id", caseID).Msg("case locked, dropping intervention")
		return nil
	}
	defer release()

	cse, err := o.dir.FindCase(ctx, orgID, caseID)
	if err != nil {
		return fmt.Errorf("case lookup failed: %w", err)
	}
	thread, err := o.store.GetThreadByCase(ctx, orgID, caseID)
	if err != nil {
		return fmt.Errorf("thread lookup failed: %w", err)
	}

	content := defaultInterventionMessage
	if settings, err := o.dir.OrgSettings(ctx, orgID); err == nil && settings.InterventionMessage != "" {
		content = settings.InterventionMessage
	}

	msg, err := o.convo.AppendMessage(ctx, conversation.AppendMessageRequest{
		OrgID:      orgID,
		ThreadID:   thread.ID,
		Visibility: conversation.VisibilityExternal,
		Channel:    cse.Channel,
		Author:     conversation.AuthorRef{Type: conversation.AuthorAI, ID: "ai", Name: "AI Assistant"},
		Content:    content,
	})
	if err != nil {
		return fmt.Errorf("failed to write intervention for case %s: %w", caseID, err)
	}

	waiting := true
	if _, err := o.dir.UpdateCase(ctx, orgID, caseID, directory.CasePatch{WaitingForNewTopic: &waiting}); err != nil {
		log.Warn().Str("case_id", caseID).Err(err).Msg("failed to flag new-topic check")
	}

	if cse.Channel != channels.ChannelWidget {
		result := o.dispatcher.Dispatch(ctx, dispatch.Request{Message: msg, Case: cse})
		if !result.Delivered {
			log.Error().
				Str("case_id", caseID).
				Err(result.Failure).
				Msg("intervention persisted but not delivered")
		}
	}
	return nil
}

// SendEscalationNotice forces an escalation with no AI decision involved.
func (o *Orchestrator) SendEscalationNotice(ctx context.Context, orgID int64, caseID string) error {
	if err := o.dir.EscalateWithAI(ctx, orgID, caseID, escalationNoticeReason, "", 100); err != nil {
		return fmt.Errorf("escalation notice failed for case %s: %w", caseID, err)
	}
	log.Info().Str("case_id", caseID).Msg("automated escalation notice applied")
	return nil
}

// effectiveThreshold resolves the confidence gate: case override, then org
// setting, then the instance default.
func (o *Orchestrator) effectiveThreshold(ctx context.Context, cse *directory.Case) int {
	if cse.ConfidenceThreshold > 0 {
		return cse.ConfidenceThreshold
	}
	if settings, err := o.dir.OrgSettings(ctx, cse.OrgID); err == nil && settings.ConfidenceThreshold > 0 {
		return settings.ConfidenceThreshold
	}
	return o.defaultThreshold
}

// setTyping toggles the typing indicator on conversational channels.
// Failures are logged and never abort the job.
func (o *Orchestrator) setTyping(ctx context.Context, cse *directory.Case, thread *conversation.Thread, typing bool) {
	switch cse.Channel {
	case channels.ChannelWidget:
		if session := thread.WidgetSessionID(); session != "" && o.pusher != nil {
			o.pusher.PushTyping(cse.OrgID, session, typing)
		}
	case channels.ChannelWhatsApp:
		if o.waTyping == nil {
			return
		}
		customer, err := o.dir.FindCustomer(ctx, cse.OrgID, cse.CustomerID)
		if err != nil || customer.Phone == "" {
			return
		}
		if err := o.waTyping.SendTyping(ctx, customer.Phone, typing); err != nil {
			log.Debug().Str("case_id", cse.ID).Err(err).Msg("typing indicator failed")
		}
	}
}

// clearProcessingFlags returns the case to a safe idle state. Runs in the
// deferred cleanup with its own context: the job's context may already be
// cancelled, and a case stuck in aiProcessing is worse than a late write.
func (o *Orchestrator) clearProcessingFlags(orgID int64, caseID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	falseV := false
	_, err := o.dir.UpdateCase(ctx, orgID, caseID, directory.CasePatch{
		AIProcessing:       &falseV,
		WaitingForNewTopic: &falseV,
	})
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		log.Warn().Str("case_id", caseID).Err(err).Msg("failed to clear processing flags")
	}
}
