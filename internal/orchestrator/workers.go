package orchestrator

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/replydesk/internal/jobqueue"
)

// GenerateReplyWorker runs AI decisions off the queue.
type GenerateReplyWorker struct {
	river.WorkerDefaults[jobqueue.GenerateReplyArgs]
	orch *Orchestrator
}

func (w *GenerateReplyWorker) Work(ctx context.Context, job *river.Job[jobqueue.GenerateReplyArgs]) error {
	a := job.Args
	return w.orch.GenerateReply(ctx, a.OrgID, a.CaseID, a.TriggerMessageID, a.TriggerSeq)
}

// SendInterventionWorker sends the idle-customer nudge.
type SendInterventionWorker struct {
	river.WorkerDefaults[jobqueue.SendInterventionArgs]
	orch *Orchestrator
}

func (w *SendInterventionWorker) Work(ctx context.Context, job *river.Job[jobqueue.SendInterventionArgs]) error {
	return w.orch.SendIntervention(ctx, job.Args.OrgID, job.Args.CaseID)
}

// SendEscalationNoticeWorker applies externally-triggered escalations.
type SendEscalationNoticeWorker struct {
	river.WorkerDefaults[jobqueue.SendEscalationNoticeArgs]
	orch *Orchestrator
}

func (w *SendEscalationNoticeWorker) Work(ctx context.Context, job *river.Job[jobqueue.SendEscalationNoticeArgs]) error {
	return w.orch.SendEscalationNotice(ctx, job.Args.OrgID, job.Args.CaseID)
}

// RegisterWorkers registers the orchestrator's workers on the given set.
func (o *Orchestrator) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, &GenerateReplyWorker{orch: o})
	river.AddWorker(workers, &SendInterventionWorker{orch: o})
	river.AddWorker(workers, &SendEscalationNoticeWorker{orch: o})
}
