package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/replydesk/internal/channels"
)

// PostgresDirectory persists cases, customers, agents, and org settings.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory { return &PostgresDirectory{db: db} }

const caseColumns = `
    id, org_id, customer_id, subject, status, channel,
    coalesce(assigned_agent_id,''), coalesce(assigned_group_id,''),
    ai_processing, ai_escalated, ai_auto_reply_disabled, waiting_for_new_topic,
    ai_confidence, confidence_threshold, coalesce(resolution_type,''),
    first_responded_at, created_at, updated_at`

func (d *PostgresDirectory) FindCase(ctx context.Context, orgID int64, caseID string) (*Case, error) {
	row := d.db.QueryRowContext(ctx, `
        SELECT`+caseColumns+`
        FROM cases WHERE org_id=$1 AND id=$2
    `, orgID, caseID)
	return scanCase(row)
}

// UpdateCase applies the patch in a single statement so concurrent partial
// updates of different fields never clobber each other. first_responded_at
// is only ever set once.
func (d *PostgresDirectory) UpdateCase(ctx context.Context, orgID int64, caseID string, patch CasePatch) (*Case, error) {
	sets := []string{"updated_at = now()"}
	args := []any{orgID, caseID}
	add := func(expr string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Status != nil {
		add("status = $%d", string(*patch.Status))
	}
	if patch.AssignedAgentID != nil {
		add("assigned_agent_id = nullif($%d,'')", *patch.AssignedAgentID)
	}
	if patch.AIProcessing != nil {
		add("ai_processing = $%d", *patch.AIProcessing)
	}
	if patch.AIEscalated != nil {
		add("ai_escalated = $%d", *patch.AIEscalated)
	}
	if patch.AIAutoReplyDisabled != nil {
		add("ai_auto_reply_disabled = $%d", *patch.AIAutoReplyDisabled)
	}
	if patch.WaitingForNewTopic != nil {
		add("waiting_for_new_topic = $%d", *patch.WaitingForNewTopic)
	}
	if patch.AIConfidence != nil {
		add("ai_confidence = $%d", *patch.AIConfidence)
	}
	if patch.ResolutionType != nil {
		add("resolution_type = nullif($%d,'')", string(*patch.ResolutionType))
	}
	if patch.FirstRespondedAt != nil {
		add("first_responded_at = coalesce(first_responded_at, $%d)", *patch.FirstRespondedAt)
	}

	row := d.db.QueryRowContext(ctx, `
        UPDATE cases SET `+strings.Join(sets, ", ")+`
        WHERE org_id=$1 AND id=$2
        RETURNING`+caseColumns,
		args...)
	return scanCase(row)
}

func (d *PostgresDirectory) FindCustomer(ctx context.Context, orgID int64, customerID string) (*Customer, error) {
	var c Customer
	err := d.db.QueryRowContext(ctx, `
        SELECT id, org_id, name, coalesce(email,''), coalesce(phone,''), coalesce(webhook_url,'')
        FROM customers WHERE org_id=$1 AND id=$2
    `, orgID, customerID).Scan(&c.ID, &c.OrgID, &c.Name, &c.Email, &c.Phone, &c.WebhookURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *PostgresDirectory) FindAgent(ctx context.Context, orgID int64, agentID string) (*Agent, error) {
	var a Agent
	err := d.db.QueryRowContext(ctx, `
        SELECT id, org_id, name, admin, signature_enabled, coalesce(signature_text,''), coalesce(signature_image_url,'')
        FROM agents WHERE org_id=$1 AND id=$2
    `, orgID, agentID).Scan(&a.ID, &a.OrgID, &a.Name, &a.Admin, &a.SignatureEnabled, &a.SignatureText, &a.SignatureImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *PostgresDirectory) OrgSettings(ctx context.Context, orgID int64) (*OrgSettings, error) {
	var s OrgSettings
	err := d.db.QueryRowContext(ctx, `
        SELECT org_id, coalesce(email_from_name,''), coalesce(email_from_address,''),
               coalesce(email_signature,''), whatsapp_connected,
               confidence_threshold, coalesce(intervention_message,'')
        FROM org_settings WHERE org_id=$1
    `, orgID).Scan(
		&s.OrgID, &s.EmailFromName, &s.EmailFromAddress,
		&s.EmailSignature, &s.WhatsAppConnected,
		&s.ConfidenceThreshold, &s.InterventionMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// EscalateWithAI flips the case into the escalated state and records the
// escalation for the human queue in one transaction.
func (d *PostgresDirectory) EscalateWithAI(ctx context.Context, orgID int64, caseID, reason, summary string, confidence int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE cases
        SET status='escalated', ai_escalated=true, ai_confidence=$3, updated_at=now()
        WHERE org_id=$1 AND id=$2
    `, orgID, caseID, confidence)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO case_escalations (org_id, case_id, reason, summary, confidence)
        VALUES ($1,$2,$3,$4,$5)
    `, orgID, caseID, reason, summary, confidence); err != nil {
		return err
	}

	return tx.Commit()
}

func scanCase(scanner interface{ Scan(dest ...any) error }) (*Case, error) {
	var c Case
	var status, channel, resolution string
	var firstResponded sql.NullTime
	if err := scanner.Scan(
		&c.ID, &c.OrgID, &c.CustomerID, &c.Subject, &status, &channel,
		&c.AssignedAgentID, &c.AssignedGroupID,
		&c.AIProcessing, &c.AIEscalated, &c.AIAutoReplyDisabled, &c.WaitingForNewTopic,
		&c.AIConfidence, &c.ConfidenceThreshold, &resolution,
		&firstResponded, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Status = CaseStatus(status)
	c.Channel = channels.Channel(channel)
	c.ResolutionType = ResolutionType(resolution)
	if firstResponded.Valid {
		t := firstResponded.Time
		c.FirstRespondedAt = &t
	}
	return &c, nil
}
