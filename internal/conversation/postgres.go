package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"github.com/replydesk/internal/channels"
)

// PostgresStore persists threads and messages. Threads carry a unique
// constraint on case_id so one-thread-per-case holds at the schema level.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) CreateThread(ctx context.Context, t *Thread) error {
	metaJSON, err := json.Marshal(ensureMapNotNil(t.Metadata))
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO threads (case_id, org_id, participant_user_ids, participant_group_ids, metadata, active)
        VALUES ($1,$2,$3,$4,$5,true)
        RETURNING id, created_at, updated_at
    `,
		t.CaseID, t.OrgID, pq.Array(ensureSliceNotNil(t.ParticipantUserIDs)), pq.Array(ensureSliceNotNil(t.ParticipantGroupIDs)), metaJSON,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (s *PostgresStore) GetThreadByCase(ctx context.Context, orgID int64, caseID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, case_id, org_id, participant_user_ids, participant_group_ids, metadata, active, created_at, updated_at
        FROM threads WHERE org_id=$1 AND case_id=$2
    `, orgID, caseID)
	return scanThread(row)
}

func (s *PostgresStore) GetThread(ctx context.Context, orgID int64, threadID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, case_id, org_id, participant_user_ids, participant_group_ids, metadata, active, created_at, updated_at
        FROM threads WHERE org_id=$1 AND id=$2
    `, orgID, threadID)
	return scanThread(row)
}

func (s *PostgresStore) MergeThreadMetadata(ctx context.Context, threadID string, metadata map[string]string) (*Thread, error) {
	metaJSON, err := json.Marshal(ensureMapNotNil(metadata))
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
        UPDATE threads SET metadata = metadata || $1::jsonb, updated_at = now()
        WHERE id=$2
        RETURNING id, case_id, org_id, participant_user_ids, participant_group_ids, metadata, active, created_at, updated_at
    `, metaJSON, threadID)
	return scanThread(row)
}

func (s *PostgresStore) DeactivateThread(ctx context.Context, orgID int64, threadID string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE threads SET active=false, updated_at=now() WHERE org_id=$1 AND id=$2
    `, orgID, threadID)
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
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *Message) error {
	authorJSON, err := json.Marshal(m.Author)
	if err != nil {
		return err
	}
	attJSON, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO messages (thread_id, seq, visibility, channel, author, content, attachments, external_id, read_by)
        VALUES (
            $1,
            (SELECT coalesce(max(seq),0)+1 FROM messages WHERE thread_id=$1),
            $2,$3,$4,$5,$6,nullif($7,''),$8
        )
        RETURNING id, seq, created_at
    `,
		m.ThreadID, string(m.Visibility), string(m.Channel), authorJSON, m.Content, attJSON, m.ExternalID, pq.Array(ensureSliceNotNil(m.ReadBy)),
	).Scan(&m.ID, &m.Seq, &m.CreatedAt)
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, thread_id, seq, visibility, channel, author, content, attachments, coalesce(external_id,''), read_by, created_at
        FROM messages WHERE id=$1
    `, messageID)
	return scanMessage(row)
}

func (s *PostgresStore) ListMessages(ctx context.Context, threadID string, opts ListOptions) ([]*Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, thread_id, seq, visibility, channel, author, content, attachments, coalesce(external_id,''), read_by, created_at
        FROM messages WHERE thread_id=$1 AND seq > $2
        ORDER BY seq ASC LIMIT $3
    `, threadID, opts.AfterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetExternalID(ctx context.Context, messageID, externalID string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE messages SET external_id=$1 WHERE id=$2
    `, externalID, messageID)
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
	return nil
}

func (s *PostgresStore) AddReadBy(ctx context.Context, messageID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE messages
        SET read_by = array_append(read_by, $1)
        WHERE id=$2 AND NOT ($1 = ANY(read_by))
    `, userID, messageID)
	if err != nil {
		return err
	}
	// Zero rows either means the message is gone or the user already read
	// it; only the former is an error.
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id=$1)`, messageID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) LatestExternalID(ctx context.Context, threadID string) (string, error) {
	var extID string
	err := s.db.QueryRowContext(ctx, `
        SELECT external_id FROM messages
        WHERE thread_id=$1 AND external_id IS NOT NULL
        ORDER BY seq DESC LIMIT 1
    `, threadID).Scan(&extID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return extID, err
}

func (s *PostgresStore) HasAIReplySince(ctx context.Context, threadID string, afterSeq int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM messages
            WHERE thread_id=$1 AND seq > $2
              AND visibility='external' AND author->>'type'='ai'
        )
    `, threadID, afterSeq).Scan(&exists)
	return exists, err
}

func scanThread(scanner interface{ Scan(dest ...any) error }) (*Thread, error) {
	var t Thread
	var userIDs, groupIDs []string
	var metaJSON []byte
	if err := scanner.Scan(&t.ID, &t.CaseID, &t.OrgID, pq.Array(&userIDs), pq.Array(&groupIDs), &metaJSON, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.ParticipantUserIDs = append([]string(nil), userIDs...)
	t.ParticipantGroupIDs = append([]string(nil), groupIDs...)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var m Message
	var visibility, channel string
	var authorJSON, attJSON []byte
	var readBy []string
	if err := scanner.Scan(&m.ID, &m.ThreadID, &m.Seq, &visibility, &channel, &authorJSON, &m.Content, &attJSON, &m.ExternalID, pq.Array(&readBy), &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Visibility = Visibility(visibility)
	m.Channel = channels.Channel(channel)
	m.ReadBy = append([]string(nil), readBy...)
	if err := json.Unmarshal(authorJSON, &m.Author); err != nil {
		return nil, err
	}
	if len(attJSON) > 0 {
		if err := json.Unmarshal(attJSON, &m.Attachments); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func ensureSliceNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func ensureMapNotNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
