package exclusion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresLocker implements Locker over a named_locks table shared by all
// worker processes. A lock row is claimable when absent or expired; the
// holder token keeps a release from deleting a lock that already expired
// and was re-acquired by someone else.
type PostgresLocker struct {
	pool *pgxpool.Pool
}

func NewPostgresLocker(pool *pgxpool.Pool) *PostgresLocker {
	return &PostgresLocker{pool: pool}
}

func (l *PostgresLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, bool, error) {
	holder := uuid.New().String()

	tag, err := l.pool.Exec(ctx, `
        INSERT INTO named_locks (name, holder, expires_at)
        VALUES ($1, $2, now() + make_interval(secs => $3))
        ON CONFLICT (name) DO UPDATE
            SET holder = excluded.holder, expires_at = excluded.expires_at
            WHERE named_locks.expires_at < now()
    `, name, holder, ttl.Seconds())
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release runs in cleanup paths whose request context may
			// already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := l.pool.Exec(releaseCtx, `
                DELETE FROM named_locks WHERE name=$1 AND holder=$2
            `, name, holder); err != nil {
				// The TTL will reap it; the next acquire is delayed, not
				// blocked forever.
				log.Warn().Str("lock", name).Err(err).Msg("failed to release lock")
			}
		})
	}
	return release, true, nil
}
