package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the postgres error code raised when the unique index
// on (user_id, source, source_id, type) rejects an insert.
const uniqueViolation = "23505"

// PostgresStorage implements Storage on a pgx connection pool.
// Dedup relies on the database's unique index rather than a read-check:
// two workers racing the same insert cannot both succeed.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a postgres-backed notification store.
func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

func (s *PostgresStorage) Create(ctx context.Context, notif *Notification) error {
	if err := notif.Validate(); err != nil {
		return err
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, type, title, message, source, source_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		notif.UserID, notif.Type, notif.Title, notif.Message,
		notif.Source, notif.SourceID, notif.Read, notif.CreatedAt,
	).Scan(&notif.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Exists(ctx context.Context, userID, source, sourceID string, typ Type) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM notifications
		   WHERE user_id = $1 AND source = $2 AND source_id = $3 AND type = $4
		 )`,
		userID, source, sourceID, typ,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStorage) Get(ctx context.Context, userID string, id int64) (*Notification, error) {
	var n Notification
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, type, title, message, source, source_id, is_read, created_at
		 FROM notifications
		 WHERE user_id = $1 AND id = $2`,
		userID, id,
	).Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Source, &n.SourceID, &n.Read, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

func (s *PostgresStorage) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT id, user_id, type, title, message, source, source_id, is_read, created_at
		FROM notifications WHERE user_id = $1`)
	args = append(args, userID)

	if opts.OnlyUnread {
		sb.WriteString(" AND is_read = FALSE")
	}
	if len(opts.Types) > 0 {
		args = append(args, opts.Types)
		fmt.Fprintf(&sb, " AND type = ANY($%d)", len(args))
	}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		fmt.Fprintf(&sb, " AND created_at > $%d", len(args))
	}

	sb.WriteString(" ORDER BY created_at DESC, id DESC")

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifs := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
			&n.Source, &n.SourceID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifs = append(notifs, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifs, nil
}

func (s *PostgresStorage) MarkRead(ctx context.Context, userID string, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND id = ANY($2)`,
		userID, ids,
	)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStorage) MarkAllRead(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Delete(ctx context.Context, userID string, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND id = ANY($2)`,
		userID, ids,
	)
	if err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}
