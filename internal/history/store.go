// Package history хранит итоги попыток деплоя в PostgreSQL.
//
// Store включается при заданном DB_URL и используется как ещё один
// получатель итогов оркестратора (вместе с RabbitMQ), а также
// командой history.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/redeploy/internal/domain"
)

// DefaultLimit — размер выборки List по умолчанию.
const DefaultLimit = 20

const schema = `
	CREATE TABLE IF NOT EXISTS redeploy_deployments (
		attempt_id  uuid PRIMARY KEY,
		name        text NOT NULL,
		branch      text NOT NULL,
		status      text NOT NULL,
		commit_id   text,
		error       text,
		cause       text,
		duration_ms bigint NOT NULL,
		finished_at timestamptz NOT NULL
	);
	CREATE INDEX IF NOT EXISTS redeploy_deployments_name_idx
		ON redeploy_deployments (name, finished_at DESC);
`

// Store — репозиторий итогов деплоя.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore создаёт новый Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema создаёт таблицу, если её нет.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Record сохраняет итог попытки. Повторная запись той же попытки игнорируется.
func (s *Store) Record(ctx context.Context, o domain.Outcome) error {
	query := `
		INSERT INTO redeploy_deployments
			(attempt_id, name, branch, status, commit_id, error, cause, duration_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (attempt_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		o.AttemptID,
		o.Name,
		o.Branch,
		string(o.Status),
		nullString(o.CommitID),
		nullString(o.Error),
		nullString(o.Cause),
		o.Duration.Milliseconds(),
		o.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// PublishOutcome записывает итог; Store можно передать оркестратору как получателя.
func (s *Store) PublishOutcome(ctx context.Context, o domain.Outcome) error {
	return s.Record(ctx, o)
}

// Filter — параметры выборки истории.
type Filter struct {
	Name   string
	Status domain.OutcomeStatus
	Limit  int
	Offset int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// List возвращает итоги, новые первыми.
func (s *Store) List(ctx context.Context, filter Filter) ([]domain.Outcome, error) {
	query := `
		SELECT attempt_id, name, branch, status, commit_id, error, cause, duration_ms, finished_at
		FROM redeploy_deployments
		WHERE ($1::text IS NULL OR name = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY finished_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, query,
		nullString(filter.Name),
		nullString(string(filter.Status)),
		filter.limit(),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, rows.Err()
}

// Last возвращает последний итог сервиса name (любой или с заданным статусом).
func (s *Store) Last(ctx context.Context, name string, status domain.OutcomeStatus) (*domain.Outcome, error) {
	query := `
		SELECT attempt_id, name, branch, status, commit_id, error, cause, duration_ms, finished_at
		FROM redeploy_deployments
		WHERE name = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY finished_at DESC
		LIMIT 1
	`
	o, err := scanOutcome(s.pool.QueryRow(ctx, query, name, nullString(string(status))))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// --- Helpers ---

// scanOutcome сканирует одну строку в Outcome.
func scanOutcome(row pgx.Row) (*domain.Outcome, error) {
	var o domain.Outcome
	var status string
	var commitID, errText, cause *string
	var durationMS int64

	err := row.Scan(
		&o.AttemptID,
		&o.Name,
		&o.Branch,
		&status,
		&commitID,
		&errText,
		&cause,
		&durationMS,
		&o.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan outcome: %w", err)
	}

	o.Status = domain.OutcomeStatus(status)
	o.Duration = time.Duration(durationMS) * time.Millisecond
	o.CommitID = deref(commitID)
	o.Error = deref(errText)
	o.Cause = deref(cause)

	return &o, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
