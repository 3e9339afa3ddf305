package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists jobs and their append-only logs in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initJobSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initJobSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			config JSONB NOT NULL,
			status TEXT NOT NULL,
			current_phase TEXT NOT NULL DEFAULT '',
			plan JSONB NULL,
			result JSONB NULL,
			resume_token TEXT NOT NULL DEFAULT '',
			repo_path TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			seq BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			ts TIMESTAMPTZ NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL,
			message TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_logs_job_seq ON job_logs (job_id, seq);`,
		`CREATE TABLE IF NOT EXISTS job_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_messages_job_seq ON job_messages (job_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init job schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, j Job) (Job, error) {
	now := time.Now().UTC()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.Logs == nil {
		j.Logs = []LogEntry{}
	}
	j.CreatedAt = now
	j.UpdatedAt = now

	configJSON, planJSON, resultJSON, err := marshalPayloads(j)
	if err != nil {
		return Job{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, name, config, status, current_phase, plan, result, resume_token, repo_path, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		j.ID, j.Name, configJSON, string(j.Status), string(j.CurrentPhase),
		planJSON, resultJSON, j.ResumeToken, j.RepoPath, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Job, error) {
	j, err := s.scanJob(ctx, s.pool, id, false)
	if err != nil {
		return Job{}, err
	}
	logs, err := s.loadLogs(ctx, id)
	if err != nil {
		return Job{}, err
	}
	j.Logs = logs
	return j, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, config, status, current_phase, plan, result, resume_token, repo_path, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		j.Logs = []LogEntry{}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, upd Update) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := s.scanJob(ctx, tx, id, true)
	if err != nil {
		return Job{}, err
	}
	applyUpdate(&j, upd)
	j.UpdatedAt = time.Now().UTC()

	configJSON, planJSON, resultJSON, err := marshalPayloads(j)
	if err != nil {
		return Job{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET name=$2, config=$3, status=$4, current_phase=$5, plan=$6, result=$7,
		 resume_token=$8, repo_path=$9, updated_at=$10 WHERE id=$1`,
		id, j.Name, configJSON, string(j.Status), string(j.CurrentPhase),
		planJSON, resultJSON, j.ResumeToken, j.RepoPath, j.UpdatedAt,
	)
	if err != nil {
		return Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("commit update: %w", err)
	}

	logs, err := s.loadLogs(ctx, id)
	if err != nil {
		return Job{}, err
	}
	j.Logs = logs
	return j, nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, id string, entry LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_logs (job_id, ts, phase, level, message)
		 SELECT $1, $2, $3, $4, $5 WHERE EXISTS (SELECT 1 FROM jobs WHERE id=$1)`,
		id, entry.Timestamp, string(entry.Phase), string(entry.Level), entry.Message,
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, id string, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_messages (id, job_id, role, phase, content, created_at)
		 SELECT $1, $2, $3, $4, $5, $6 WHERE EXISTS (SELECT 1 FROM jobs WHERE id=$2)`,
		msg.ID, id, msg.Role, string(msg.Phase), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Message{}, ErrNotFound
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, id string) ([]Message, error) {
	if err := s.requireJob(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, phase, content, created_at FROM job_messages WHERE job_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query job messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			msg   Message
			phase string
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &phase, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Phase = Phase(phase)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) ClearMessages(ctx context.Context, id string) error {
	if err := s.requireJob(ctx, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM job_messages WHERE job_id=$1`, id); err != nil {
		return fmt.Errorf("clear job messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) requireJob(ctx context.Context, id string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) scanJob(ctx context.Context, q pgQuerier, id string, forUpdate bool) (Job, error) {
	query := `SELECT id, name, config, status, current_phase, plan, result, resume_token, repo_path, created_at, updated_at
		 FROM jobs WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanJobRow(q.QueryRow(ctx, query, id))
}

func scanJobRow(row pgx.Row) (Job, error) {
	var (
		j                                Job
		status, phase                    string
		configJSON, planJSON, resultJSON []byte
	)
	err := row.Scan(&j.ID, &j.Name, &configJSON, &status, &phase,
		&planJSON, &resultJSON, &j.ResumeToken, &j.RepoPath, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("scan job row: %w", err)
	}
	j.Status = Status(status)
	j.CurrentPhase = Phase(phase)
	if err := json.Unmarshal(configJSON, &j.Config); err != nil {
		return Job{}, fmt.Errorf("decode job config: %w", err)
	}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &j.Plan); err != nil {
			return Job{}, fmt.Errorf("decode job plan: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var r Result
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return Job{}, fmt.Errorf("decode job result: %w", err)
		}
		j.Result = &r
	}
	return j, nil
}

func (s *PostgresStore) loadLogs(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, phase, level, message FROM job_logs WHERE job_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query job logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var (
			entry        LogEntry
			phase, level string
		)
		if err := rows.Scan(&entry.Timestamp, &phase, &level, &entry.Message); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		entry.Phase = Phase(phase)
		entry.Level = LogLevel(level)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows: %w", err)
	}
	return logs, nil
}

func marshalPayloads(j Job) (configJSON, planJSON, resultJSON []byte, err error) {
	configJSON, err = json.Marshal(j.Config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode job config: %w", err)
	}
	if j.Plan != nil {
		planJSON, err = json.Marshal(j.Plan)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode job plan: %w", err)
		}
	}
	if j.Result != nil {
		resultJSON, err = json.Marshal(j.Result)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode job result: %w", err)
		}
	}
	return configJSON, planJSON, resultJSON, nil
}
