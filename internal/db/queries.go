package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/paddockhq/governance/internal/models"
)

// ---- identity / tenant ----

func (db *DB) GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	query := `
        SELECT id, email, api_key, created_at
        FROM users
        WHERE api_key = $1
    `

	var user models.User
	err := db.Pool.QueryRow(ctx, query, apiKey).Scan(
		&user.ID,
		&user.Email,
		&user.APIKey,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// OrgForUser returns "" when the user has no membership row.
func (db *DB) OrgForUser(ctx context.Context, userID string) (string, error) {
	query := `
        SELECT org_id
        FROM org_members
        WHERE user_id = $1
        LIMIT 1
    `

	var orgID string
	err := db.Pool.QueryRow(ctx, query, userID).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return orgID, nil
}

func (db *DB) UserRoles(ctx context.Context, userID string) ([]string, error) {
	query := `
        SELECT role
        FROM user_roles
        WHERE user_id = $1
    `

	rows, err := db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// FeatureFlags returns flags enabled globally or for this org specifically.
func (db *DB) FeatureFlags(ctx context.Context, orgID string) (map[string]bool, error) {
	query := `
        SELECT feature_key, enabled
        FROM feature_flags
        WHERE enabled_for_orgs IS NULL OR $1 = ANY(enabled_for_orgs)
    `

	rows, err := db.Pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flags := make(map[string]bool)
	for rows.Next() {
		var key string
		var enabled bool
		if err := rows.Scan(&key, &enabled); err != nil {
			return nil, err
		}
		flags[key] = enabled
	}

	return flags, rows.Err()
}

// ---- budget / spend ledger ----

// BudgetPolicy returns nil when the org has no explicit policy; callers
// apply the configured default allowance.
func (db *DB) BudgetPolicy(ctx context.Context, orgID string) (*models.BudgetPolicy, error) {
	query := `
        SELECT org_id, daily_limit_cents
        FROM ai_budget_policies
        WHERE org_id = $1
    `

	var policy models.BudgetPolicy
	err := db.Pool.QueryRow(ctx, query, orgID).Scan(&policy.OrgID, &policy.DailyLimitCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &policy, nil
}

func (db *DB) SetBudgetPolicy(ctx context.Context, policy *models.BudgetPolicy) error {
	query := `
        INSERT INTO ai_budget_policies (org_id, daily_limit_cents)
        VALUES ($1, $2)
        ON CONFLICT (org_id) DO UPDATE SET daily_limit_cents = EXCLUDED.daily_limit_cents
    `

	_, err := db.Pool.Exec(ctx, query, policy.OrgID, policy.DailyLimitCents)
	return err
}

func (db *DB) SpentTodayCents(ctx context.Context, orgID string) (int, error) {
	query := `
        SELECT COALESCE(SUM(cost_cents), 0)
        FROM ai_action_ledger
        WHERE org_id = $1 AND created_at >= date_trunc('day', now())
    `

	var spent int
	if err := db.Pool.QueryRow(ctx, query, orgID).Scan(&spent); err != nil {
		return 0, err
	}

	return spent, nil
}

func (db *DB) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
        INSERT INTO ai_action_ledger (org_id, user_id, request_id, action, model, cost_cents, latency_ms, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `

	_, err := db.Pool.Exec(ctx, query,
		entry.OrgID,
		entry.UserID,
		entry.RequestID,
		entry.Action,
		entry.Model,
		entry.CostCents,
		entry.LatencyMs,
		entry.Metadata,
	)
	return err
}

// ---- jobs ----

func (db *DB) EnqueueJob(ctx context.Context, job *models.Job) error {
	query := `
        INSERT INTO jobs (org_id, kind, payload, status, max_attempts, scheduled_at)
        VALUES ($1, $2, $3, 'pending', $4, COALESCE($5, now()))
        RETURNING id, status, attempts, scheduled_at, created_at
    `

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var scheduledAt any
	if !job.ScheduledAt.IsZero() {
		scheduledAt = job.ScheduledAt
	}

	return db.Pool.QueryRow(ctx, query, job.OrgID, job.Kind, job.Payload, maxAttempts, scheduledAt).
		Scan(&job.ID, &job.Status, &job.Attempts, &job.ScheduledAt, &job.CreatedAt)
}

// ClaimJob atomically locks the oldest eligible pending job, flips it to
// processing and increments attempts. SKIP LOCKED keeps concurrent workers
// from ever claiming the same row.
func (db *DB) ClaimJob(ctx context.Context) (*models.Job, error) {
	query := `
        UPDATE jobs
        SET status = 'processing', started_at = now(), attempts = attempts + 1
        WHERE id = (
            SELECT id
            FROM jobs
            WHERE status = 'pending' AND scheduled_at <= now()
            ORDER BY scheduled_at
            FOR UPDATE SKIP LOCKED
            LIMIT 1
        )
        RETURNING id, org_id, kind, payload, status, attempts, max_attempts,
                  scheduled_at, started_at, completed_at, result, error, created_at
    `

	var job models.Job
	err := db.Pool.QueryRow(ctx, query).Scan(
		&job.ID,
		&job.OrgID,
		&job.Kind,
		&job.Payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.Result,
		&job.Error,
		&job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (db *DB) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	query := `
        UPDATE jobs
        SET status = 'done', result = $2, completed_at = now(), error = NULL
        WHERE id = $1
    `

	_, err := db.Pool.Exec(ctx, query, id, result)
	return err
}

// FailJob re-queues the job for another attempt or marks it terminally
// failed. Re-queued jobs are immediately eligible again.
func (db *DB) FailJob(ctx context.Context, id string, errMsg string, retry bool) error {
	if retry {
		query := `
            UPDATE jobs
            SET status = 'pending', error = $2, completed_at = NULL
            WHERE id = $1
        `
		_, err := db.Pool.Exec(ctx, query, id, errMsg)
		return err
	}

	query := `
        UPDATE jobs
        SET status = 'failed', error = $2, completed_at = now()
        WHERE id = $1
    `
	_, err := db.Pool.Exec(ctx, query, id, errMsg)
	return err
}

func (db *DB) GetJob(ctx context.Context, orgID, id string) (*models.Job, error) {
	query := `
        SELECT id, org_id, kind, payload, status, attempts, max_attempts,
               scheduled_at, started_at, completed_at, result, error, created_at
        FROM jobs
        WHERE id = $1 AND org_id = $2
    `

	var job models.Job
	err := db.Pool.QueryRow(ctx, query, id, orgID).Scan(
		&job.ID,
		&job.OrgID,
		&job.Kind,
		&job.Payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.Result,
		&job.Error,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (db *DB) ListJobs(ctx context.Context, status string, limit int) ([]*models.Job, error) {
	query := `
        SELECT id, org_id, kind, payload, status, attempts, max_attempts,
               scheduled_at, started_at, completed_at, result, error, created_at
        FROM jobs
        WHERE ($1 = '' OR status = $1)
        ORDER BY created_at DESC
        LIMIT $2
    `

	rows, err := db.Pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		if err := rows.Scan(
			&job.ID,
			&job.OrgID,
			&job.Kind,
			&job.Payload,
			&job.Status,
			&job.Attempts,
			&job.MaxAttempts,
			&job.ScheduledAt,
			&job.StartedAt,
			&job.CompletedAt,
			&job.Result,
			&job.Error,
			&job.CreatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

// RetryJob resets a terminally failed job so the worker picks it up again.
func (db *DB) RetryJob(ctx context.Context, id string) error {
	query := `
        UPDATE jobs
        SET status = 'pending', attempts = 0, error = NULL, completed_at = NULL, scheduled_at = now()
        WHERE id = $1 AND status = 'failed'
    `

	tag, err := db.Pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return nil
}
