package db

import (
	"context"

	"github.com/paddockhq/governance/internal/models"
)

func (db *DB) CreateOrg(ctx context.Context, org *models.Org) error {
	query := `
        INSERT INTO orgs (name)
        VALUES ($1)
        RETURNING id, created_at, updated_at
    `

	return db.Pool.QueryRow(ctx, query, org.Name).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
}

func (db *DB) GetOrg(ctx context.Context, id string) (*models.Org, error) {
	query := `
        SELECT id, name, created_at, updated_at
        FROM orgs
        WHERE id = $1
    `

	var org models.Org
	err := db.Pool.QueryRow(ctx, query, id).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &org, nil
}

func (db *DB) ListOrgs(ctx context.Context) ([]*models.Org, error) {
	query := `
        SELECT id, name, created_at, updated_at
        FROM orgs
        ORDER BY created_at
    `

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*models.Org
	for rows.Next() {
		var org models.Org
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, &org)
	}

	return orgs, rows.Err()
}

func (db *DB) UpdateOrg(ctx context.Context, id, name string) error {
	query := `
        UPDATE orgs
        SET name = $2, updated_at = now()
        WHERE id = $1
    `

	_, err := db.Pool.Exec(ctx, query, id, name)
	return err
}

func (db *DB) DeleteOrg(ctx context.Context, id string) error {
	query := `DELETE FROM orgs WHERE id = $1`

	_, err := db.Pool.Exec(ctx, query, id)
	return err
}

func (db *DB) RotateUserAPIKey(ctx context.Context, userID, newAPIKey string) error {
	query := `
        UPDATE users
        SET api_key = $2
        WHERE id = $1
    `

	_, err := db.Pool.Exec(ctx, query, userID, newAPIKey)
	return err
}

// ---- handler artifacts / observability ----

func (db *DB) SaveEmbedding(ctx context.Context, orgID, sourceID, chunk string, vector []float64) error {
	query := `
        INSERT INTO embeddings (org_id, source_id, chunk, vector)
        VALUES ($1, $2, $3, $4)
    `

	_, err := db.Pool.Exec(ctx, query, orgID, sourceID, chunk, vector)
	return err
}

func (db *DB) SaveCrawledPage(ctx context.Context, orgID, url, content string) error {
	query := `
        INSERT INTO crawled_pages (org_id, url, content)
        VALUES ($1, $2, $3)
        ON CONFLICT (org_id, url) DO UPDATE
        SET content = EXCLUDED.content, fetched_at = now()
    `

	_, err := db.Pool.Exec(ctx, query, orgID, url, content)
	return err
}

func (db *DB) CreateNotification(ctx context.Context, orgID, userID, title, body string) error {
	query := `
        INSERT INTO notifications (org_id, user_id, title, body)
        VALUES ($1, $2, $3, $4)
    `

	_, err := db.Pool.Exec(ctx, query, orgID, userID, title, body)
	return err
}

func (db *DB) LogAccess(ctx context.Context, entry *models.AccessLog) error {
	query := `
        INSERT INTO access_logs (org_id, user_id, request_id, endpoint, method, status_code, response_time_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `

	_, err := db.Pool.Exec(ctx, query,
		entry.OrgID,
		entry.UserID,
		entry.RequestID,
		entry.Endpoint,
		entry.Method,
		entry.StatusCode,
		entry.ResponseTimeMs,
	)
	return err
}
