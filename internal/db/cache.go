package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/paddockhq/governance/internal/models"
)

// GetCachedResponse bumps the hit counter in the same round trip; a miss is
// (nil, nil).
func (db *DB) GetCachedResponse(ctx context.Context, orgID, promptHash string) (*models.CachedResponse, error) {
	query := `
        UPDATE response_cache
        SET hit_count = hit_count + 1, last_accessed = now()
        WHERE org_id = $1 AND prompt_hash = $2
        RETURNING id, org_id, prompt_hash, prompt, response, hit_count, created_at, last_accessed
    `

	var entry models.CachedResponse
	err := db.Pool.QueryRow(ctx, query, orgID, promptHash).Scan(
		&entry.ID,
		&entry.OrgID,
		&entry.PromptHash,
		&entry.Prompt,
		&entry.Response,
		&entry.HitCount,
		&entry.CreatedAt,
		&entry.LastAccessed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (db *DB) StoreCachedResponse(ctx context.Context, entry *models.CachedResponse) error {
	query := `
        INSERT INTO response_cache (org_id, prompt_hash, prompt, response)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (org_id, prompt_hash) DO UPDATE
        SET response = EXCLUDED.response, last_accessed = now()
    `

	_, err := db.Pool.Exec(ctx, query, entry.OrgID, entry.PromptHash, entry.Prompt, entry.Response)
	return err
}
