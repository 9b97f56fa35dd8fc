package registry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/photcat/photcat/internal/storage"
)

// PruneResult summarizes a retention pass over superseded products.
type PruneResult struct {
	// Candidates are the superseded products past the retention
	// window.
	Candidates []*ProductRecord `json:"candidates"`
	// DeletedRows is how many ledger rows were removed (0 on dry
	// run).
	DeletedRows int `json:"deleted_rows"`
	// DeletedObjects is how many archived objects were removed.
	DeletedObjects int `json:"deleted_objects"`
	// DryRun echoes the request flag.
	DryRun bool `json:"dry_run"`
}

// Prune removes superseded products older than the retention window.
// With dryRun the candidates are reported but nothing is deleted.
// When store is non-nil the candidates' archived objects are deleted
// too; object deletion failures are logged and skipped so the ledger
// stays ahead of the archive, never behind it.
func (r *Registry) Prune(ctx context.Context, retention time.Duration, dryRun bool, store storage.ObjectStorage) (*PruneResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-retention).Unix()
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE superseded_by IS NOT NULL AND created_at < ?
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("registry: querying prune candidates: %w", err)
	}
	candidates, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}

	result := &PruneResult{Candidates: candidates, DryRun: dryRun}
	if dryRun || len(candidates) == 0 {
		return result, nil
	}

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// Archive object first: a row without an object is just
		// history, an object without a row is an orphan.
		if store != nil && p.ObjectPath != "" {
			if err := store.Delete(ctx, p.ObjectPath); err != nil {
				log.Printf("[WARN] registry: could not delete archived object %s for product %s: %v",
					p.ObjectPath, p.ID, err)
				continue
			}
			result.DeletedObjects++
		}

		if _, err := r.db.ExecContext(ctx,
			"DELETE FROM products WHERE product_id = ?", p.ID); err != nil {
			return result, fmt.Errorf("registry: deleting product %s: %w", p.ID, err)
		}
		result.DeletedRows++
	}
	return result, nil
}
