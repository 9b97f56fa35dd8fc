package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/photcat/photcat/internal/storage"
)

// ReconcileReport is the outcome of a ledger-versus-reality check.
type ReconcileReport struct {
	// Dangling are ledger rows whose store file no longer exists on
	// disk.
	Dangling []DanglingEntry `json:"dangling"`
	// Orphaned are archive objects with no ledger row pointing at
	// them.
	Orphaned []string `json:"orphaned"`
	// TotalLedgerRows is the number of products checked.
	TotalLedgerRows int `json:"total_ledger_rows"`
	// TotalObjects is the number of archive objects scanned.
	TotalObjects int `json:"total_objects"`
	// RunAt is when the reconciliation ran.
	RunAt time.Time `json:"run_at"`
}

// DanglingEntry is a ledger row pointing at a missing store file.
type DanglingEntry struct {
	ProductID string `json:"product_id"`
	StorePath string `json:"store_path"`
}

// HasIssues reports whether the ledger and storage disagree anywhere.
func (r *ReconcileReport) HasIssues() bool {
	return len(r.Dangling) > 0 || len(r.Orphaned) > 0
}

// Reconcile cross-checks the ledger against the filesystem and the
// archive. Ledger rows with a vanished store file are dangling;
// archive objects under prefix that no row claims are orphaned. store
// may be nil when no archive is configured, in which case only the
// dangling check runs.
func (r *Registry) Reconcile(ctx context.Context, store storage.ObjectStorage, prefix string) (*ReconcileReport, error) {
	report := &ReconcileReport{RunAt: time.Now()}

	products, err := r.List(ctx, 1<<30)
	if err != nil {
		return nil, fmt.Errorf("registry: listing products for reconciliation: %w", err)
	}
	report.TotalLedgerRows = len(products)

	claimed := make(map[string]struct{}, len(products))
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.ObjectPath != "" {
			claimed[p.ObjectPath] = struct{}{}
		}
		if _, err := os.Stat(p.StorePath); os.IsNotExist(err) {
			report.Dangling = append(report.Dangling, DanglingEntry{
				ProductID: p.ID,
				StorePath: p.StorePath,
			})
		}
	}

	if store == nil {
		return report, nil
	}

	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("registry: listing archive objects: %w", err)
	}
	report.TotalObjects = len(objects)

	for _, obj := range objects {
		if _, ok := claimed[obj]; !ok {
			report.Orphaned = append(report.Orphaned, obj)
		}
	}
	return report, nil
}
