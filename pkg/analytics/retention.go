package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/pulse/pkg/observability"
)

// DefaultRetention keeps one year of aggregated metrics.
const DefaultRetention = 365 * 24 * time.Hour

// Pruner deletes aggregated metrics past the retention cutoff.
type Pruner struct {
	store   MetricStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPruner creates a pruner. logger and metrics may be nil.
func NewPruner(store MetricStore, logger *observability.Logger, metrics *observability.Metrics) *Pruner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Pruner{store: store, logger: logger, metrics: metrics}
}

// Prune deletes every metric whose window ends strictly before cutoff. A
// window straddling the cutoff is kept.
func (p *Pruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	deleted, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		err = storeError(ctx, "metrics", "delete_before", err)
		p.logger.WithError(err).WithField("cutoff", cutoff).Error("Retention prune failed")
		return 0, err
	}
	p.metrics.ObservePruned(deleted)
	p.logger.WithFields(map[string]interface{}{
		"cutoff":  cutoff,
		"deleted": deleted,
	}).Info("Retention prune complete")
	return deleted, nil
}

// PruneOlderThan prunes with cutoff now - retention.
func (p *Pruner) PruneOlderThan(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	return p.Prune(ctx, now.Add(-retention))
}
