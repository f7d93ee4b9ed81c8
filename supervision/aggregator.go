package supervision

import (
	"context"

	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/tag"
	"github.com/vinayprograms/tagwatch/telemetry"
)

// QualityStore is the part of *tag.Store the aggregator uses.
type QualityStore interface {
	TagsFor(kind entity.Kind, entityID string) []string
	UpdateSupervision(ctx context.Context, tagID string, ev entity.Event, fn tag.SupervisionFunc) (bool, error)
}

// Aggregator folds entity status events into the quality of dependent
// tags.
type Aggregator struct {
	store   QualityStore
	logger  *logging.Logger
	metrics *telemetry.Metrics
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store QualityStore, logger *logging.Logger, metrics *telemetry.Metrics) *Aggregator {
	if logger == nil {
		logger = logging.New()
	}
	return &Aggregator{
		store:   store,
		logger:  logger.WithComponent("aggregator"),
		metrics: metrics,
	}
}

// Apply records ev on every tag that declares ev.EntityID as an ancestor
// of kind ev.Kind and returns how many tags changed quality. An entity no
// tag depends on yields (0, nil). Tags removed concurrently are skipped.
func (a *Aggregator) Apply(ctx context.Context, ev entity.Event) (int, error) {
	if ev.EntityID == "" || !ev.Kind.Valid() {
		return 0, errors.Precondition("supervision event needs an entity id and kind")
	}

	changed := 0
	var errs []error
	for _, tagID := range a.store.TagsFor(ev.Kind, ev.EntityID) {
		ok, err := a.store.UpdateSupervision(ctx, tagID, ev, a.recompute)
		switch {
		case errors.IsNotFound(err):
			continue
		case err != nil:
			errs = append(errs, err)
		case ok:
			changed++
		}
	}

	if changed > 0 {
		a.logger.Debug("quality_aggregated", map[string]interface{}{
			"entity":  ev.EntityID,
			"status":  string(ev.Status),
			"changed": changed,
		})
	}
	return changed, errors.Join(errs...)
}

func (a *Aggregator) recompute(kind entity.Kind, statuses map[string]entity.Event, q *tag.Quality) bool {
	if !tag.RecomputeSupervision(kind, statuses, q) {
		return false
	}
	a.metrics.IncQualityChange(string(tag.SupervisionFlag(kind)))
	return true
}
