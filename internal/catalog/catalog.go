// Package catalog aggregates the adoptable-entity catalog with per-entity
// adoption status.
//
// The backend exposes the catalog and the adoption state of each entity as
// separate resources. The aggregator joins them with a bounded fan-out and
// degrades per entity: a failed status fetch never hides the entity, it only
// loses that entity's live adoption data.
package catalog

import (
	"context"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// Entity is one adoptable water body from the catalog resource.
type Entity struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	LocationName string  `json:"location_name"`
	Category     string  `json:"type"`
	Price        float64 `json:"adoption_price"`
	HealthScore  int     `json:"health_score"`
	Description  string  `json:"description"`
	ImageURL     string  `json:"image_url"`
}

// Guardian is one active guardian reference in a status payload. The wire
// shape nests the profile relation under users.
type Guardian struct {
	Users struct {
		Name string `json:"name"`
	} `json:"users"`
}

// Status is the live adoption state of one entity.
type Status struct {
	ReportsCount    int        `json:"reports_count"`
	CleanupsCount   int        `json:"cleanups_count"`
	ActiveGuardians []Guardian `json:"active_guardians"`
	RecentReports   int        `json:"recent_reports"`
	RecentCleanups  int        `json:"recent_cleanups"`
}

// IsAdopted reports whether the entity has at least one active guardian.
func (s Status) IsAdopted() bool {
	return len(s.ActiveGuardians) > 0
}

// PrimaryGuardianName is the display name shown as the adopter. When the
// profile relation is absent from the payload the backend cannot name a single
// guardian, so a collective label stands in.
func (s Status) PrimaryGuardianName() string {
	if len(s.ActiveGuardians) > 0 && s.ActiveGuardians[0].Users.Name != "" {
		return s.ActiveGuardians[0].Users.Name
	}
	return "Multiple Guardians"
}

// Impact summarizes community activity around an entity.
type Impact struct {
	Reports   int
	Cleanups  int
	Guardians int
}

// View is one merged catalog row: the entity plus its adoption state. Impact
// is nil when the status fetch for this entity failed.
type View struct {
	Entity
	Adopted   bool
	AdoptedBy string
	Impact    *Impact
}

// API is the authenticated request surface the aggregator reads from.
type API interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// defaultFanOut bounds concurrent status fetches.
const defaultFanOut = 8

// Aggregator joins the catalog with per-entity adoption status.
type Aggregator struct {
	api    API
	fanOut int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithFanOut overrides the concurrent status-fetch limit.
func WithFanOut(limit int) Option {
	return func(a *Aggregator) {
		if limit > 0 {
			a.fanOut = limit
		}
	}
}

// NewAggregator creates an aggregator over the given API surface.
func NewAggregator(api API, opts ...Option) *Aggregator {
	a := &Aggregator{api: api, fanOut: defaultFanOut}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListAdoptableEntities fetches the catalog, fans out one status fetch per
// entity, and merges the results.
//
// Output order equals catalog order regardless of fetch completion order. A
// failed status fetch leaves its entity unadopted with nil Impact; only a
// failed catalog fetch fails the whole aggregation.
func (a *Aggregator) ListAdoptableEntities(ctx context.Context) ([]View, error) {
	var entities []Entity
	if err := a.api.GetJSON(ctx, "/adoption/water-bodies", &entities); err != nil {
		return nil, err
	}

	statuses := make([]*Status, len(entities))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.fanOut)
	for i, entity := range entities {
		group.Go(func() error {
			var status Status
			if err := a.api.GetJSON(groupCtx, "/adoption/status/"+url.PathEscape(entity.ID), &status); err != nil {
				// Degrade this entity only.
				return nil
			}
			statuses[i] = &status
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = group.Wait()

	views := make([]View, len(entities))
	for i, entity := range entities {
		view := View{Entity: entity}
		if status := statuses[i]; status != nil {
			view.Adopted = status.IsAdopted()
			if view.Adopted {
				view.AdoptedBy = status.PrimaryGuardianName()
			}
			view.Impact = &Impact{
				Reports:   status.ReportsCount,
				Cleanups:  status.CleanupsCount,
				Guardians: len(status.ActiveGuardians),
			}
		}
		views[i] = view
	}
	return views, nil
}
