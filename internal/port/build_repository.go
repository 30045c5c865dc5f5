package port

import (
	"context"

	"github.com/rl1809/loadout/internal/core/domain"
)

type BuildRepository interface {
	// CreateBuild inserts a build with an empty item set and returns its ID
	CreateBuild(ctx context.Context, fields domain.BuildFields) (int64, error)

	// GetBuild retrieves a build by ID, domain.ErrNotFound when absent
	GetBuild(ctx context.Context, id int64) (*domain.Build, error)

	// ListBuilds returns builds matching the filter
	ListBuilds(ctx context.Context, filter domain.BuildFilter) ([]domain.Build, error)

	// GetItems returns the items of a build grouped by slot, empty when none
	GetItems(ctx context.Context, buildID int64) (domain.Items, error)

	// LoadBuild reads a build and its items in one transaction
	LoadBuild(ctx context.Context, id int64) (*domain.BuildWithItems, error)

	// ReplaceBuild updates the build row and swaps its whole item set atomically
	ReplaceBuild(ctx context.Context, id int64, fields domain.BuildFields, rows []domain.BuildItem) error

	// Ping reports whether the store is reachable
	Ping(ctx context.Context) error
}
