package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/loadout/internal/core/domain"
	"github.com/rl1809/loadout/internal/port"
)

// BuildService is the single entry point both surfaces use to read and
// mutate builds. It validates input and never retries storage failures.
type BuildService struct {
	repo   port.BuildRepository
	logger *zap.Logger
}

func NewBuildService(repo port.BuildRepository, logger *zap.Logger) *BuildService {
	return &BuildService{
		repo:   repo,
		logger: logger.Named("BuildService"),
	}
}

func (s *BuildService) CreateBuild(ctx context.Context, fields domain.BuildFields) (int64, error) {
	if err := fields.Validate(); err != nil {
		s.logger.Warn("rejected build creation", zap.Error(err))
		return 0, err
	}

	id, err := s.repo.CreateBuild(ctx, fields)
	if err != nil {
		s.logger.Error("failed to create build", zap.String("name", fields.Name), zap.Error(err))
		return 0, err
	}

	buildsCreatedTotal.Inc()
	s.logger.Info("build created",
		zap.Int64("build_id", id),
		zap.String("name", fields.Name),
		zap.String("type", fields.Type),
	)

	return id, nil
}

func (s *BuildService) GetBuild(ctx context.Context, id int64) (*domain.Build, error) {
	b, err := s.repo.GetBuild(ctx, id)
	if err != nil {
		s.logStorageError("failed to get build", id, err)
		return nil, err
	}
	return b, nil
}

func (s *BuildService) ListBuilds(ctx context.Context, filter domain.BuildFilter) ([]domain.Build, error) {
	builds, err := s.repo.ListBuilds(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list builds", zap.String("type", filter.Type), zap.Error(err))
		return nil, err
	}
	return builds, nil
}

// GetItems returns an empty mapping for unknown builds; use GetBuild to
// distinguish a missing build from an empty one.
func (s *BuildService) GetItems(ctx context.Context, buildID int64) (domain.Items, error) {
	items, err := s.repo.GetItems(ctx, buildID)
	if err != nil {
		s.logStorageError("failed to get items", buildID, err)
		return nil, err
	}
	if items == nil {
		items = domain.Items{}
	}
	return items, nil
}

func (s *BuildService) LoadBuild(ctx context.Context, id int64) (*domain.BuildWithItems, error) {
	snapshot, err := s.repo.LoadBuild(ctx, id)
	if err != nil {
		s.logStorageError("failed to load build", id, err)
		return nil, err
	}
	return snapshot, nil
}

// ReplaceBuild overwrites the build's fields and its whole item set. The last
// committed call wins.
func (s *BuildService) ReplaceBuild(ctx context.Context, id int64, fields domain.BuildFields, set domain.ItemSet) (err error) {
	start := time.Now()
	defer func() {
		buildReplacesTotal.WithLabelValues(outcome(err)).Inc()
		buildReplaceDuration.Observe(time.Since(start).Seconds())
	}()

	if _, err := s.repo.GetBuild(ctx, id); err != nil {
		s.logStorageError("failed to replace build", id, err)
		return err
	}

	if err := fields.Validate(); err != nil {
		s.logger.Warn("rejected build replacement", zap.Int64("build_id", id), zap.Error(err))
		return err
	}
	if err := set.Validate(); err != nil {
		s.logger.Warn("rejected build replacement", zap.Int64("build_id", id), zap.Error(err))
		return err
	}

	rows := set.Rows(id)
	if err := s.repo.ReplaceBuild(ctx, id, fields, rows); err != nil {
		s.logStorageError("failed to replace build", id, err)
		return err
	}

	buildItemsWrittenTotal.Add(float64(len(rows)))
	s.logger.Info("build replaced",
		zap.Int64("build_id", id),
		zap.Int("slots", len(set)),
		zap.Int("items", len(rows)),
	)

	return nil
}

func (s *BuildService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *BuildService) logStorageError(msg string, id int64, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Debug(msg, zap.Int64("build_id", id), zap.Error(err))
		return
	}
	s.logger.Error(msg, zap.Int64("build_id", id), zap.Error(err))
}
