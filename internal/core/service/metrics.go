package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rl1809/loadout/internal/core/domain"
)

var (
	buildsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loadout_builds_created_total",
		Help: "Total number of builds created.",
	})
	buildReplacesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loadout_build_replaces_total",
		Help: "Build replacements by outcome.",
	}, []string{"outcome"})
	buildReplaceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loadout_build_replace_duration_seconds",
		Help:    "Duration of build replacement transactions.",
		Buckets: prometheus.DefBuckets,
	})
	buildItemsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loadout_build_items_written_total",
		Help: "Total number of build items written by replacements.",
	})
)

const (
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeInvalid  = "invalid"
	outcomeStorage  = "storage_error"
)

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, domain.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, domain.ErrValidation):
		return outcomeInvalid
	default:
		return outcomeStorage
	}
}
