// Package audit stores the report of each ingestion run in the optional
// PostgreSQL and Redis sinks.
package audit

import (
	"context"
	"errors"
	"fmt"

	"attack-graph/internal/domain/models"
	"attack-graph/pkg/logger"
)

// Recorder persists a finished run report
type Recorder interface {
	Name() string
	Record(ctx context.Context, report *models.RunReport) error
}

// MultiRecorder fans a report out to every configured sink. A failing sink
// does not stop the others.
type MultiRecorder struct {
	recorders []Recorder
	logger    *logger.Logger
}

// NewMultiRecorder creates a recorder over the given sinks; nil sinks are dropped
func NewMultiRecorder(log *logger.Logger, recorders ...Recorder) *MultiRecorder {
	m := &MultiRecorder{logger: log.WithComponent("audit")}
	for _, r := range recorders {
		if r != nil {
			m.recorders = append(m.recorders, r)
		}
	}
	return m
}

// Len returns the number of sinks
func (m *MultiRecorder) Len() int {
	return len(m.recorders)
}

// Record writes the report to every sink and returns the joined failures
func (m *MultiRecorder) Record(ctx context.Context, report *models.RunReport) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Record(ctx, report); err != nil {
			m.logger.Warn().Err(err).Str("sink", r.Name()).Str("run_id", report.ID.String()).Msg("failed to record run")
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		m.logger.Debug().Str("sink", r.Name()).Str("run_id", report.ID.String()).Msg("run recorded")
	}
	return errors.Join(errs...)
}
