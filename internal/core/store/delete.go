package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/syntrixbase/medstore/internal/core/changefeed"
	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/validation"
)

// DeleteService removes studies, series or instances from the index. Their
// files are removed later by the cleanup sweep.
type DeleteService struct {
	index  index.InstanceStore
	events changefeed.Publisher
	clock  clock.Clock
	delay  time.Duration
	logger *slog.Logger
}

func NewDeleteService(store index.InstanceStore, events changefeed.Publisher, cfg Config, c clock.Clock, logger *slog.Logger) *DeleteService {
	if events == nil {
		events = changefeed.Nop{}
	}
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteService{
		index:  store,
		events: events,
		clock:  c,
		delay:  cfg.DeleteDelay,
		logger: logger.With("component", "delete-service"),
	}
}

func (s *DeleteService) DeleteStudy(ctx context.Context, partition index.PartitionKey, studyUID string) ([]index.VersionedInstanceIdentifier, error) {
	return s.Delete(ctx, partition, index.DeleteTarget{StudyInstanceUID: studyUID})
}

func (s *DeleteService) DeleteSeries(ctx context.Context, partition index.PartitionKey, studyUID, seriesUID string) ([]index.VersionedInstanceIdentifier, error) {
	return s.Delete(ctx, partition, index.DeleteTarget{StudyInstanceUID: studyUID, SeriesInstanceUID: seriesUID})
}

func (s *DeleteService) DeleteInstance(ctx context.Context, partition index.PartitionKey, studyUID, seriesUID, sopUID string) ([]index.VersionedInstanceIdentifier, error) {
	return s.Delete(ctx, partition, index.DeleteTarget{StudyInstanceUID: studyUID, SeriesInstanceUID: seriesUID, SOPInstanceUID: sopUID})
}

// Delete queues every version matched by target for cleanup and returns them.
func (s *DeleteService) Delete(ctx context.Context, partition index.PartitionKey, target index.DeleteTarget) ([]index.VersionedInstanceIdentifier, error) {
	if err := checkTarget(target); err != nil {
		return nil, err
	}
	versions, err := s.index.DeleteInstanceIndex(ctx, partition, target, s.clock.Now().Add(s.delay))
	if err != nil {
		return nil, err
	}
	s.logger.Info("Deleted instances", "study", target.StudyInstanceUID, "series", target.SeriesInstanceUID,
		"sop", target.SOPInstanceUID, "versions", len(versions))

	for _, v := range versions {
		if err := s.events.Publish(ctx, changefeed.Event{Type: changefeed.EventDeleted, VersionedInstanceIdentifier: v}); err != nil {
			s.logger.Warn("Instance deleted without change event", "instance", v, "error", err)
		}
	}
	return versions, nil
}

func checkTarget(t index.DeleteTarget) error {
	if !validation.ValidUID(t.StudyInstanceUID) {
		return fmt.Errorf("%w: %q", ErrInvalidStudyUID, t.StudyInstanceUID)
	}
	if t.SOPInstanceUID != "" && t.SeriesInstanceUID == "" {
		return fmt.Errorf("%w: series instance UID is required to delete an instance", validation.ErrValidationFailed)
	}
	for _, uid := range []string{t.SeriesInstanceUID, t.SOPInstanceUID} {
		if uid != "" && !validation.ValidUID(uid) {
			return fmt.Errorf("%w: invalid UID %q", validation.ErrValidationFailed, uid)
		}
	}
	return nil
}
