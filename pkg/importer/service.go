package importer

import (
	"context"
	"errors"
	"os"

	"github.com/hq-analytics/hqbridge/pkg/async"
	"github.com/hq-analytics/hqbridge/pkg/hq"
	"github.com/hq-analytics/hqbridge/pkg/ingest"
	"github.com/hq-analytics/hqbridge/pkg/observability"
	"github.com/hq-analytics/hqbridge/pkg/session"
)

// DefaultAsyncThresholdBytes is the export size at which a refresh moves to
// the background queue
const DefaultAsyncThresholdBytes = 5_000_000

// ErrImportInProgress is returned when a datasource already has a running
// import
var ErrImportInProgress = errors.New("import already in progress")

// Service orchestrates dataset refreshes
type Service struct {
	coordinator *Coordinator
	queue       *async.TaskQueue
	downloader  *ingest.Downloader
	pipeline    *ingest.Pipeline
	client      *hq.Client
	threshold   int64
	metrics     *observability.Metrics
}

// NewService creates an import service. threshold <= 0 selects
// DefaultAsyncThresholdBytes.
func NewService(coordinator *Coordinator, queue *async.TaskQueue, downloader *ingest.Downloader, pipeline *ingest.Pipeline, client *hq.Client, threshold int64, metrics *observability.Metrics) *Service {
	if threshold <= 0 {
		threshold = DefaultAsyncThresholdBytes
	}
	return &Service{
		coordinator: coordinator,
		queue:       queue,
		downloader:  downloader,
		pipeline:    pipeline,
		client:      client,
		threshold:   threshold,
		metrics:     metrics,
	}
}

// IsImportInProgress reports whether a queued import for the datasource is
// still pending. A marker whose task already finished does not count.
func (s *Service) IsImportInProgress(ctx context.Context, domain, datasourceID string) (bool, error) {
	taskID, err := s.coordinator.TaskID(ctx, domain, datasourceID)
	if err != nil {
		return false, err
	}
	if taskID == "" {
		return false, nil
	}
	return s.queue.IsPending(taskID), nil
}

// TriggerRefresh downloads a datasource export and refreshes its table.
// Exports at or above the size threshold run on the background queue and
// the call returns queued=true immediately; smaller ones refresh inline.
func (s *Service) TriggerRefresh(ctx context.Context, sess *session.Context, domain, datasourceID string) (queued bool, err error) {
	inProgress, err := s.IsImportInProgress(ctx, domain, datasourceID)
	if err != nil {
		return false, err
	}
	if inProgress {
		return false, ErrImportInProgress
	}

	defn, err := ingest.FetchDefinition(ctx, s.client, sess, domain, datasourceID)
	if err != nil {
		return false, err
	}

	filePath, size, err := s.downloader.DownloadDatasource(ctx, sess, domain, datasourceID)
	if err != nil {
		return false, err
	}

	if size >= s.threshold {
		return true, s.enqueueRefresh(ctx, domain, datasourceID, filePath, defn)
	}

	defer os.Remove(filePath)
	return false, s.pipeline.RefreshDatasource(ctx, domain, datasourceID, defn.DisplayName, filePath, defn)
}

// enqueueRefresh hands the refresh to the background queue and marks the
// import in progress. The marker and the downloaded file are always
// cleaned up when the task finishes.
func (s *Service) enqueueRefresh(ctx context.Context, domain, datasourceID, filePath string, defn *ingest.DatasourceDefinition) error {
	log := observability.FromContext(ctx).
		WithField("hq_domain", domain).
		WithField("datasource_id", datasourceID)
	pipeline := s.pipeline.WithMode("async")

	taskID, err := s.queue.Submit(func(taskCtx context.Context) error {
		defer os.Remove(filePath)
		defer func() {
			if err := s.coordinator.MarkComplete(taskCtx, domain, datasourceID); err != nil {
				log.WithError(err).Error("failed to clear import marker")
			}
		}()
		if s.metrics != nil {
			s.metrics.ImportsInFlight.Inc()
			defer s.metrics.ImportsInFlight.Dec()
		}
		return pipeline.RefreshDatasource(taskCtx, domain, datasourceID, defn.DisplayName, filePath, defn)
	})
	if err != nil {
		os.Remove(filePath)
		return err
	}

	if err := s.coordinator.MarkInProgress(ctx, domain, datasourceID, taskID); err != nil {
		log.WithError(err).Warn("failed to mark import in progress")
	}
	log.WithField("task_id", taskID).Info("queued datasource import")
	return nil
}
