package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/models"
	"github.com/octorules/engine/pkg/repositories"
	"github.com/octorules/engine/pkg/retry"
)

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobFetching   JobStatus = "fetching"
	JobPersisting JobStatus = "persisting"
	JobExtracting JobStatus = "extracting_rules"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobStopped    JobStatus = "stopped"
)

// Finished jobs are kept for status queries until the ledger outgrows this
// many entries.
const defaultJobRetention = 256

// SyncJob tracks one repository sync through the queue.
type SyncJob struct {
	ID             uuid.UUID  `json:"id"`
	RepositoryID   int64      `json:"repository_id"`
	RepositoryName string     `json:"repository_name"`
	Force          bool       `json:"force"`
	Status         JobStatus  `json:"status"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`

	Processed      int `json:"processed"`
	Skipped        int `json:"skipped"`
	Comments       int `json:"comments"`
	RulesExtracted int `json:"rules_extracted"`
	RulesInvalid   int `json:"rules_invalid"`
	CacheHits      int `json:"cache_hits"`
	Errors         int `json:"errors"`

	// Attempts counts processing attempts; transient fetch failures requeue
	// the job until the retry budget runs out.
	Attempts int `json:"attempts"`
}

// SyncStatus is the service-wide counter snapshot.
type SyncStatus struct {
	Workers          int   `json:"workers"`
	QueueSize        int   `json:"queue_size"`
	ProcessedCount   int64 `json:"processed_count"`
	ErrorCount       int64 `json:"error_count"`
	InvalidRuleCount int64 `json:"invalid_rule_count"`
	Stopped          bool  `json:"stopped"`
}

// RuleExtractor runs rule extraction for one pull request. Implemented by
// *ExtractionService; nil disables extraction.
type RuleExtractor interface {
	ExtractForPullRequest(ctx context.Context, repositoryID, pullRequestID int64) (*ExtractionStats, error)
}

// SyncService owns the job queue and worker pool that drive repository
// syncs. Jobs are processed FIFO by a fixed number of workers.
type SyncService struct {
	collector *CollectorService
	extractor RuleExtractor
	repos     repositories.RepositoryRepository
	logger    *zap.Logger

	workers       int
	maxJobRetries int
	requeueDelay  time.Duration
	retainJobs    int
	queue         chan *SyncJob

	mu   sync.RWMutex
	jobs map[uuid.UUID]*SyncJob

	// enqueueMu serializes queue sends against Stop so nothing lands in the
	// queue after the drain, where no worker would ever pick it up.
	enqueueMu sync.Mutex

	processedCount   atomic.Int64
	errorCount       atomic.Int64
	invalidRuleCount atomic.Int64
	stopped          atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncService creates the orchestrator. extractor may be nil to sync
// without rule extraction. maxJobRetries bounds how often a job hit by a
// transient fetch failure is requeued.
func NewSyncService(
	collector *CollectorService,
	extractor RuleExtractor,
	repos repositories.RepositoryRepository,
	workers, queueCapacity, maxJobRetries int,
	logger *zap.Logger,
) *SyncService {
	if workers < 1 {
		workers = 1
	}
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	if maxJobRetries < 0 {
		maxJobRetries = 0
	}
	return &SyncService{
		collector:     collector,
		extractor:     extractor,
		repos:         repos,
		logger:        logger.Named("sync"),
		workers:       workers,
		maxJobRetries: maxJobRetries,
		requeueDelay:  2 * time.Second,
		retainJobs:    defaultJobRetention,
		queue:         make(chan *SyncJob, queueCapacity),
		jobs:          make(map[uuid.UUID]*SyncJob),
	}
}

// Start launches the worker pool. Workers run until Stop or ctx
// cancellation.
func (s *SyncService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}

	s.logger.Info("Sync workers started", zap.Int("workers", s.workers))
}

// EnqueueRepository queues a sync job for one repository.
func (s *SyncService) EnqueueRepository(repositoryID int64, force bool) (*SyncJob, error) {
	if s.stopped.Load() {
		return nil, apperrors.ErrSyncStopped
	}

	repo, err := s.repos.Get(context.Background(), repositoryID)
	if err != nil {
		return nil, err
	}
	if !repo.IsActive {
		return nil, apperrors.ErrRepoNotEnrolled
	}

	job := &SyncJob{
		ID:             uuid.New(),
		RepositoryID:   repo.ID,
		RepositoryName: repo.FullName,
		Force:          force,
		Status:         JobQueued,
		EnqueuedAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	if s.stopped.Load() {
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, apperrors.ErrSyncStopped
	}

	select {
	case s.queue <- job:
		return job, nil
	default:
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, fmt.Errorf("sync queue is full (capacity %d)", cap(s.queue))
	}
}

// EnqueueAll queues a sync job for every active repository.
func (s *SyncService) EnqueueAll(force bool) ([]*SyncJob, error) {
	if s.stopped.Load() {
		return nil, apperrors.ErrSyncStopped
	}

	repos, err := s.repos.List(context.Background(), true)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	var jobs []*SyncJob
	for _, repo := range repos {
		job, err := s.EnqueueRepository(repo.ID, force)
		if err != nil {
			return jobs, fmt.Errorf("enqueue %s: %w", repo.FullName, err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Stop refuses new jobs, signals workers to wind down at the next pull
// request boundary, drains queued jobs as stopped, and waits for in-flight
// work to settle. Per-PR transactions keep the store consistent regardless
// of where a worker was interrupted.
func (s *SyncService) Stop() {
	s.enqueueMu.Lock()
	alreadyStopped := !s.stopped.CompareAndSwap(false, true)
	s.enqueueMu.Unlock()
	if alreadyStopped {
		return
	}

	s.logger.Info("Stopping sync service")

	if s.cancel != nil {
		s.cancel()
	}

	// Mark everything still queued as stopped so status reads are honest.
	for {
		select {
		case job := <-s.queue:
			s.finishJob(job, JobStopped, "sync service stopped before job started")
		default:
			s.wg.Wait()
			s.logger.Info("Sync service stopped")
			return
		}
	}
}

// Status returns the service-wide counters.
func (s *SyncService) Status() SyncStatus {
	return SyncStatus{
		Workers:          s.workers,
		QueueSize:        len(s.queue),
		ProcessedCount:   s.processedCount.Load(),
		ErrorCount:       s.errorCount.Load(),
		InvalidRuleCount: s.invalidRuleCount.Load(),
		Stopped:          s.stopped.Load(),
	}
}

// Job returns a snapshot of one job by ID.
func (s *SyncService) Job(id uuid.UUID) (*SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

// LastJobForRepository returns a snapshot of the most recently enqueued job
// for one repository.
func (s *SyncService) LastJobForRepository(repositoryID int64) (*SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *SyncJob
	for _, job := range s.jobs {
		if job.RepositoryID != repositoryID {
			continue
		}
		if latest == nil || job.EnqueuedAt.After(latest.EnqueuedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	snapshot := *latest
	return &snapshot, nil
}

// Jobs returns snapshots of all known jobs, newest first.
func (s *SyncService) Jobs() []*SyncJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*SyncJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	return jobs
}

func (s *SyncService) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()

	logger := s.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.processJob(ctx, logger, job)
		}
	}
}

func (s *SyncService) processJob(ctx context.Context, logger *zap.Logger, job *SyncJob) {
	now := time.Now().UTC()
	s.updateJob(job, func(j *SyncJob) {
		j.Status = JobFetching
		j.StartedAt = &now
		j.Attempts++
	})

	logger.Info("Processing sync job",
		zap.String("job_id", job.ID.String()),
		zap.String("repository", job.RepositoryName))

	repo, err := s.repos.Get(ctx, job.RepositoryID)
	if err != nil {
		s.failJob(job, fmt.Errorf("load repository: %w", err))
		return
	}

	stats, err := s.collector.CollectRepository(ctx, repo, job.Force, func(phase JobStatus) {
		s.updateJob(job, func(j *SyncJob) { j.Status = phase })
	})
	s.updateJob(job, func(j *SyncJob) {
		j.Processed = stats.Processed
		j.Skipped = stats.Skipped
		j.Comments = stats.Comments
		j.Errors = stats.Errors
	})

	if err != nil && ctx.Err() == nil && retry.IsRetryable(err) && job.Attempts <= s.maxJobRetries {
		// Service counters settle on the terminal attempt only; the retry
		// repeats the same pull requests.
		s.requeueJob(job, err)
		return
	}

	s.processedCount.Add(int64(stats.Processed))
	s.errorCount.Add(int64(stats.Errors))

	if err != nil {
		if ctx.Err() != nil {
			s.finishJob(job, JobStopped, "stopped during fetch")
			return
		}
		s.failJob(job, err)
		return
	}

	if s.extractor != nil {
		s.updateJob(job, func(j *SyncJob) { j.Status = JobExtracting })

		for _, prID := range stats.PullRequestIDs {
			extStats, err := s.extractor.ExtractForPullRequest(ctx, repo.ID, prID)
			if extStats != nil {
				s.updateJob(job, func(j *SyncJob) {
					j.RulesExtracted += extStats.Extracted
					j.RulesInvalid += extStats.Invalid
					j.CacheHits += extStats.CacheHits
					j.Errors += extStats.Errors
				})
				s.errorCount.Add(int64(extStats.Errors))
				s.invalidRuleCount.Add(int64(extStats.Invalid))
			}
			if err != nil {
				if ctx.Err() != nil {
					s.finishJob(job, JobStopped, "stopped during extraction")
					return
				}
				s.failJob(job, fmt.Errorf("extract rules for pull request %d: %w", prID, err))
				return
			}
		}
	}

	s.finishJob(job, JobCompleted, "")
	logger.Info("Sync job completed",
		zap.String("job_id", job.ID.String()),
		zap.Int("processed", job.Processed),
		zap.Int("rules_extracted", job.RulesExtracted))
}

func (s *SyncService) updateJob(job *SyncJob, fn func(*SyncJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(job)
}

// requeueJob puts a transiently failed job back on the queue after a delay
// that doubles with each attempt.
func (s *SyncService) requeueJob(job *SyncJob, cause error) {
	delay := s.requeueDelay << (job.Attempts - 1)
	s.updateJob(job, func(j *SyncJob) {
		j.Status = JobQueued
		j.Error = cause.Error()
	})

	s.logger.Warn("Requeueing sync job after transient failure",
		zap.String("job_id", job.ID.String()),
		zap.String("repository", job.RepositoryName),
		zap.Int("attempt", job.Attempts),
		zap.Duration("delay", delay),
		zap.Error(cause))

	time.AfterFunc(delay, func() {
		s.enqueueMu.Lock()
		defer s.enqueueMu.Unlock()

		if s.stopped.Load() {
			s.finishJob(job, JobStopped, "sync service stopped before retry")
			return
		}
		select {
		case s.queue <- job:
		default:
			s.failJob(job, fmt.Errorf("requeue after transient failure: queue is full: %w", cause))
		}
	})
}

func (s *SyncService) failJob(job *SyncJob, err error) {
	s.errorCount.Add(1)
	s.finishJob(job, JobFailed, err.Error())
	s.logger.Error("Sync job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("repository", job.RepositoryName),
		zap.Error(err))
}

func (s *SyncService) finishJob(job *SyncJob, status JobStatus, errMsg string) {
	now := time.Now().UTC()
	s.updateJob(job, func(j *SyncJob) {
		j.Status = status
		j.FinishedAt = &now
		j.Error = errMsg
	})
	s.pruneJobs()
}

// pruneJobs evicts the oldest finished jobs once the ledger outgrows the
// retention limit. Jobs still queued or running are never evicted.
func (s *SyncService) pruneJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) <= s.retainJobs {
		return
	}

	var finished []*SyncJob
	for _, job := range s.jobs {
		if job.FinishedAt != nil {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].FinishedAt.Before(*finished[j].FinishedAt)
	})

	for _, job := range finished {
		if len(s.jobs) <= s.retainJobs {
			break
		}
		delete(s.jobs, job.ID)
	}
}

// EnrollRepository fetches repository metadata from GitHub and upserts it as
// an active sync target.
func (s *SyncService) EnrollRepository(ctx context.Context, owner, name string) (*models.Repository, bool, error) {
	remote, err := s.collector.client.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, false, fmt.Errorf("fetch repository %s/%s: %w", owner, name, err)
	}

	repo := &models.Repository{
		GitHubID:    remote.ID,
		Name:        remote.Name,
		FullName:    remote.FullName,
		OwnerLogin:  remote.Owner.Login,
		HTMLURL:     remote.HTMLURL,
		Description: remote.Description,
		Language:    remote.Language,
	}

	created, err := s.repos.Upsert(ctx, repo)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Re-enrolling reactivates a previously removed repository.
		if err := s.repos.SetActive(ctx, repo.ID, true); err != nil {
			return nil, false, err
		}
	}

	stored, err := s.repos.Get(ctx, repo.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}
