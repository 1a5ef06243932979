package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"TextTune/cache"
	"TextTune/core/audio"
	"TextTune/logger"
	"TextTune/model"
	"TextTune/repository"
	"TextTune/storage"

	"github.com/google/uuid"
)

// tickInterval is how often a running job's progress is re-estimated and
// persisted.
const tickInterval = 500 * time.Millisecond

// ErrSchedulerStopped is returned by Enqueue after Stop has been called.
var ErrSchedulerStopped = errors.New("scheduler is stopped")

// ProgressNotifier receives every observable job transition: the running
// flip, each progress tick, and the terminal state.
type ProgressNotifier interface {
	NotifyProgress(job *model.GenerationJob)
}

// Scheduler serializes audio rendering. Jobs enter a FIFO queue and at most
// `capacity` of them run concurrently; the default capacity of 1 matches a
// single inference backend, which cannot usefully render in parallel.
//
// 调度器进程内运行，不做跨进程协调：队列在重启后丢失，残留的
// queued/running 任务由数据库启动清理标记为 failed。
type Scheduler struct {
	jobs    repository.JobRepository
	tracks  repository.TrackRepository
	backend audio.RenderBackend
	archive *storage.Archive

	audioDir      string
	renderTimeout time.Duration

	mu       sync.Mutex
	queue    []*model.GenerationJob
	active   int
	capacity int
	stopped  bool

	notifiers []ProgressNotifier
	wg        sync.WaitGroup
}

// SchedulerOptions carries the scheduler's collaborators and tuning knobs.
type SchedulerOptions struct {
	Jobs          repository.JobRepository
	Tracks        repository.TrackRepository
	Backend       audio.RenderBackend
	Archive       *storage.Archive // optional, nil disables archiving
	AudioDir      string
	RenderTimeout time.Duration // 0 disables the per-job render deadline
	Capacity      int
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	capacity := opts.Capacity
	if capacity < 1 {
		capacity = 1
	}
	return &Scheduler{
		jobs:          opts.Jobs,
		tracks:        opts.Tracks,
		backend:       opts.Backend,
		archive:       opts.Archive,
		audioDir:      opts.AudioDir,
		renderTimeout: opts.RenderTimeout,
		capacity:      capacity,
	}
}

// AddNotifier registers a progress listener. Must be called before Enqueue.
func (s *Scheduler) AddNotifier(n ProgressNotifier) {
	s.notifiers = append(s.notifiers, n)
}

// Start logs the scheduler configuration. The worker goroutines are spawned
// lazily by Enqueue, so there is no background loop to boot.
func (s *Scheduler) Start() {
	logger.Info("generation scheduler started",
		logger.String("backend", s.backend.Name()),
		logger.Int("capacity", s.capacity),
		logger.Duration("renderTimeout", s.renderTimeout))
}

// Stop drains the scheduler: queued jobs are failed, in-flight renders are
// waited for until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	drained := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, job := range drained {
		s.fail(job, audio.CodeRenderError, "server shutting down before job started")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("generation scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for in-flight renders: %w", ctx.Err())
	}
}

// Enqueue appends a queued job to the FIFO and starts it if a slot is free.
// The job must already be persisted with status queued.
func (s *Scheduler) Enqueue(job *model.GenerationJob) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.queue = append(s.queue, job)
	queued := len(s.queue)
	s.mu.Unlock()

	logger.Info("job enqueued",
		logger.String("jobId", job.ID),
		logger.Int("queueDepth", queued))
	s.dispatch()
	return nil
}

// QueueDepth reports queued (not yet running) jobs.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ActiveCount reports jobs currently rendering.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// dispatch pops jobs off the queue head while capacity allows.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.stopped && s.active < s.capacity && len(s.queue) > 0 {
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.active++
		s.wg.Add(1)
		go s.runJob(job)
	}
}

// runJob drives one job from running to a terminal state. A panicking backend
// fails the job instead of killing the process.
func (s *Scheduler) runJob(job *model.GenerationJob) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("render backend panicked",
				logger.String("jobId", job.ID),
				logger.Any("panic", r))
			s.fail(job, audio.CodeRenderError, fmt.Sprintf("render panicked: %v", r))
		}
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.wg.Done()
		s.dispatch()
	}()

	if err := s.jobs.MarkRunning(job.ID, job.UserID, 0.05); err != nil {
		logger.Error("failed to mark job running", logger.String("jobId", job.ID), logger.ErrorField(err))
		s.fail(job, audio.CodeRenderError, "failed to start job")
		return
	}
	job.Status = model.JobStatusRunning
	job.Progress = 0.05
	s.notify(job)

	ctx := context.Background()
	if s.renderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.renderTimeout)
		defer cancel()
	}

	stopTicker := s.startProgressTicker(ctx, job)
	defer stopTicker()

	trackID := uuid.New().String()
	outDir := filepath.Join(s.audioDir, job.UserID)
	result, err := s.backend.Render(ctx, audio.RenderRequest{
		Prompt:         job.PromptExpanded,
		Duration:       job.Params.Duration,
		SampleRate:     job.Params.SampleRate,
		Seed:           job.Params.Seed,
		OutDir:         outDir,
		FilenamePrefix: trackID,
	})
	stopTicker()
	if err != nil {
		logger.Warn("render failed",
			logger.String("jobId", job.ID),
			logger.String("backend", s.backend.Name()),
			logger.ErrorField(err))
		s.fail(job, audio.ErrorCode(err), err.Error())
		return
	}

	s.commit(job, trackID, result)
}

// startProgressTicker persists a duration-aware progress estimate every tick
// until the returned stop function is called. The estimate saturates at 0.9;
// only the commit transaction writes 1.0. stop blocks until the ticker
// goroutine has fully exited, so no tick can land after a terminal write.
func (s *Scheduler) startProgressTicker(ctx context.Context, job *model.GenerationJob) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(done) })
		<-exited
	}

	started := time.Now()
	go func() {
		defer close(exited)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(started).Seconds()
				progress := estimateProgress(elapsed, job.Params.Duration)
				if progress <= job.Progress {
					continue
				}
				job.Progress = progress
				if err := s.jobs.SetProgress(job.ID, job.UserID, progress); err != nil {
					logger.Debug("failed to persist job progress",
						logger.String("jobId", job.ID),
						logger.ErrorField(err))
				}
				cache.SetJobProgress(context.Background(), job.ID, progress)
				s.notify(job)
			}
		}
	}()
	return stop
}

// estimateProgress maps elapsed wall time onto [0.1, 0.9]. Renders roughly
// track the requested audio duration, so the ramp is scaled to it with a
// floor of 3 seconds.
func estimateProgress(elapsedSeconds, durationSeconds float64) float64 {
	denom := durationSeconds - 2
	if denom < 3 {
		denom = 3
	}
	p := 0.1 + elapsedSeconds/denom
	if p > 0.9 {
		p = 0.9
	}
	return p
}

// commit inserts the track and flips the job to succeeded in one transaction.
func (s *Scheduler) commit(job *model.GenerationJob, trackID string, result *audio.RenderResult) {
	now := time.Now().UTC()
	track := &model.Track{
		ID:                 trackID,
		UserID:             job.UserID,
		JobID:              job.ID,
		Duration:           job.Params.Duration,
		SampleRate:         job.Params.SampleRate,
		Format:             result.Format,
		StorageKeyOriginal: result.FilePath,
		CreatedAt:          now,
		PromptRaw:          job.PromptRaw,
		PromptExpanded:     job.PromptExpanded,
		Params:             job.Params,
	}
	audioURL := "/v1/stream/" + trackID

	err := s.tracks.InsertAndLinkToJob(track, repository.JobCompletion{
		JobID:      job.ID,
		UserID:     job.UserID,
		FinishedAt: now,
		AudioURL:   audioURL,
	})
	if err != nil {
		// 提交失败时回收已渲染的文件，避免孤儿音频
		if rmErr := os.Remove(result.FilePath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove orphaned audio file",
				logger.String("path", result.FilePath),
				logger.ErrorField(rmErr))
		}
		logger.Error("failed to commit rendered track",
			logger.String("jobId", job.ID),
			logger.ErrorField(err))
		s.fail(job, audio.CodeRenderError, "failed to persist rendered track")
		return
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 1
	job.FinishedAt = &now
	job.ErrorCode = ""
	job.Error = ""
	job.ResultTrackID = trackID
	job.AudioURL = audioURL

	cache.ClearJobProgress(context.Background(), job.ID)
	s.notify(job)
	logger.Info("job succeeded",
		logger.String("jobId", job.ID),
		logger.String("trackId", trackID),
		logger.String("model", result.ModelID))

	if s.archive != nil {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.archive.UploadTrack(archiveCtx, job.UserID, trackID, result.Format, result.FilePath, result.ContentType)
	}
}

// fail moves the job to the failed terminal state.
func (s *Scheduler) fail(job *model.GenerationJob, code, message string) {
	now := time.Now().UTC()
	if err := s.jobs.MarkFailed(job.ID, job.UserID, now, code, message); err != nil {
		logger.Error("failed to mark job failed",
			logger.String("jobId", job.ID),
			logger.ErrorField(err))
	}
	job.Status = model.JobStatusFailed
	job.Progress = 1
	job.FinishedAt = &now
	job.ErrorCode = code
	job.Error = message
	job.ResultTrackID = ""
	job.AudioURL = ""

	cache.ClearJobProgress(context.Background(), job.ID)
	s.notify(job)
}

func (s *Scheduler) notify(job *model.GenerationJob) {
	for _, n := range s.notifiers {
		n.NotifyProgress(job)
	}
}
