package generation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"TextTune/core/audio"
	"TextTune/model"
	"TextTune/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobStore 内存版JobRepository，记录状态转移
type fakeJobStore struct {
	mu       sync.Mutex
	running  []string
	failed   map[string]string // job id -> error code
	progress map[string]float64
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		failed:   make(map[string]string),
		progress: make(map[string]float64),
	}
}

func (s *fakeJobStore) Create(job *model.GenerationJob) error { return nil }

func (s *fakeJobStore) FindByIDForUser(id, userID string) (*model.GenerationJob, error) {
	return nil, nil
}

func (s *fakeJobStore) MarkRunning(id, userID string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = append(s.running, id)
	s.progress[id] = progress
	return nil
}

func (s *fakeJobStore) SetProgress(id, userID string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[id] = progress
	return nil
}

func (s *fakeJobStore) MarkFailed(id, userID string, finishedAt time.Time, errorCode, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = errorCode
	return nil
}

func (s *fakeJobStore) FailInterrupted(finishedAt time.Time, errMsg string) (int64, error) {
	return 0, nil
}

func (s *fakeJobStore) runOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.running...)
}

func (s *fakeJobStore) failedCode(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[id]
}

// fakeTrackStore 内存版TrackRepository
type fakeTrackStore struct {
	mu       sync.Mutex
	inserted []*model.Track
	failNext error
}

func (s *fakeTrackStore) InsertAndLinkToJob(track *model.Track, link repository.JobCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.inserted = append(s.inserted, track)
	return nil
}

func (s *fakeTrackStore) FindByIDForUser(id, userID string) (*model.Track, error) { return nil, nil }
func (s *fakeTrackStore) ListByUser(userID string, limit int) ([]*model.Track, error) {
	return nil, nil
}
func (s *fakeTrackStore) DeleteByIDForUser(id, userID string) (*model.Track, error) {
	return nil, nil
}

// fakeBackend 可配置的渲染后端：记录调用顺序与并发度
type fakeBackend struct {
	mu            sync.Mutex
	order         []string
	inFlight      int
	maxInFlight   int
	delay         time.Duration
	failWith      map[string]error // prompt -> error
	panicOnPrompt string
	outDirFiles   bool // 为true时真的落盘，用于验证失败清理
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Render(ctx context.Context, req audio.RenderRequest) (*audio.RenderResult, error) {
	b.mu.Lock()
	b.order = append(b.order, req.Prompt)
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if b.panicOnPrompt != "" && req.Prompt == b.panicOnPrompt {
		panic("backend exploded")
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if err, ok := b.failWith[req.Prompt]; ok {
		return nil, err
	}

	filePath := filepath.Join(req.OutDir, req.FilenamePrefix+".wav")
	if b.outDirFiles {
		if err := os.MkdirAll(req.OutDir, 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filePath, []byte("RIFF"), 0644); err != nil {
			return nil, err
		}
	}
	return &audio.RenderResult{
		FilePath:    filePath,
		Format:      "wav",
		ContentType: "audio/wav",
		ModelID:     "fake-model",
	}, nil
}

func (b *fakeBackend) renderOrder() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

// terminalRecorder 收集进入终态的任务快照
type terminalRecorder struct {
	events chan model.GenerationJob
}

func newTerminalRecorder() *terminalRecorder {
	return &terminalRecorder{events: make(chan model.GenerationJob, 64)}
}

func (r *terminalRecorder) NotifyProgress(job *model.GenerationJob) {
	if job.Status.Terminal() {
		r.events <- *job
	}
}

func (r *terminalRecorder) waitTerminal(t *testing.T, n int) []model.GenerationJob {
	t.Helper()
	out := make([]model.GenerationJob, 0, n)
	deadline := time.After(10 * time.Second)
	for len(out) < n {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d terminal jobs, got %d", n, len(out))
		}
	}
	return out
}

func testJob(id, prompt string) *model.GenerationJob {
	return &model.GenerationJob{
		ID:             id,
		UserID:         "user-1",
		PromptRaw:      prompt,
		PromptExpanded: prompt,
		Params:         model.GenerationParams{Duration: 5},
		Status:         model.JobStatusQueued,
	}
}

func newTestScheduler(t *testing.T, jobs *fakeJobStore, tracks *fakeTrackStore, backend *fakeBackend) (*Scheduler, *terminalRecorder) {
	t.Helper()
	s := NewScheduler(SchedulerOptions{
		Jobs:     jobs,
		Tracks:   tracks,
		Backend:  backend,
		AudioDir: t.TempDir(),
		Capacity: 1,
	})
	rec := newTerminalRecorder()
	s.AddNotifier(rec)
	s.Start()
	return s, rec
}

func TestSchedulerRunsJobsFIFOWithoutOverlap(t *testing.T) {
	jobs := newFakeJobStore()
	tracks := &fakeTrackStore{}
	backend := &fakeBackend{delay: 30 * time.Millisecond}
	s, rec := newTestScheduler(t, jobs, tracks, backend)

	require.NoError(t, s.Enqueue(testJob("j1", "first")))
	require.NoError(t, s.Enqueue(testJob("j2", "second")))
	require.NoError(t, s.Enqueue(testJob("j3", "third")))

	done := rec.waitTerminal(t, 3)
	for _, job := range done {
		assert.Equal(t, model.JobStatusSucceeded, job.Status)
		assert.Equal(t, 1.0, job.Progress)
		assert.NotEmpty(t, job.ResultTrackID)
		assert.Equal(t, "/v1/stream/"+job.ResultTrackID, job.AudioURL)
		require.NotNil(t, job.FinishedAt)
	}

	// 提交顺序即执行顺序，且任何时刻只有一个在渲染
	assert.Equal(t, []string{"first", "second", "third"}, backend.renderOrder())
	assert.Equal(t, []string{"j1", "j2", "j3"}, jobs.runOrder())
	assert.Equal(t, 1, backend.maxInFlight)
}

func TestSchedulerFailedJobDoesNotBlockQueue(t *testing.T) {
	jobs := newFakeJobStore()
	tracks := &fakeTrackStore{}
	backend := &fakeBackend{
		failWith: map[string]error{
			"doomed": &audio.BackendError{Code: audio.CodeSpaceQuota, Message: "quota exhausted"},
		},
	}
	s, rec := newTestScheduler(t, jobs, tracks, backend)

	require.NoError(t, s.Enqueue(testJob("j1", "doomed")))
	require.NoError(t, s.Enqueue(testJob("j2", "fine")))

	done := rec.waitTerminal(t, 2)
	byID := map[string]model.GenerationJob{}
	for _, job := range done {
		byID[job.ID] = job
	}

	failed := byID["j1"]
	assert.Equal(t, model.JobStatusFailed, failed.Status)
	assert.Equal(t, audio.CodeSpaceQuota, failed.ErrorCode)
	assert.Empty(t, failed.ResultTrackID)
	assert.Equal(t, audio.CodeSpaceQuota, jobs.failedCode("j1"))

	ok := byID["j2"]
	assert.Equal(t, model.JobStatusSucceeded, ok.Status)
}

func TestSchedulerRecoversFromBackendPanic(t *testing.T) {
	jobs := newFakeJobStore()
	tracks := &fakeTrackStore{}
	backend := &fakeBackend{panicOnPrompt: "boom"}
	s, rec := newTestScheduler(t, jobs, tracks, backend)

	require.NoError(t, s.Enqueue(testJob("j1", "boom")))
	require.NoError(t, s.Enqueue(testJob("j2", "after the panic")))

	done := rec.waitTerminal(t, 2)
	byID := map[string]model.GenerationJob{}
	for _, job := range done {
		byID[job.ID] = job
	}
	assert.Equal(t, model.JobStatusFailed, byID["j1"].Status)
	assert.Equal(t, audio.CodeRenderError, byID["j1"].ErrorCode)
	assert.Equal(t, model.JobStatusSucceeded, byID["j2"].Status)
}

func TestSchedulerCommitFailureRemovesRenderedFile(t *testing.T) {
	jobs := newFakeJobStore()
	tracks := &fakeTrackStore{failNext: repository.ErrJobNotLinked}
	backend := &fakeBackend{outDirFiles: true}
	s, rec := newTestScheduler(t, jobs, tracks, backend)

	require.NoError(t, s.Enqueue(testJob("j1", "orphan")))

	done := rec.waitTerminal(t, 1)
	assert.Equal(t, model.JobStatusFailed, done[0].Status)
	assert.Equal(t, audio.CodeRenderError, done[0].ErrorCode)

	// 事务失败后渲染产物应被回收
	entries, err := os.ReadDir(filepath.Join(s.audioDir, "user-1"))
	if err == nil {
		assert.Empty(t, entries)
	}
	assert.Empty(t, tracks.inserted)
}

func TestSchedulerStopRejectsNewJobs(t *testing.T) {
	jobs := newFakeJobStore()
	tracks := &fakeTrackStore{}
	backend := &fakeBackend{}
	s, _ := newTestScheduler(t, jobs, tracks, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	err := s.Enqueue(testJob("late", "too late"))
	assert.True(t, errors.Is(err, ErrSchedulerStopped))
}

func TestSchedulerStopFailsQueuedJobs(t *testing.T) {
	jobs := newFakeJobStore()
	tracks := &fakeTrackStore{}
	backend := &fakeBackend{delay: 100 * time.Millisecond}
	s, rec := newTestScheduler(t, jobs, tracks, backend)

	require.NoError(t, s.Enqueue(testJob("j1", "running")))
	require.NoError(t, s.Enqueue(testJob("j2", "still queued")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	done := rec.waitTerminal(t, 2)
	byID := map[string]model.GenerationJob{}
	for _, job := range done {
		byID[job.ID] = job
	}
	// 在运行的任务跑完，排队的任务被判失败
	assert.Equal(t, model.JobStatusSucceeded, byID["j1"].Status)
	assert.Equal(t, model.JobStatusFailed, byID["j2"].Status)
}

// orderingJobStore 记录持久化写入的先后顺序；首个进度tick会卡在门上，
// 用来复现tick与终态写入的竞争窗口
type orderingJobStore struct {
	mu        sync.Mutex
	writes    []string
	entered   chan struct{} // 首个tick进入SetProgress时关闭
	enterOnce sync.Once
	gate      chan struct{} // tick在此等待放行
}

func (s *orderingJobStore) record(write string) {
	s.mu.Lock()
	s.writes = append(s.writes, write)
	s.mu.Unlock()
}

func (s *orderingJobStore) Create(job *model.GenerationJob) error { return nil }

func (s *orderingJobStore) FindByIDForUser(id, userID string) (*model.GenerationJob, error) {
	return nil, nil
}

func (s *orderingJobStore) MarkRunning(id, userID string, progress float64) error {
	s.record("running")
	return nil
}

func (s *orderingJobStore) SetProgress(id, userID string, progress float64) error {
	s.enterOnce.Do(func() { close(s.entered) })
	<-s.gate
	s.record("tick")
	return nil
}

func (s *orderingJobStore) MarkFailed(id, userID string, finishedAt time.Time, errorCode, errMsg string) error {
	s.record("failed")
	return nil
}

func (s *orderingJobStore) FailInterrupted(finishedAt time.Time, errMsg string) (int64, error) {
	return 0, nil
}

func (s *orderingJobStore) writeLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// tickRaceBackend 等到一个tick正卡在SetProgress里才返回失败
type tickRaceBackend struct {
	tickEntered <-chan struct{}
	release     func()
}

func (b *tickRaceBackend) Name() string { return "fake" }

func (b *tickRaceBackend) Render(ctx context.Context, req audio.RenderRequest) (*audio.RenderResult, error) {
	<-b.tickEntered
	b.release()
	return nil, &audio.BackendError{Code: audio.CodeRenderError, Message: "render backend unavailable"}
}

func TestProgressTickNeverLandsAfterTerminalWrite(t *testing.T) {
	store := &orderingJobStore{
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	var releaseOnce sync.Once
	backend := &tickRaceBackend{
		tickEntered: store.entered,
		release:     func() { releaseOnce.Do(func() { close(store.gate) }) },
	}

	s := NewScheduler(SchedulerOptions{
		Jobs:     store,
		Tracks:   &fakeTrackStore{},
		Backend:  backend,
		AudioDir: t.TempDir(),
		Capacity: 1,
	})
	rec := newTerminalRecorder()
	s.AddNotifier(rec)
	s.Start()

	require.NoError(t, s.Enqueue(testJob("j1", "slow tick")))

	done := rec.waitTerminal(t, 1)
	assert.Equal(t, model.JobStatusFailed, done[0].Status)
	assert.Equal(t, 1.0, done[0].Progress)

	// 终态写入必须是最后一次持久化写入：停表要等在途tick落地
	writes := store.writeLog()
	require.Contains(t, writes, "tick")
	require.Contains(t, writes, "failed")
	assert.Equal(t, "failed", writes[len(writes)-1], "terminal write must come last, got %v", writes)
}

func TestEstimateProgress(t *testing.T) {
	// 起点0.1，按时长缩放，0.9封顶
	assert.InDelta(t, 0.1, estimateProgress(0, 30), 1e-9)
	assert.InDelta(t, 0.1+14.0/28.0, estimateProgress(14, 30), 1e-9)
	assert.InDelta(t, 0.9, estimateProgress(60, 30), 1e-9)

	// 短任务分母下限为3秒
	assert.InDelta(t, 0.1+1.0/3.0, estimateProgress(1, 2), 1e-9)
	assert.InDelta(t, 0.9, estimateProgress(10, 1), 1e-9)
}
