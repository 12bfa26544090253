package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/postsched/internal/dispatcher"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/storage/memory"
	"github.com/slok/postsched/internal/storage/storagemock"
	"github.com/slok/postsched/internal/upload"
	"github.com/slok/postsched/internal/upload/uploadmock"
)

const waitTimeout = 3 * time.Second

var okOutcome = model.UploadOutcome{Success: true, StatusCode: 200}

// recordingNotifier stores events and checks a terminal event is only
// published once its result is already recorded.
type recordingNotifier struct {
	t       *testing.T
	results *memory.ResultLog

	mu     sync.Mutex
	events []model.StatusEvent
}

func (r *recordingNotifier) Publish(ev model.StatusEvent) {
	if r.results != nil && (ev.Phase == model.PhaseSucceeded || ev.Phase == model.PhaseFailed) {
		entries, _ := r.results.ListResults(context.Background())
		found := false
		for _, e := range entries {
			if e.TaskID == ev.TaskID {
				found = true
			}
		}
		assert.True(r.t, found, "terminal event of %s published before its result", ev.TaskID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) phases(taskID string) []model.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ps []model.Phase
	for _, ev := range r.events {
		if ev.TaskID == taskID {
			ps = append(ps, ev.Phase)
		}
	}
	return ps
}

func (r *recordingNotifier) firingOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, ev := range r.events {
		if ev.Phase == model.PhaseFiring {
			ids = append(ids, ev.TaskID)
		}
	}
	return ids
}

type testEnv struct {
	queue    *memory.Queue
	results  *memory.ResultLog
	notifier *recordingNotifier
	uploader *uploadmock.MockUploader
	disp     *dispatcher.Dispatcher

	cancel context.CancelFunc
	done   chan error
}

func newTestEnv(t *testing.T, mutate func(cfg *dispatcher.Config)) *testEnv {
	t.Helper()

	q, err := memory.NewQueue(memory.QueueConfig{})
	require.NoError(t, err)
	results := memory.NewResultLog()
	env := &testEnv{
		queue:    q,
		results:  results,
		notifier: &recordingNotifier{t: t, results: results},
		uploader: uploadmock.NewMockUploader(t),
	}

	cfg := dispatcher.Config{
		Queue:    env.queue,
		Uploader: env.uploader,
		Results:  env.results,
		Notifier: env.notifier,
		IdlePoll: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.disp, err = dispatcher.New(cfg)
	require.NoError(t, err)
	return env
}

func (e *testEnv) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan error, 1)
	go func() { e.done <- e.disp.Run(ctx) }()
	t.Cleanup(func() { e.stop(t) })
}

func (e *testEnv) stop(t *testing.T) {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	select {
	case err := <-e.done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Errorf("dispatcher did not stop")
	}
}

func (e *testEnv) submit(t *testing.T, media string, at time.Time) string {
	id, err := e.queue.Submit(context.Background(), model.TaskDescriptor{MediaRef: media, Owner: "alice", ScheduledAt: at})
	require.NoError(t, err)
	return id
}

func (e *testEnv) waitStatus(t *testing.T, id string, exp model.TaskStatus) *model.Task {
	var task *model.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = e.queue.Get(context.Background(), id)
		return err == nil && task.Status == exp
	}, waitTimeout, 5*time.Millisecond, "task %s never reached %s", id, exp)
	return task
}

func TestNew(t *testing.T) {
	q, _ := memory.NewQueue(memory.QueueConfig{})

	tests := map[string]struct {
		cfg    dispatcher.Config
		expErr bool
	}{
		"A complete config should create the dispatcher.": {
			cfg: dispatcher.Config{Queue: q, Uploader: &uploadmock.MockUploader{}, Results: memory.NewResultLog()},
		},
		"Missing queue should fail.": {
			cfg:    dispatcher.Config{Uploader: &uploadmock.MockUploader{}, Results: memory.NewResultLog()},
			expErr: true,
		},
		"Missing uploader should fail.": {
			cfg:    dispatcher.Config{Queue: q, Results: memory.NewResultLog()},
			expErr: true,
		},
		"Missing result logger should fail.": {
			cfg:    dispatcher.Config{Queue: q, Uploader: &uploadmock.MockUploader{}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := dispatcher.New(test.cfg)
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDispatcherPastTaskSucceeds(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newTestEnv(t, nil)
	id := env.submit(t, "/media/a.mp4", time.Now().Add(-time.Second))
	env.uploader.On("Upload", mock.Anything, model.UploadRequest{MediaRef: "/media/a.mp4", Owner: "alice"}, mock.Anything).Once().Return(okOutcome)

	env.start(t)
	task := env.waitStatus(t, id, model.TaskStatusSucceeded)
	env.stop(t)

	assert.Equal(1, task.Attempts)
	assert.Nil(task.LastError)
	assert.NotNil(task.FinishedAt)

	entries, err := env.results.ListResults(context.Background())
	require.NoError(err)
	require.Len(entries, 1)
	assert.Equal(id, entries[0].TaskID)
	assert.True(entries[0].Outcome.Success)
	assert.Equal(1, entries[0].Attempt)

	assert.Equal([]model.Phase{model.PhaseFiring, model.PhaseSucceeded}, env.notifier.phases(id))
	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	assert.False(env.notifier.events[len(env.notifier.events)-1].NotRecorded)
}

func TestDispatcherUnauthorizedFails(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newTestEnv(t, nil)
	id := env.submit(t, "/media/b.mp4", time.Time{})
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Once().
		Return(model.FailedOutcome(model.ErrorKindUnauthorized, 401, "check the API key"))

	env.start(t)
	task := env.waitStatus(t, id, model.TaskStatusFailed)
	env.stop(t)

	require.NotNil(task.LastError)
	assert.Equal(model.ErrorKindUnauthorized, task.LastError.Kind)
	assert.Equal(401, task.LastError.StatusCode)

	entries, _ := env.results.ListResults(context.Background())
	require.Len(entries, 1)
	assert.False(entries[0].Outcome.Success)
	assert.Equal(model.ErrorKindUnauthorized, entries[0].Outcome.ErrorKind)

	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	last := env.notifier.events[len(env.notifier.events)-1]
	assert.Equal(model.PhaseFailed, last.Phase)
	assert.Equal(model.ErrorKindUnauthorized, last.ErrorKind)
}

func TestDispatcherSameTimeFiresInSubmissionOrder(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, func(cfg *dispatcher.Config) { cfg.MaxConcurrent = 1 })
	at := time.Now().Add(50 * time.Millisecond)
	idC := env.submit(t, "/media/c.mp4", at)
	idD := env.submit(t, "/media/d.mp4", at)

	var mu sync.Mutex
	var uploaded []string
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Times(2).
		Return(func(_ context.Context, req model.UploadRequest, _ upload.ProgressFunc) model.UploadOutcome {
			mu.Lock()
			defer mu.Unlock()
			uploaded = append(uploaded, req.MediaRef)
			return okOutcome
		})

	env.start(t)
	env.waitStatus(t, idC, model.TaskStatusSucceeded)
	env.waitStatus(t, idD, model.TaskStatusSucceeded)
	env.stop(t)

	assert.Equal([]string{idC, idD}, env.notifier.firingOrder())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]string{"/media/c.mp4", "/media/d.mp4"}, uploaded)
}

func TestDispatcherCancelledTaskNeverUploads(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, nil)
	id := env.submit(t, "/media/e.mp4", time.Now().Add(100*time.Millisecond))
	ok, err := env.queue.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	env.start(t)
	time.Sleep(250 * time.Millisecond)
	env.stop(t)

	task, err := env.queue.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(model.TaskStatusCancelled, task.Status)
	env.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)

	entries, _ := env.results.ListResults(context.Background())
	assert.Empty(entries)
	assert.Empty(env.notifier.firingOrder())
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	assert := assert.New(t)

	const total = 6
	env := newTestEnv(t, func(cfg *dispatcher.Config) { cfg.MaxConcurrent = 2 })

	var current, peak atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, total)
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Times(total).
		Return(func(context.Context, model.UploadRequest, upload.ProgressFunc) model.UploadOutcome {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			started <- struct{}{}
			<-release
			current.Add(-1)
			return okOutcome
		})

	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		ids = append(ids, env.submit(t, "/media/x.mp4", time.Time{}))
	}

	env.start(t)
	<-started
	<-started
	time.Sleep(100 * time.Millisecond)

	// Tasks waiting for a slot are still pending.
	snap, _ := env.queue.Snapshot(context.Background())
	firing := 0
	for _, task := range snap {
		if task.Status == model.TaskStatusFiring {
			firing++
		}
	}
	assert.Equal(2, firing)

	close(release)
	for _, id := range ids {
		env.waitStatus(t, id, model.TaskStatusSucceeded)
	}
	env.stop(t)

	assert.Equal(int32(2), peak.Load())
}

func TestDispatcherShutdownWaitsInFlight(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, func(cfg *dispatcher.Config) { cfg.MaxConcurrent = 1 })

	release := make(chan struct{})
	started := make(chan struct{})
	var uploadCtxErr error
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Once().
		Return(func(ctx context.Context, _ model.UploadRequest, _ upload.ProgressFunc) model.UploadOutcome {
			close(started)
			<-release
			uploadCtxErr = ctx.Err()
			return okOutcome
		})

	first := env.submit(t, "/media/1.mp4", time.Time{})
	second := env.submit(t, "/media/2.mp4", time.Time{})

	env.start(t)
	<-started
	env.cancel()

	select {
	case <-env.done:
		t.Fatalf("dispatcher returned with an upload in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-env.done:
		assert.NoError(err)
	case <-time.After(waitTimeout):
		t.Fatalf("dispatcher did not stop")
	}
	env.cancel = nil

	assert.NoError(uploadCtxErr, "in-flight upload should not be cancelled by shutdown")
	t1, _ := env.queue.Get(context.Background(), first)
	t2, _ := env.queue.Get(context.Background(), second)
	assert.Equal(model.TaskStatusSucceeded, t1.Status)
	assert.Equal(model.TaskStatusPending, t2.Status)
}

func TestDispatcherWake(t *testing.T) {
	env := newTestEnv(t, func(cfg *dispatcher.Config) { cfg.IdlePoll = time.Minute })
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Once().Return(okOutcome)

	env.start(t)
	time.Sleep(50 * time.Millisecond)

	id := env.submit(t, "/media/w.mp4", time.Time{})
	env.disp.Wake()

	env.waitStatus(t, id, model.TaskStatusSucceeded)
}

func TestDispatcherFutureTaskWaitsUntilDue(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, func(cfg *dispatcher.Config) { cfg.IdlePoll = time.Minute })
	var firedAt time.Time
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Once().
		Return(func(context.Context, model.UploadRequest, upload.ProgressFunc) model.UploadOutcome {
			firedAt = time.Now()
			return okOutcome
		})

	at := time.Now().Add(150 * time.Millisecond)
	id := env.submit(t, "/media/f.mp4", at)

	env.start(t)
	env.waitStatus(t, id, model.TaskStatusSucceeded)

	assert.False(firedAt.Before(at.Add(-5*time.Millisecond)), "task fired before its scheduled time")
}

func TestDispatcherProgressIsThrottled(t *testing.T) {
	assert := assert.New(t)

	env := newTestEnv(t, nil)
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Once().
		Return(func(_ context.Context, _ model.UploadRequest, onProgress upload.ProgressFunc) model.UploadOutcome {
			for i := int64(1); i <= 100; i++ {
				onProgress(i, 1000)
			}
			return okOutcome
		})

	id := env.submit(t, "/media/p.mp4", time.Time{})
	env.start(t)
	env.waitStatus(t, id, model.TaskStatusSucceeded)
	env.stop(t)

	progress := 0
	for _, p := range env.notifier.phases(id) {
		if p == model.PhaseProgress {
			progress++
		}
	}
	// 0% to 10%.
	assert.Equal(11, progress)
}

func TestDispatcherRecordFailureStillFinishesTask(t *testing.T) {
	assert := assert.New(t)

	results := storagemock.NewMockResultLogger(t)
	results.On("Append", mock.Anything, mock.MatchedBy(func(e model.LogEntry) bool {
		return e.MediaRef == "/media/r.mp4" && e.Outcome.Success
	})).Once().Return(errors.New("disk full"))

	env := newTestEnv(t, func(cfg *dispatcher.Config) { cfg.Results = results })
	env.notifier.results = nil
	env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Once().Return(okOutcome)

	id := env.submit(t, "/media/r.mp4", time.Time{})
	env.start(t)
	task := env.waitStatus(t, id, model.TaskStatusSucceeded)
	env.stop(t)

	assert.Equal(1, task.Attempts)

	env.notifier.mu.Lock()
	defer env.notifier.mu.Unlock()
	last := env.notifier.events[len(env.notifier.events)-1]
	assert.Equal(model.PhaseSucceeded, last.Phase)
	assert.True(last.NotRecorded)
	assert.Contains(last.Message, "result not recorded")
}

func TestDispatcherRecordsResultBeforeTerminalStatus(t *testing.T) {
	tests := map[string]struct {
		outcome   model.UploadOutcome
		expStatus model.TaskStatus
	}{
		"A succeeded upload should be recorded while the task is firing.": {
			outcome:   okOutcome,
			expStatus: model.TaskStatusSucceeded,
		},
		"A failed upload should be recorded while the task is firing.": {
			outcome:   model.FailedOutcome(model.ErrorKindRemote, 500, "boom"),
			expStatus: model.TaskStatusFailed,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			var env *testEnv
			var mu sync.Mutex
			var atAppend []model.TaskStatus
			results := storagemock.NewMockResultLogger(t)
			results.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				entry := args.Get(1).(model.LogEntry)
				task, err := env.queue.Get(context.Background(), entry.TaskID)
				if !assert.NoError(err) {
					return
				}

				mu.Lock()
				defer mu.Unlock()
				atAppend = append(atAppend, task.Status)
			}).Return(nil)

			env = newTestEnv(t, func(cfg *dispatcher.Config) { cfg.Results = results })
			env.notifier.results = nil
			env.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(test.outcome)

			const total = 10
			ids := make([]string, 0, total)
			for i := 0; i < total; i++ {
				ids = append(ids, env.submit(t, "/media/o.mp4", time.Now().Add(-time.Second)))
			}

			env.start(t)
			for _, id := range ids {
				env.waitStatus(t, id, test.expStatus)
			}
			env.stop(t)

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, atAppend, total)
			for _, st := range atAppend {
				assert.Equal(model.TaskStatusFiring, st)
			}
		})
	}
}

func TestDispatcherRunTwiceFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t)
	time.Sleep(20 * time.Millisecond)

	assert.Error(t, env.disp.Run(context.Background()))
}
