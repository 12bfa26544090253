package schedule_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/postsched/internal/app/schedule"
	"github.com/slok/postsched/internal/engine"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/storage/memory"
	"github.com/slok/postsched/internal/upload/fake"
)

func newEngine(t *testing.T) (*engine.Engine, *memory.ResultLog) {
	t.Helper()

	uploader, err := fake.NewUploader(fake.UploaderConfig{Duration: 10 * time.Millisecond})
	require.NoError(t, err)
	results := memory.NewResultLog()

	e, err := engine.New(engine.Config{Uploader: uploader, Results: results, IdlePoll: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})

	return e, results
}

func TestNewService(t *testing.T) {
	_, err := schedule.NewService(schedule.ServiceConfig{})
	assert.Error(t, err)
}

func TestService_Run(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "a.mp4")
	require.NoError(t, os.WriteFile(media, []byte("video"), 0644))

	tests := map[string]struct {
		tasks       []model.TaskDescriptor
		expStatus   []model.TaskStatus
		expFailed   int
		expResults  int
		expErr      bool
		interrupted bool
	}{
		"due tasks should all finish": {
			tasks: []model.TaskDescriptor{
				{MediaRef: media, Owner: "alice"},
				{MediaRef: media, Owner: "alice", ScheduledAt: time.Now().Add(50 * time.Millisecond)},
			},
			expStatus:  []model.TaskStatus{model.TaskStatusSucceeded, model.TaskStatusSucceeded},
			expResults: 2,
		},
		"unreadable media should fail the task": {
			tasks: []model.TaskDescriptor{
				{MediaRef: media, Owner: "alice"},
				{MediaRef: filepath.Join(dir, "missing.mp4"), Owner: "alice"},
			},
			expStatus:  []model.TaskStatus{model.TaskStatusSucceeded, model.TaskStatusFailed},
			expFailed:  1,
			expResults: 2,
		},
		"invalid tasks should fail the submission": {
			tasks:  []model.TaskDescriptor{{MediaRef: media}},
			expErr: true,
		},
		"no tasks should fail": {
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			e, results := newEngine(t)
			svc, err := schedule.NewService(schedule.ServiceConfig{Scheduler: e})
			require.NoError(err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resp, err := svc.Run(ctx, schedule.Request{Tasks: test.tasks})
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			assert.False(resp.Interrupted)
			status := make([]model.TaskStatus, 0, len(resp.Tasks))
			for _, t := range resp.Tasks {
				status = append(status, t.Status)
			}
			assert.Equal(test.expStatus, status)
			assert.Equal(test.expFailed, resp.Failed())

			entries, _ := results.ListResults(context.Background())
			assert.Len(entries, test.expResults)
		})
	}
}

func TestService_RunInterrupted(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e, _ := newEngine(t)
	svc, err := schedule.NewService(schedule.ServiceConfig{Scheduler: e})
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	resp, err := svc.Run(ctx, schedule.Request{Tasks: []model.TaskDescriptor{
		{MediaRef: "/m.mp4", Owner: "alice", ScheduledAt: time.Now().Add(time.Hour)},
	}})
	require.NoError(err)

	assert.True(resp.Interrupted)
	require.Len(resp.Tasks, 1)
	assert.Equal(model.TaskStatusPending, resp.Tasks[0].Status)
}

func TestService_RunOnSucceeded(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	media := filepath.Join(dir, "a.mp4")
	require.NoError(os.WriteFile(media, []byte("video"), 0644))

	e, _ := newEngine(t)
	svc, err := schedule.NewService(schedule.ServiceConfig{Scheduler: e})
	require.NoError(err)

	var succeeded []int
	ids := map[int]string{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := svc.Run(ctx, schedule.Request{
		Tasks: []model.TaskDescriptor{
			{MediaRef: media, Owner: "alice"},
			{MediaRef: filepath.Join(dir, "missing.mp4"), Owner: "alice"},
			{MediaRef: media, Owner: "alice", ScheduledAt: time.Now().Add(50 * time.Millisecond)},
		},
		OnSucceeded: func(i int, id string) {
			succeeded = append(succeeded, i)
			ids[i] = id
		},
	})
	require.NoError(err)

	sort.Ints(succeeded)
	assert.Equal([]int{0, 2}, succeeded)
	assert.Equal(resp.Tasks[0].ID, ids[0])
	assert.Equal(resp.Tasks[2].ID, ids[2])
}
