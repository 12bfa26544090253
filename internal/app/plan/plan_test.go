package plan_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/postsched/internal/app/plan"
	"github.com/slok/postsched/internal/model"
	storageio "github.com/slok/postsched/internal/storage/io"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) *plan.Service {
	t.Helper()

	fsys := fstest.MapFS{
		"plan.yaml": {Data: []byte(`
owner: alice
platforms: [tiktok]
tasks:
  - media: late.mp4
    after: 2h
  - media: early.mp4
    at: "2026-03-01T10:00:00Z"
  - media: also-late.mp4
    after: 2h
`)},
		"no-owner.yaml": {Data: []byte(`
tasks:
  - media: a.mp4
`)},
		"videos/a.mp4":         {Data: []byte("a")},
		"videos/b.mov":         {Data: []byte("b")},
		"queue/late.task.json": {Data: []byte(`{"scheduled_at": "2026-03-01T15:00:00Z", "video": "late.mp4", "user": "dave"}`)},
		"queue/soon.task.json": {Data: []byte(`{"scheduled_at": "2026-03-01T13:00:00Z", "video": "soon.mp4", "user": "dave"}`)},
	}

	repo, err := storageio.NewPlanYAMLRepository(storageio.PlanYAMLRepositoryConfig{
		FS:       fsys,
		Location: time.UTC,
		TimeNow:  func() time.Time { return now },
	})
	require.NoError(t, err)

	svc, err := plan.NewService(plan.ServiceConfig{Loader: repo})
	require.NoError(t, err)
	return svc
}

func TestNewService(t *testing.T) {
	_, err := plan.NewService(plan.ServiceConfig{})
	assert.Error(t, err)
}

func TestService_Run(t *testing.T) {
	tests := map[string]struct {
		req      plan.Request
		expMedia []string
		expOwner string
		expErr   error
	}{
		"plan tasks should be ordered by time keeping file order on ties": {
			req:      plan.Request{PlanPath: "plan.yaml"},
			expMedia: []string{"early.mp4", "late.mp4", "also-late.mp4"},
			expOwner: "alice",
		},
		"owner override should replace the plan owner": {
			req:      plan.Request{PlanPath: "plan.yaml", Owner: "bob"},
			expMedia: []string{"early.mp4", "late.mp4", "also-late.mp4"},
			expOwner: "bob",
		},
		"folder plans should be scheduled from start": {
			req: plan.Request{Folder: &storageio.FolderPlan{
				Dir:   "videos",
				Owner: "carol",
				Start: now,
				Every: time.Hour,
			}},
			expMedia: []string{"videos/a.mp4", "videos/b.mov"},
			expOwner: "carol",
		},
		"queue directories should be ordered by time": {
			req:      plan.Request{QueueDir: "queue"},
			expMedia: []string{"queue/soon.mp4", "queue/late.mp4"},
			expOwner: "dave",
		},
		"missing owner should be invalid": {
			req:    plan.Request{PlanPath: "no-owner.yaml"},
			expErr: model.ErrInvalidTask,
		},
		"no source should fail": {
			req:    plan.Request{},
			expErr: model.ErrNotValid,
		},
		"both sources should fail": {
			req:    plan.Request{PlanPath: "plan.yaml", Folder: &storageio.FolderPlan{Dir: "videos"}},
			expErr: model.ErrNotValid,
		},
		"plan file and queue directory should fail": {
			req:    plan.Request{PlanPath: "plan.yaml", QueueDir: "queue"},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			descs, err := newService(t).Run(context.Background(), test.req)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)

			media := make([]string, 0, len(descs))
			for _, d := range descs {
				media = append(media, d.MediaRef)
				assert.Equal(test.expOwner, d.Owner)
			}
			assert.Equal(test.expMedia, media)
		})
	}
}

func TestService_Queued(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	svc := newService(t)

	queued, err := svc.Queued(context.Background(), plan.Request{QueueDir: "queue", Owner: "erin", Platforms: []string{"tiktok"}})
	require.NoError(err)
	require.Len(queued, 2)

	assert.Equal("queue/soon.task.json", queued[0].TaskFile)
	assert.Equal("queue/soon.mp4", queued[0].Descriptor.MediaRef)
	assert.Equal("queue/late.task.json", queued[1].TaskFile)
	for _, q := range queued {
		assert.Equal("erin", q.Descriptor.Owner)
		assert.Equal([]string{"tiktok"}, q.Descriptor.Platforms)
	}

	_, err = svc.Queued(context.Background(), plan.Request{PlanPath: "plan.yaml"})
	assert.ErrorIs(err, model.ErrNotValid)
}
