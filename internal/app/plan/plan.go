package plan

import (
	"context"
	"fmt"
	"sort"

	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
	storageio "github.com/slok/postsched/internal/storage/io"
)

// Loader loads task descriptors from plan sources.
type Loader interface {
	GetPlan(ctx context.Context, planPath string) ([]model.TaskDescriptor, error)
	GetFolderPlan(ctx context.Context, p storageio.FolderPlan) ([]model.TaskDescriptor, error)
	GetQueueDir(ctx context.Context, dir string) ([]storageio.QueuedTask, error)
}

var _ Loader = (*storageio.PlanYAMLRepository)(nil)

// ServiceConfig is the configuration for the plan service.
type ServiceConfig struct {
	Loader Loader
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Loader == nil {
		return fmt.Errorf("loader is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service resolves the uploads a plan file, a media folder or a queue directory
// describes.
type Service struct {
	loader Loader
	logger log.Logger
}

// NewService creates a new plan service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		loader: cfg.Loader,
		logger: cfg.Logger,
	}, nil
}

// Request represents the plan request parameters, exactly one source is required.
type Request struct {
	PlanPath string
	Folder   *storageio.FolderPlan
	// QueueDir is a directory of task files.
	QueueDir string
	// Owner and Platforms override the plan values when set.
	Owner     string
	Platforms []string
}

// Run returns the descriptors ordered by scheduled time, keeping the source
// order for equal times.
func (s *Service) Run(ctx context.Context, req Request) ([]model.TaskDescriptor, error) {
	if err := checkSources(req); err != nil {
		return nil, err
	}

	if req.QueueDir != "" {
		queued, err := s.Queued(ctx, req)
		if err != nil {
			return nil, err
		}
		descs := make([]model.TaskDescriptor, 0, len(queued))
		for _, q := range queued {
			descs = append(descs, q.Descriptor)
		}
		return descs, nil
	}

	var descs []model.TaskDescriptor
	var err error
	if req.PlanPath != "" {
		descs, err = s.loader.GetPlan(ctx, req.PlanPath)
	} else {
		descs, err = s.loader.GetFolderPlan(ctx, *req.Folder)
	}
	if err != nil {
		return nil, fmt.Errorf("could not load plan: %w", err)
	}

	order, err := s.resolve(req, descs)
	if err != nil {
		return nil, err
	}

	sorted := make([]model.TaskDescriptor, 0, len(descs))
	for _, i := range order {
		sorted = append(sorted, descs[i])
	}
	return sorted, nil
}

// Queued returns the task files of the request queue directory, with the same
// overrides and order Run applies.
func (s *Service) Queued(ctx context.Context, req Request) ([]storageio.QueuedTask, error) {
	if req.QueueDir == "" {
		return nil, fmt.Errorf("a queue directory is required: %w", model.ErrNotValid)
	}
	if err := checkSources(req); err != nil {
		return nil, err
	}

	queued, err := s.loader.GetQueueDir(ctx, req.QueueDir)
	if err != nil {
		return nil, fmt.Errorf("could not load queue directory: %w", err)
	}

	descs := make([]model.TaskDescriptor, 0, len(queued))
	for _, q := range queued {
		descs = append(descs, q.Descriptor)
	}
	order, err := s.resolve(req, descs)
	if err != nil {
		return nil, err
	}

	sorted := make([]storageio.QueuedTask, 0, len(queued))
	for _, i := range order {
		q := queued[i]
		q.Descriptor = descs[i]
		sorted = append(sorted, q)
	}
	return sorted, nil
}

func checkSources(req Request) error {
	n := 0
	for _, set := range []bool{req.PlanPath != "", req.Folder != nil, req.QueueDir != ""} {
		if set {
			n++
		}
	}

	switch {
	case n > 1:
		return fmt.Errorf("plan file, folder and queue directory are mutually exclusive: %w", model.ErrNotValid)
	case n == 0:
		return fmt.Errorf("a plan file, a folder or a queue directory is required: %w", model.ErrNotValid)
	}
	return nil
}

// resolve applies the request overrides to descs in place and returns the
// indexes of descs sorted by scheduled time.
func (s *Service) resolve(req Request, descs []model.TaskDescriptor) ([]int, error) {
	order := make([]int, 0, len(descs))
	for i := range descs {
		if req.Owner != "" {
			descs[i].Owner = req.Owner
		}
		if len(req.Platforms) > 0 {
			descs[i].Platforms = req.Platforms
		}
		if err := descs[i].Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		order = append(order, i)
	}

	sort.SliceStable(order, func(a, b int) bool {
		return descs[order[a]].ScheduledAt.Before(descs[order[b]].ScheduledAt)
	})

	s.logger.Debugf("plan has %d uploads", len(descs))
	return order, nil
}
