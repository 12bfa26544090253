package io

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/postsched/internal/media"
	"github.com/slok/postsched/internal/model"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// PlanYAMLRepositoryConfig is the configuration for the YAML plan repository.
type PlanYAMLRepositoryConfig struct {
	// FS is the filesystem plans and media are read from.
	FS fs.FS
	// Root is the host path FS is rooted at, used to build media refs. Empty keeps
	// media refs relative to FS.
	Root string
	// Location is used for times without an explicit offset. Defaults to local time.
	Location *time.Location
	// TimeNow is used to resolve relative `after` offsets.
	TimeNow func() time.Time
}

func (c *PlanYAMLRepositoryConfig) defaults() error {
	if c.FS == nil {
		return fmt.Errorf("fs is required")
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	return nil
}

// PlanYAMLRepository loads upload plans from YAML files.
type PlanYAMLRepository struct {
	fs      fs.FS
	root    string
	loc     *time.Location
	timeNow func() time.Time
}

// NewPlanYAMLRepository creates a new YAML plan repository.
func NewPlanYAMLRepository(cfg PlanYAMLRepositoryConfig) (*PlanYAMLRepository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &PlanYAMLRepository{
		fs:      cfg.FS,
		root:    cfg.Root,
		loc:     cfg.Location,
		timeNow: cfg.TimeNow,
	}, nil
}

// GetPlan loads a plan file and returns the validated task descriptors in file order.
// Relative media paths are resolved against the plan file directory.
func (r *PlanYAMLRepository) GetPlan(ctx context.Context, planPath string) ([]model.TaskDescriptor, error) {
	data, err := fs.ReadFile(r.fs, planPath)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("invalid plan: at least one task is required: %w", model.ErrNotValid)
	}

	now := r.timeNow()
	descs := make([]model.TaskDescriptor, 0, len(plan.Tasks))
	for i, t := range plan.Tasks {
		desc, err := r.toModel(plan, t, path.Dir(planPath), now)
		if err != nil {
			return nil, fmt.Errorf("invalid plan: task %d: %w", i, err)
		}
		descs = append(descs, desc)
	}

	return descs, nil
}

// Plan represents the YAML structure of an upload plan.
type Plan struct {
	Owner     string     `yaml:"owner"`
	Platforms []string   `yaml:"platforms"`
	Tasks     []PlanTask `yaml:"tasks"`
}

// PlanTask represents a single scheduled upload in a plan.
type PlanTask struct {
	Media     string   `yaml:"media"`
	Caption   string   `yaml:"caption"`
	Owner     string   `yaml:"owner"`
	Platforms []string `yaml:"platforms"`
	// At is an absolute time, After an offset from load time. At most one is set,
	// none means now.
	At    string `yaml:"at"`
	After string `yaml:"after"`
}

func (r *PlanYAMLRepository) toModel(plan Plan, t PlanTask, dir string, now time.Time) (model.TaskDescriptor, error) {
	if t.At != "" && t.After != "" {
		return model.TaskDescriptor{}, fmt.Errorf("only one of at or after can be set: %w", model.ErrNotValid)
	}

	scheduledAt := now
	switch {
	case t.At != "":
		at, err := ParseTime(t.At, r.loc)
		if err != nil {
			return model.TaskDescriptor{}, err
		}
		scheduledAt = at
	case t.After != "":
		d, err := time.ParseDuration(t.After)
		if err != nil {
			return model.TaskDescriptor{}, fmt.Errorf("invalid after %q: %w", t.After, model.ErrNotValid)
		}
		scheduledAt = now.Add(d)
	}

	owner := t.Owner
	if owner == "" {
		owner = plan.Owner
	}
	platforms := t.Platforms
	if len(platforms) == 0 {
		platforms = plan.Platforms
	}

	desc := model.TaskDescriptor{
		Caption:     strings.TrimSpace(t.Caption),
		Owner:       owner,
		Platforms:   platforms,
		ScheduledAt: scheduledAt,
	}
	if t.Media != "" {
		desc.MediaRef = r.mediaRef(dir, t.Media)
	}

	if err := desc.Validate(); err != nil {
		return model.TaskDescriptor{}, err
	}

	return desc, nil
}

func (r *PlanYAMLRepository) mediaRef(dir, ref string) string {
	if filepath.IsAbs(ref) || media.IsRemote(ref) {
		return ref
	}
	return filepath.Join(r.root, filepath.FromSlash(dir), ref)
}

// ParseTime parses the supported plan time formats, times without offset use loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC3339 or 'YYYY-MM-DD HH:MM': %w", s, model.ErrNotValid)
}
