package io

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/slok/postsched/internal/media"
	"github.com/slok/postsched/internal/model"
)

// TaskFileSuffix is the suffix of the task files of a queue directory.
const TaskFileSuffix = ".task.json"

// QueuedTask is an upload described by a task file of a queue directory.
type QueuedTask struct {
	// TaskFile is the host path of the task file.
	TaskFile   string
	Descriptor model.TaskDescriptor
}

// taskFile is the JSON structure of a queue directory task file.
type taskFile struct {
	ScheduledAt string   `json:"scheduled_at"`
	Video       string   `json:"video"`
	Caption     string   `json:"caption"`
	User        string   `json:"user"`
	Platforms   []string `json:"platforms"`
}

// GetQueueDir returns one task per `*.task.json` file of the directory, ordered
// by scheduled time and by file name on ties. The video of a task file is
// resolved next to it.
func (r *PlanYAMLRepository) GetQueueDir(ctx context.Context, dir string) ([]QueuedTask, error) {
	entries, err := fs.ReadDir(r.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("reading queue directory: %w", err)
	}

	var tasks []QueuedTask
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), TaskFileSuffix) {
			continue
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		desc, err := r.readTaskFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("task file %s: %w", e.Name(), err)
		}

		tasks = append(tasks, QueuedTask{
			TaskFile:   filepath.Join(r.root, filepath.FromSlash(dir), e.Name()),
			Descriptor: desc,
		})
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("no %s files found in %s: %w", TaskFileSuffix, dir, model.ErrNotFound)
	}

	// ReadDir returns the entries sorted by name.
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Descriptor.ScheduledAt.Before(tasks[j].Descriptor.ScheduledAt)
	})

	return tasks, nil
}

func (r *PlanYAMLRepository) readTaskFile(taskPath string) (model.TaskDescriptor, error) {
	data, err := fs.ReadFile(r.fs, taskPath)
	if err != nil {
		return model.TaskDescriptor{}, fmt.Errorf("reading task file: %w", err)
	}

	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return model.TaskDescriptor{}, fmt.Errorf("parsing JSON: %s: %w", err, model.ErrNotValid)
	}

	if tf.ScheduledAt == "" {
		return model.TaskDescriptor{}, fmt.Errorf("scheduled_at is required: %w", model.ErrNotValid)
	}
	at, err := ParseTime(tf.ScheduledAt, r.loc)
	if err != nil {
		return model.TaskDescriptor{}, err
	}

	desc := model.TaskDescriptor{
		Caption:     strings.TrimSpace(tf.Caption),
		Owner:       tf.User,
		Platforms:   tf.Platforms,
		ScheduledAt: at,
	}
	if tf.Video != "" {
		desc.MediaRef = r.mediaRef(path.Dir(taskPath), tf.Video)
	}

	if err := desc.Validate(); err != nil {
		return model.TaskDescriptor{}, err
	}

	return desc, nil
}

// RemoveQueuedTask deletes the task file and, unless keepMedia is set, its local
// media. Remote media are never deleted and files already gone are ignored.
func RemoveQueuedTask(t QueuedTask, keepMedia bool) error {
	var errs []error
	if err := os.Remove(t.TaskFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing task file: %w", err))
	}

	if !keepMedia && !media.IsRemote(t.Descriptor.MediaRef) {
		if err := os.Remove(t.Descriptor.MediaRef); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing media: %w", err))
		}
	}

	return errors.Join(errs...)
}
