package io

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/slok/postsched/internal/model"
)

// MediaExtensions are the file extensions picked when scheduling a folder, in
// scheduling order.
var MediaExtensions = []string{".mp4", ".mov"}

// FolderPlan describes how the media of a folder are scheduled.
type FolderPlan struct {
	Dir       string
	Owner     string
	Platforms []string
	// Start is the scheduled time of the first media.
	Start time.Time
	// Every is the interval between consecutive media.
	Every time.Duration
}

// GetFolderPlan returns one descriptor per media file in the folder. Files are
// grouped by extension in MediaExtensions order and sorted by name inside each
// group. A `<name>.txt` file next to a media file is used as its caption.
func (r *PlanYAMLRepository) GetFolderPlan(ctx context.Context, p FolderPlan) ([]model.TaskDescriptor, error) {
	if p.Every < 0 {
		return nil, fmt.Errorf("interval can't be negative: %w", model.ErrNotValid)
	}

	entries, err := fs.ReadDir(r.fs, p.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}

	var media []string
	for _, ext := range MediaExtensions {
		var group []string
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ext) {
				continue
			}
			group = append(group, e.Name())
		}
		sort.Strings(group)
		media = append(media, group...)
	}

	if len(media) == 0 {
		return nil, fmt.Errorf("no %s files found in %s: %w", strings.Join(MediaExtensions, "/"), p.Dir, model.ErrNotFound)
	}

	descs := make([]model.TaskDescriptor, 0, len(media))
	for i, name := range media {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		caption, err := r.sidecarCaption(path.Join(p.Dir, name))
		if err != nil {
			return nil, err
		}

		desc := model.TaskDescriptor{
			MediaRef:    filepath.Join(r.root, filepath.FromSlash(p.Dir), name),
			Caption:     caption,
			Owner:       p.Owner,
			Platforms:   p.Platforms,
			ScheduledAt: p.Start.Add(time.Duration(i) * p.Every),
		}
		if err := desc.Validate(); err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}

	return descs, nil
}

func (r *PlanYAMLRepository) sidecarCaption(mediaPath string) (string, error) {
	captionPath := strings.TrimSuffix(mediaPath, path.Ext(mediaPath)) + ".txt"
	data, err := fs.ReadFile(r.fs, captionPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading caption file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
