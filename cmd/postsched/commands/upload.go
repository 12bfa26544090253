package commands

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/ulid/v2"

	"github.com/slok/postsched/internal/media"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/printer"
)

type UploadCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	media      string
	owner      string
	caption    string
	platforms  []string
	noProgress bool
	format     string
}

// NewUploadCommand returns the upload command.
func NewUploadCommand(rootCmd *RootCommand, app *kingpin.Application) *UploadCommand {
	c := &UploadCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("upload", "Upload a video right now.")
	c.Cmd.Arg("media", "Video file to upload.").Required().StringVar(&c.media)
	c.Cmd.Flag("owner", "Account the upload is done as.").Short('u').Required().StringVar(&c.owner)
	c.Cmd.Flag("caption", "Post caption.").Short('c').StringVar(&c.caption)
	c.Cmd.Flag("platform", "Target platform (repeatable), none means every linked platform.").Short('p').StringsVar(&c.platforms)
	c.Cmd.Flag("no-progress", "Disable the progress bar.").BoolVar(&c.noProgress)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c UploadCommand) Name() string { return c.Cmd.FullCommand() }

func (c UploadCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	mediaRef := c.media
	if !media.IsRemote(mediaRef) {
		abs, err := filepath.Abs(mediaRef)
		if err != nil {
			return fmt.Errorf("invalid media path: %w", err)
		}
		mediaRef = abs
	}

	desc := model.TaskDescriptor{MediaRef: mediaRef, Caption: c.caption, Owner: c.owner, Platforms: c.platforms}
	if err := desc.Validate(); err != nil {
		return err
	}

	results, closeResults, err := c.rootCmd.newResultRepository(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeResults(); err != nil {
			logger.Warningf("Could not close result log: %s", err)
		}
	}()

	uploader, err := c.rootCmd.newUploader()
	if err != nil {
		return fmt.Errorf("could not create uploader: %w", err)
	}

	now := time.Now()
	task := model.Task{
		ID:          ulid.Make().String(),
		MediaRef:    desc.MediaRef,
		Caption:     desc.Caption,
		Owner:       desc.Owner,
		Platforms:   desc.Platforms,
		ScheduledAt: now,
		Status:      model.TaskStatusFiring,
		Attempts:    1,
		CreatedAt:   now,
	}

	var bar *printer.ProgressBar
	var onProgress func(sent, total int64)
	if !c.noProgress {
		bar = printer.NewProgressBar(c.rootCmd.Stderr, path.Base(mediaRef))
		onProgress = bar.Update
	}

	outcome := uploader.Upload(ctx, task.UploadRequest(), onProgress)
	if bar != nil {
		bar.Finish()
	}

	if err := results.Append(ctx, model.NewLogEntry(task, outcome, time.Now())); err != nil {
		logger.Errorf("Could not record upload result: %s", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintOutcome(outcome); err != nil {
		return fmt.Errorf("could not print outcome: %w", err)
	}

	if !outcome.Success {
		return fmt.Errorf("upload failed: %s", printer.OutcomeMessage(outcome))
	}

	return nil
}
