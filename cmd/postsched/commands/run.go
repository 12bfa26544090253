package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/postsched/internal/app/plan"
	"github.com/slok/postsched/internal/app/schedule"
	"github.com/slok/postsched/internal/conventions"
	"github.com/slok/postsched/internal/engine"
	"github.com/slok/postsched/internal/log"
	"github.com/slok/postsched/internal/model"
	"github.com/slok/postsched/internal/notify"
	notifynats "github.com/slok/postsched/internal/notify/nats"
	storageio "github.com/slok/postsched/internal/storage/io"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	src             planSource
	maxConcurrent   int
	idlePoll        time.Duration
	shutdownTimeout time.Duration
	format          string
	deleteUploaded  bool
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Schedule the uploads of a plan and run them until all have finished.")
	c.src.register(c.Cmd)
	c.Cmd.Flag("max-concurrent", "Maximum number of uploads in flight.").Default("4").IntVar(&c.maxConcurrent)
	c.Cmd.Flag("idle-poll", "Maximum wait between queue checks.").Default("1s").DurationVar(&c.idlePoll)
	c.Cmd.Flag("shutdown-timeout", "Time to wait for in-flight uploads once interrupted.").Default("11m").DurationVar(&c.shutdownTimeout)
	c.Cmd.Flag("format", "Summary output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)
	c.Cmd.Flag("delete-uploaded", "With --queue-dir, remove each task file and its local media once uploaded.").BoolVar(&c.deleteUploaded)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	if c.deleteUploaded && c.src.queueDir == "" {
		return fmt.Errorf("--delete-uploaded requires --queue-dir")
	}

	descs, queued, err := c.src.load(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	var cleaner *queueCleaner
	if c.deleteUploaded {
		cleaner = newQueueCleaner(queued, logger)
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

	broker, err := notify.NewBroker(notify.BrokerConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create status broker: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Uploader:      uploader,
		Results:       results,
		Broker:        broker,
		MaxConcurrent: c.maxConcurrent,
		IdlePoll:      c.idlePoll,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}

	if c.rootCmd.NATSURL != "" {
		stop, err := c.startNATSBridge(ctx, broker)
		if err != nil {
			return err
		}
		defer stop()
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("could not start engine: %w", err)
	}

	svc, err := schedule.NewService(schedule.ServiceConfig{Scheduler: eng, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	req := schedule.Request{Tasks: descs}
	if cleaner != nil {
		req.OnSucceeded = cleaner.remove
	}
	resp, runErr := svc.Run(ctx, req)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Engine shutdown: %s", err)
	}

	if runErr != nil {
		return fmt.Errorf("could not run plan: %w", runErr)
	}

	// In-flight uploads may have finished during shutdown.
	tasks, err := eng.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("could not get tasks: %w", err)
	}
	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintTasks(tasks); err != nil {
		return fmt.Errorf("could not print tasks: %w", err)
	}

	if cleaner != nil {
		cleaner.sweep(resp.Tasks, tasks)
	}

	if resp.Interrupted {
		logger.Warningf("Interrupted, pending uploads were not fired")
	}
	failed := 0
	for _, t := range tasks {
		if t.LastError != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(tasks))
	}

	return nil
}

func (c RunCommand) startNATSBridge(ctx context.Context, broker *notify.Broker) (func(), error) {
	nc, err := notifynats.Connect(c.rootCmd.NATSURL, conventions.NATSClientName)
	if err != nil {
		return nil, err
	}

	bridge, err := notifynats.NewBridge(notifynats.BridgeConfig{Publisher: nc, Logger: c.rootCmd.Logger})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("could not create status bridge: %w", err)
	}

	events, unsubscribe := broker.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(context.WithoutCancel(ctx), events)
	}()

	return func() {
		unsubscribe()
		<-done
		if err := nc.Drain(); err != nil {
			c.rootCmd.Logger.Warningf("Could not drain NATS connection: %s", err)
		}
	}, nil
}

// planSource are the flags that select where the uploads come from.
type planSource struct {
	planPath  string
	dir       string
	queueDir  string
	owner     string
	platforms []string
	start     string
	every     time.Duration
}

func (p *planSource) register(cmd *kingpin.CmdClause) {
	cmd.Flag("plan", "YAML plan file with the uploads.").StringVar(&p.planPath)
	cmd.Flag("dir", "Schedule every video of this folder.").StringVar(&p.dir)
	cmd.Flag("queue-dir", "Schedule the *.task.json files of this folder.").StringVar(&p.queueDir)
	cmd.Flag("owner", "Account the uploads are done as, overrides the plan owner.").StringVar(&p.owner)
	cmd.Flag("platform", "Target platform, overrides the plan platforms (repeatable).").StringsVar(&p.platforms)
	cmd.Flag("start", "Scheduled time of the first folder video (RFC3339 or 'YYYY-MM-DD HH:MM'), defaults to now.").StringVar(&p.start)
	cmd.Flag("every", "Interval between folder videos.").Default("1h").DurationVar(&p.every)
}

// load returns the descriptors of the selected source. The queued tasks are
// only returned for queue directories, matching the descriptors order.
func (p *planSource) load(ctx context.Context, root *RootCommand) ([]model.TaskDescriptor, []storageio.QueuedTask, error) {
	var fsRoot string
	req := plan.Request{Owner: p.owner, Platforms: p.platforms}

	selected := 0
	for _, s := range []string{p.planPath, p.dir, p.queueDir} {
		if s != "" {
			selected++
		}
	}
	if selected > 1 {
		return nil, nil, fmt.Errorf("--plan, --dir and --queue-dir are mutually exclusive")
	}

	switch {
	case p.planPath != "":
		abs, err := filepath.Abs(p.planPath)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid plan path: %w", err)
		}
		fsRoot = filepath.Dir(abs)
		req.PlanPath = filepath.Base(abs)
	case p.dir != "":
		abs, err := filepath.Abs(p.dir)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid folder: %w", err)
		}
		start := time.Now()
		if p.start != "" {
			start, err = storageio.ParseTime(p.start, time.Local)
			if err != nil {
				return nil, nil, err
			}
		}
		fsRoot = abs
		req.Folder = &storageio.FolderPlan{
			Dir:       ".",
			Owner:     p.owner,
			Platforms: p.platforms,
			Start:     start,
			Every:     p.every,
		}
	case p.queueDir != "":
		abs, err := filepath.Abs(p.queueDir)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid queue directory: %w", err)
		}
		fsRoot = abs
		req.QueueDir = "."
	default:
		return nil, nil, fmt.Errorf("--plan, --dir or --queue-dir is required")
	}

	repo, err := storageio.NewPlanYAMLRepository(storageio.PlanYAMLRepositoryConfig{
		FS:   os.DirFS(fsRoot),
		Root: fsRoot,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create plan repository: %w", err)
	}

	svc, err := plan.NewService(plan.ServiceConfig{Loader: repo, Logger: root.Logger})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create plan service: %w", err)
	}

	if req.QueueDir == "" {
		descs, err := svc.Run(ctx, req)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid plan: %w", err)
		}
		return descs, nil, nil
	}

	queued, err := svc.Queued(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid queue directory: %w", err)
	}
	descs := make([]model.TaskDescriptor, 0, len(queued))
	for _, q := range queued {
		descs = append(descs, q.Descriptor)
	}

	return descs, queued, nil
}

// queueCleaner removes the files of the queue directory tasks that were
// uploaded. Failed tasks keep their files.
type queueCleaner struct {
	queued  []storageio.QueuedTask
	removed map[int]bool
	logger  log.Logger
}

func newQueueCleaner(queued []storageio.QueuedTask, logger log.Logger) *queueCleaner {
	return &queueCleaner{
		queued:  queued,
		removed: make(map[int]bool, len(queued)),
		logger:  logger.WithValues(log.Kv{"svc": "commands.QueueCleaner"}),
	}
}

func (c *queueCleaner) remove(i int, id string) {
	if i < 0 || i >= len(c.queued) || c.removed[i] {
		return
	}
	c.removed[i] = true
	q := c.queued[i]

	// Media shared with a task file still queued are kept.
	keepMedia := false
	for j, other := range c.queued {
		if j != i && !c.removed[j] && other.Descriptor.MediaRef == q.Descriptor.MediaRef {
			keepMedia = true
			break
		}
	}

	logger := c.logger.WithValues(log.Kv{"task-id": id})
	if err := storageio.RemoveQueuedTask(q, keepMedia); err != nil {
		logger.Warningf("Could not remove uploaded task files: %s", err)
		return
	}
	logger.Infof("Removed uploaded task file %s", q.TaskFile)
}

// sweep removes the tasks that succeeded after the schedule stopped waiting.
// submitted is in queue order, final has the latest task states.
func (c *queueCleaner) sweep(submitted, final []model.Task) {
	status := make(map[string]model.TaskStatus, len(final))
	for _, t := range final {
		status[t.ID] = t.Status
	}

	for i, t := range submitted {
		if status[t.ID] == model.TaskStatusSucceeded {
			c.remove(i, t.ID)
		}
	}
}
