package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/postsched/internal/app/history"
)

type HistoryCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	owner      string
	failedOnly bool
	last       int
	format     string
}

// NewHistoryCommand returns the history command.
func NewHistoryCommand(rootCmd *RootCommand, app *kingpin.Application) *HistoryCommand {
	c := &HistoryCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("history", "Show the recorded upload results.")
	c.Cmd.Flag("owner", "Only show uploads of this account.").StringVar(&c.owner)
	c.Cmd.Flag("failed", "Only show failed uploads.").BoolVar(&c.failedOnly)
	c.Cmd.Flag("last", "Only show the N most recent results.").Default("0").IntVar(&c.last)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c HistoryCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	results, closeResults, err := c.rootCmd.newResultReader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeResults(); err != nil {
			logger.Warningf("Could not close result log: %s", err)
		}
	}()

	svc, err := history.NewService(history.ServiceConfig{Results: results, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	entries, err := svc.Run(ctx, history.Request{
		Owner:      c.owner,
		FailedOnly: c.failedOnly,
		Last:       c.last,
	})
	if err != nil {
		return fmt.Errorf("could not list history: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintHistory(entries); err != nil {
		return fmt.Errorf("could not print history: %w", err)
	}

	return nil
}
