package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
)

type PlanCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	src    planSource
	format string
}

// NewPlanCommand returns the plan command.
func NewPlanCommand(rootCmd *RootCommand, app *kingpin.Application) *PlanCommand {
	c := &PlanCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("plan", "Validate a plan and show when each upload would fire.")
	c.src.register(c.Cmd)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c PlanCommand) Name() string { return c.Cmd.FullCommand() }

func (c PlanCommand) Run(ctx context.Context) error {
	descs, _, err := c.src.load(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintPlan(descs, time.Now()); err != nil {
		return fmt.Errorf("could not print plan: %w", err)
	}

	return nil
}
