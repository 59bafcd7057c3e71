package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AI2HU/fbads/internal/scheduler"
	"github.com/AI2HU/fbads/internal/services"
	"github.com/AI2HU/fbads/internal/tracker"
)

var housekeepCmd = &cobra.Command{
	Use:   "housekeep",
	Short: "Expire stale tasks and prune old history once",
	Long: `Run the console housekeeping jobs once without starting the console.

Unfinished tasks left in the store are adopted first. Uploads interrupted by
a restart are failed, running tasks with no update for tasks.stale_after are
expired, and tasks and events older than tasks.retention are deleted.

Run it while the console is stopped; a running console does this on its own
schedule.`,
	RunE: runHousekeep,
}

func runHousekeep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	fmt.Printf("%s🧹 Housekeeping%s\n", HeaderStyle, Reset)
	fmt.Printf("%s===============%s\n", DimStyle, Reset)
	fmt.Println()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Disconnect(ctx)

	tr := tracker.New(database, database, nil)
	restored, err := tr.Restore(ctx)
	if err != nil {
		return err
	}
	fmt.Println(FormatCountLabel("Unfinished tasks checked:", restored))

	statsService := services.NewStatsService(database, tr)
	sched := scheduler.New(cfg.Tasks, tr, statsService, nil)
	if err := sched.RunOnce(ctx); err != nil {
		return fmt.Errorf("housekeeping failed: %w", err)
	}

	fmt.Println(FormatCountLabel("Tasks still running:", tr.ActiveCount()))
	fmt.Printf("%s✅ Housekeeping complete%s\n", SuccessStyle, Reset)
	return nil
}
