package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/services"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "View task statistics",
	Long:  `View totals of tracked tasks by status and campaign mode, archived events by type and the most recent failures.`,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "l", 10, "Number of recent failures to show")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Disconnect(ctx)

	statsService := services.NewStatsService(database, nil)

	overall, err := statsService.GetOverallStats(ctx)
	if err != nil {
		return err
	}

	if overall.TotalTasks == 0 {
		fmt.Printf("%sNo tasks recorded yet. Submit a campaign first!%s\n", WarningStyle, Reset)
		return nil
	}

	modes, err := statsService.GetModeStats(ctx)
	if err != nil {
		return err
	}

	failures, err := statsService.GetRecentFailures(ctx, statsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printOverallStats(out, overall)
	printModeStats(out, modes)
	printFailures(out, failures)
	return nil
}

func printOverallStats(out io.Writer, stats *models.TaskStats) {
	fmt.Fprintf(out, "%s📊 Task Statistics%s\n", HeaderStyle, Reset)
	fmt.Fprintf(out, "%s==================%s\n", DimStyle, Reset)
	fmt.Fprintln(out)

	fmt.Fprintln(out, FormatCountLabel("Total tasks:", stats.TotalTasks))
	fmt.Fprintln(out, FormatCountLabel("Unfinished:", stats.ActiveTasks))
	fmt.Fprintln(out, FormatLabelValue("Success rate:", fmt.Sprintf("%.1f%%", stats.SuccessRate)))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tTASKS")
	for _, status := range []models.TaskStatus{
		models.TaskUploading, models.TaskRunning, models.TaskCompleted, models.TaskFailed, models.TaskCanceled,
	} {
		fmt.Fprintf(w, "%s\t%s\n", status, formatCount(stats.ByStatus[status]))
	}
	w.Flush()
	fmt.Fprintln(out)

	if len(stats.ByEventType) == 0 {
		return
	}

	types := make([]string, 0, len(stats.ByEventType))
	for t := range stats.ByEventType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tCOUNT")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%s\n", t, formatCount(stats.ByEventType[models.EventType(t)]))
	}
	w.Flush()
	fmt.Fprintln(out)
}

func printModeStats(out io.Writer, modes map[models.CampaignMode]*services.ModeStats) {
	if len(modes) == 0 {
		return
	}

	fmt.Fprintf(out, "%sBy Campaign Mode:%s\n", SuccessStyle, Reset)
	fmt.Fprintf(out, "%s─────────────────%s\n", DimStyle, Reset)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tTASKS\tCOMPLETED\tFILES\tSIZE\tAVG DURATION")
	for _, mode := range []models.CampaignMode{models.ModeNewCampaign, models.ModeExistingCampaign} {
		s, ok := modes[mode]
		if !ok {
			continue
		}
		avg := "-"
		if s.AvgDuration > 0 {
			avg = formatDuration(s.AvgDuration)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			mode,
			formatCount(s.TotalTasks),
			formatCount(s.CompletedTasks),
			formatCount(s.TotalFiles),
			formatBytes(s.TotalBytes),
			avg,
		)
	}
	w.Flush()
	fmt.Fprintln(out)
}

func printFailures(out io.Writer, tasks []*models.Task) {
	if len(tasks) == 0 {
		return
	}

	fmt.Fprintf(out, "%sRecent Failures:%s\n", ErrorStyle, Reset)
	fmt.Fprintf(out, "%s────────────────%s\n", DimStyle, Reset)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tWHEN\tMESSAGE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.UpdatedAt.Local().Format("2006-01-02 15:04"),
			truncate(t.Message, 60),
		)
	}
	w.Flush()
}
