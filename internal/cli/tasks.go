package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AI2HU/fbads/internal/db"
	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/services"
	"github.com/AI2HU/fbads/internal/shared"
	"github.com/AI2HU/fbads/internal/tracker"
)

var (
	taskStatus  string
	taskSession string
	taskLimit   int
	consoleURL  string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and cancel campaign tasks",
	Long:  `List tracked campaign tasks, show the timeline of a task and cancel a running task.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long:  `List tracked tasks, newest first.`,
	RunE:  runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task and its events",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a running task",
	Long: `Cancel a running task through the campaign console.

Tasks are owned by the running console, so the request goes to its API. Use
--console when the console listens somewhere other than the configured
server address.`,
	Args: cobra.ExactArgs(1),
	RunE: runTasksCancel,
}

func init() {
	tasksListCmd.Flags().StringVarP(&taskStatus, "status", "s", "", "Filter by status, comma separated (uploading, running, completed, failed, canceled)")
	tasksListCmd.Flags().StringVar(&taskSession, "session", "", "Filter by console session id")
	tasksListCmd.Flags().IntVarP(&taskLimit, "limit", "n", 20, "Maximum number of tasks to list")

	tasksCancelCmd.Flags().StringVar(&consoleURL, "console", "", "Console base URL (default is the configured server address)")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
}

// storeSource reads tasks straight from the database
type storeSource struct {
	db db.Database
}

func (s storeSource) Get(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.db.GetTask(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", tracker.ErrTaskNotFound, id)
	}
	return task, err
}

func (s storeSource) List(ctx context.Context, filter shared.TaskFilter) ([]*models.Task, error) {
	return s.db.ListTasks(ctx, filter)
}

func (s storeSource) Events(ctx context.Context, id string) ([]*models.TaskEvent, error) {
	return s.db.ListEvents(ctx, id)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	statuses, err := parseStatuses(taskStatus)
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Disconnect(ctx)

	tasks, err := services.NewTaskService(storeSource{db: database}).List(ctx, shared.TaskFilter{
		SessionID: taskSession,
		Statuses:  statuses,
		Limit:     taskLimit,
	})
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println(FormatWarning("No tasks found."))
		return nil
	}

	printTaskTable(os.Stdout, tasks)
	return nil
}

func printTaskTable(out io.Writer, tasks []*models.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tCAMPAIGN\tSTATUS\tPROGRESS\tFILES\tSIZE\tCREATED")
	for _, t := range tasks {
		campaign := t.CampaignName
		if t.Mode == models.ModeExistingCampaign {
			campaign = t.CampaignID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID,
			t.Mode,
			truncate(campaign, 30),
			t.Status,
			formatProgress(t.Progress),
			t.FileCount,
			formatBytes(t.TotalBytes),
			t.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Disconnect(ctx)

	detail, err := services.NewTaskService(storeSource{db: database}).Get(ctx, args[0])
	if err != nil {
		return err
	}

	printTaskDetail(os.Stdout, detail)
	return nil
}

func printTaskDetail(out io.Writer, d *services.TaskDetail) {
	fmt.Fprintln(out, FormatHeader("📋 Task "+d.ID))
	fmt.Fprintln(out, FormatHeader("====================="))
	fmt.Fprintln(out, FormatLabel("Status:")+" "+formatStatus(d.Status))
	fmt.Fprintln(out, FormatLabelValue("Mode:", string(d.Mode)))
	if d.CampaignName != "" {
		fmt.Fprintln(out, FormatLabelValue("Campaign name:", d.CampaignName))
	}
	if d.CampaignID != "" {
		fmt.Fprintln(out, FormatLabelValue("Campaign id:", d.CampaignID))
	}
	fmt.Fprintln(out, FormatLabelValue("Progress:", formatProgress(d.Progress)))
	if d.Step != "" {
		fmt.Fprintln(out, FormatLabelValue("Step:", d.Step))
	}
	if d.Message != "" {
		fmt.Fprintln(out, FormatLabelValue("Message:", d.Message))
	}
	fmt.Fprintln(out, FormatLabelValue("Files:", fmt.Sprintf("%d (%s)", d.FileCount, formatBytes(d.TotalBytes))))
	fmt.Fprintln(out, FormatLabelValue("Session:", d.SessionID))
	fmt.Fprintln(out, FormatLabelValue("Created:", d.CreatedAt.Local().Format(time.RFC3339)))
	if d.FinishedAt != nil {
		fmt.Fprintln(out, FormatLabelValue("Duration:", formatDuration(d.FinishedAt.Sub(d.CreatedAt))))
	}

	fmt.Fprintln(out)
	if len(d.Events) == 0 {
		fmt.Fprintln(out, FormatDim("No events recorded."))
		return
	}

	fmt.Fprintln(out, FormatTitle("Events"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tPROGRESS\tDETAIL")
	for _, ev := range d.Events {
		detail := ev.Step
		if ev.Message != "" {
			detail = ev.Message
		}
		progress := ""
		if ev.Type == models.EventProgress {
			progress = formatProgress(ev.Progress)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.ReceivedAt.Local().Format("15:04:05"),
			ev.Type,
			progress,
			truncate(detail, 60),
		)
	}
	w.Flush()
}

// cancelReply is the JSON envelope of the console API
type cancelReply struct {
	Success bool         `json:"success"`
	Data    *models.Task `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Message string       `json:"message,omitempty"`
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	base := consoleURL
	if base == "" {
		base = "http://" + net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply, err := requestCancel(ctx, http.DefaultClient, base, args[0])
	if err != nil {
		return err
	}

	if !reply.Success {
		fmt.Println(FormatWarning("⚠️  " + reply.Message))
		return fmt.Errorf("backend did not confirm the cancellation: %s", reply.Error)
	}

	fmt.Println(FormatSuccess("✅ " + reply.Message))
	return nil
}

// requestCancel posts a cancel request to the console API. A reply with
// Success false means the task was canceled locally only.
func requestCancel(ctx context.Context, client *http.Client, base, taskID string) (*cancelReply, error) {
	endpoint, err := url.JoinPath(base, "api", "v1", "tasks", taskID, "cancel")
	if err != nil {
		return nil, fmt.Errorf("invalid console URL %q: %w", base, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("console not reachable at %s: %w", base, err)
	}
	defer resp.Body.Close()

	var reply cancelReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("unexpected reply from console (status %d): %w", resp.StatusCode, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadGateway:
		return &reply, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", tracker.ErrTaskNotFound, taskID)
	default:
		return nil, fmt.Errorf("cancel failed (status %d): %s", resp.StatusCode, reply.Error)
	}
}
