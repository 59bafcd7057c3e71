package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AI2HU/fbads/internal/backend"
	"github.com/AI2HU/fbads/internal/config"
	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/push"
	"github.com/AI2HU/fbads/internal/services"
	"github.com/AI2HU/fbads/internal/tracker"
)

// cliSession tags tasks submitted from the terminal
const cliSession = "cli"

var (
	submitName     string
	submitCampaign string
	submitPageID   string
	submitHeadline string
	submitLink     string
	submitUTM      string
)

var submitCmd = &cobra.Command{
	Use:   "submit <folder>...",
	Short: "Upload media folders and create ads from the terminal",
	Long: `Upload one or more media folders to the campaign backend and follow the
task until it finishes.

Use --name to create a new campaign or --campaign-id to add ads to an
existing one. Ad settings default to the ad_defaults of the config file.
Press Ctrl+C to cancel the task.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitName, "name", "", "Name of the campaign to create")
	submitCmd.Flags().StringVar(&submitCampaign, "campaign-id", "", "Id of an existing campaign")
	submitCmd.Flags().StringVar(&submitPageID, "page-id", "", "Facebook page id (overrides ad defaults)")
	submitCmd.Flags().StringVar(&submitHeadline, "headline", "", "Ad headline (overrides ad defaults)")
	submitCmd.Flags().StringVar(&submitLink, "link", "", "Ad link (overrides ad defaults)")
	submitCmd.Flags().StringVar(&submitUTM, "utm", "", "UTM parameters (overrides ad defaults)")
	submitCmd.MarkFlagsMutuallyExclusive("name", "campaign-id")
	submitCmd.MarkFlagsOneRequired("name", "campaign-id")
}

// collectFiles lists the regular files under each folder. Names are relative
// to the folder's parent, so they start with the folder name the way a
// browser reports a folder upload.
func collectFiles(folders []string, limits config.UploadConfig) ([]models.UploadFile, error) {
	var files []models.UploadFile
	var total int64

	for _, folder := range folders {
		root, err := filepath.Abs(folder)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", folder, err)
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a folder", folder)
		}

		parent := filepath.Dir(root)
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return err
			}

			total += info.Size()
			if limits.MaxFiles > 0 && len(files) >= limits.MaxFiles {
				return fmt.Errorf("more than %d files selected", limits.MaxFiles)
			}
			if limits.MaxBytes > 0 && total > limits.MaxBytes {
				return fmt.Errorf("selected folders exceed %s", formatBytes(limits.MaxBytes))
			}

			files = append(files, models.UploadFile{
				Name: filepath.ToSlash(rel),
				Path: path,
				Size: info.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no files found in %v", folders)
	}
	return files, nil
}

// submitAdConfig applies the flag overrides to the configured defaults
func submitAdConfig(configs *services.ConfigService) (*models.AdConfig, error) {
	ad := configs.Defaults()
	if submitPageID != "" {
		ad.FacebookPageID = submitPageID
	}
	if submitHeadline != "" {
		ad.Headline = submitHeadline
	}
	if submitLink != "" {
		ad.Link = submitLink
	}
	if submitUTM != "" {
		ad.UTMParameters = submitUTM
	}
	return configs.Normalize(ad)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args, cfg.Uploads)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Disconnect(context.Background())

	configs := services.NewConfigService(database, cfg.AdDefaults)
	ad, err := submitAdConfig(configs)
	if err != nil {
		return err
	}

	client := backend.New(cfg.Backend)
	tr := tracker.New(database, database, client)

	listener := push.NewListener(cfg.Backend.PushURL, cfg.Backend.ReconnectDelay, func(ctx context.Context, ev models.PushEvent) {
		tr.HandleEvent(ctx, ev)
	})
	go listener.Run(ctx)

	sub := &models.Submission{
		SessionID:    cliSession,
		Mode:         models.ModeNewCampaign,
		CampaignName: submitName,
		CampaignID:   submitCampaign,
		Files:        files,
		Config:       *ad,
	}
	if submitCampaign != "" {
		sub.Mode = models.ModeExistingCampaign
	}

	fmt.Printf("%s📤 Uploading %s files (%s)%s\n", InfoStyle, FormatCount(len(files)), formatBytes(sub.TotalBytes()), Reset)

	task, err := tr.Submit(ctx, sub)
	if err != nil {
		return err
	}
	updates, unsubscribe := tr.Subscribe(task.ID)
	defer unsubscribe()

	fmt.Printf("%s %s\n", FormatLabel("Task:"), FormatValue(task.ID))
	fmt.Println(FormatDim("Press Ctrl+C to cancel"))

	final, err := followTask(ctx, tr, task.ID, updates)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := tr.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warning("Tracker shutdown: %v", shutdownErr)
	}

	if err != nil {
		return err
	}
	return reportTask(final)
}

// followTask prints updates until the task finishes. The first interrupt
// cancels the task; a second one stops waiting.
func followTask(ctx context.Context, tr *tracker.Tracker, id string, updates <-chan models.TaskUpdate) (*models.Task, error) {
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	canceling := false
	lastStep := ""
	for {
		select {
		case <-interrupts:
			if canceling {
				return nil, errors.New("interrupted while canceling")
			}
			canceling = true
			fmt.Println(FormatWarning("\n⏹️  Canceling task..."))
			go func() {
				cancelCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				if _, err := tr.Cancel(cancelCtx, id); err != nil {
					logger.Warning("Cancel of task %s: %v", id, err)
				}
			}()

		case u, ok := <-updates:
			if !ok {
				// Closed after the terminal update, or before we subscribed.
				return tr.Get(ctx, id)
			}
			if u.Event == models.EventProgress && u.Task.Status == models.TaskRunning {
				line := fmt.Sprintf("%s📈 %s%s", InfoStyle, formatProgress(u.Task.Progress), Reset)
				if u.Task.Step != "" && u.Task.Step != lastStep {
					line += " " + FormatSecondary(u.Task.Step)
					lastStep = u.Task.Step
				}
				fmt.Println(line)
			}
		}
	}
}

func reportTask(task *models.Task) error {
	switch task.Status {
	case models.TaskCompleted:
		fmt.Println(FormatSuccess("🎉 Campaign created successfully!"))
		return nil
	case models.TaskCanceled:
		fmt.Println(FormatWarning("⏹️  " + task.Message))
		return nil
	default:
		fmt.Println(FormatError("❌ " + task.Message))
		return fmt.Errorf("task %s %s", task.ID, task.Status)
	}
}
