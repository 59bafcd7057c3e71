package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AI2HU/fbads/internal/api"
	"github.com/AI2HU/fbads/internal/backend"
	"github.com/AI2HU/fbads/internal/config"
	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/push"
	"github.com/AI2HU/fbads/internal/scheduler"
	"github.com/AI2HU/fbads/internal/services"
	"github.com/AI2HU/fbads/internal/session"
	"github.com/AI2HU/fbads/internal/tracker"
)

var (
	servePort  string
	serveHost  string
	corsOrigin string
	noWatch    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign console",
	Long: `Start the campaign console web server.

The console serves the campaign forms at / and a JSON API under /api/v1 for
tasks, saved ad configs and statistics. It keeps a connection to the backend
push channel open so task progress shows up while a campaign is created.

Housekeeping jobs expire tasks that stopped receiving updates and prune old
task history. Changes to the ad defaults in the config file are picked up
without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Port to run the console on (overrides config file)")
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "Host to bind the console to (overrides config file)")
	serveCmd.Flags().StringVarP(&corsOrigin, "cors-origin", "c", "", "CORS origin to allow (overrides config file, use '*' for all origins)")
	serveCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload ad defaults when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort != "" {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if corsOrigin != "" {
		cfg.Server.CORSOrigin = corsOrigin
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	address := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)

	fmt.Printf("🚀 Starting Facebook Ads Campaign Console\n")
	fmt.Printf("=========================================\n")
	fmt.Printf("Host: %s\n", cfg.Server.Host)
	fmt.Printf("Port: %s\n", cfg.Server.Port)
	fmt.Printf("Backend: %s\n", cfg.Backend.BaseURL)
	fmt.Printf("Push channel: %s\n", cfg.Backend.PushURL)
	fmt.Println()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := database.Disconnect(disconnectCtx); err != nil {
			logger.Warning("Failed to disconnect database: %v", err)
		}
	}()

	fmt.Println("✅ Database connection successful!")

	client := backend.New(cfg.Backend)
	tr := tracker.New(database, database, client)

	restored, err := tr.Restore(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		fmt.Printf("🔁 Following %d task(s) left running by a previous run\n", restored)
	}

	sessions := session.NewManager()
	configs := services.NewConfigService(database, cfg.AdDefaults)
	statsService := services.NewStatsService(database, tr)

	listener := push.NewListener(cfg.Backend.PushURL, cfg.Backend.ReconnectDelay, func(ctx context.Context, ev models.PushEvent) {
		if !tr.HandleEvent(ctx, ev) {
			logger.Debug("Ignored %s event for task %s", ev.Type, ev.TaskID)
		}
	})

	sched := scheduler.New(cfg.Tasks, tr, statsService, sessions)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	server, err := api.NewServer(api.Options{
		Config:   cfg,
		Database: database,
		Backend:  client,
		Push:     listener,
		Tracker:  tr,
		Sessions: sessions,
		Configs:  configs,
		Stats:    statsService,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	printEndpoints(address)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, address)
	})
	g.Go(func() error {
		return listener.Run(gctx)
	})
	if !noWatch {
		g.Go(func() error {
			err := config.Watch(gctx, cfgFile, func(c *config.Config) {
				configs.SetDefaults(c.AdDefaults)
			})
			if err != nil {
				// The console keeps running with the defaults it started with.
				logger.Warning("Config reload disabled: %v", err)
			}
			return nil
		})
	}

	runErr := g.Wait()

	fmt.Println("\n🛑 Shutting down campaign console...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tr.Shutdown(shutdownCtx); err != nil {
		logger.Warning("Tracker shutdown: %v", err)
	}

	return runErr
}

func printEndpoints(address string) {
	fmt.Println("🌐 Campaign console is running!")
	fmt.Printf("   Open http://%s/ in your browser\n", address)
	fmt.Println()
	fmt.Println("📚 Available Endpoints:")
	fmt.Println("  Console:")
	fmt.Println("    GET    /                          - Campaign console")
	fmt.Println()
	fmt.Println("  Config:")
	fmt.Println("    GET    /api/v1/config             - Get the session ad config")
	fmt.Println("    PUT    /api/v1/config             - Save the session ad config")
	fmt.Println()
	fmt.Println("  Tasks:")
	fmt.Println("    GET    /api/v1/tasks              - List tasks")
	fmt.Println("    POST   /api/v1/tasks              - Submit a campaign upload")
	fmt.Println("    GET    /api/v1/tasks/:id          - Get task with events")
	fmt.Println("    POST   /api/v1/tasks/:id/cancel   - Cancel a task")
	fmt.Println("    GET    /api/v1/tasks/:id/events   - Stream task updates")
	fmt.Println()
	fmt.Println("  Stats & Health:")
	fmt.Println("    GET    /api/v1/stats              - Get statistics")
	fmt.Println("    GET    /api/v1/health             - Health check")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop the console")
}
