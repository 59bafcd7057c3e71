package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AI2HU/fbads/internal/config"
	"github.com/AI2HU/fbads/internal/db"
	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fbads",
	Short: "Facebook Ads campaign console",
	Long: `fbads is a console for creating Facebook Ads campaigns through the
campaign backend.

It serves the campaign forms in the browser, uploads the chosen media folders
to the backend, follows each task through the backend push channel and lets
you cancel a task while it runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip init for the init command itself
		if cmd.Name() == "init" {
			initLogger(config.DefaultConfig())
			return nil
		}

		if cfgFile == "" {
			cfgFile = config.GetConfigPath()
		}

		if !config.Exists(cfgFile) {
			return fmt.Errorf("configuration file not found at %s. Run 'fbads init' to create one", cfgFile)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", cfgFile, err)
		}

		initLogger(cfg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fbads/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Add subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(housekeepCmd)
}

func initLogger(c *config.Config) {
	level := logger.ParseLogLevel(c.Logging.Level)
	if verbose {
		level = logger.DEBUG
	}
	logger.Init(level, os.Stderr)
}

// dbConfigs converts the configured database sections
func dbConfigs(c *config.Config) (sqlConfig, nosqlConfig *models.Config) {
	sqlConfig = &models.Config{
		Provider: c.SQLDatabase.Provider,
		URI:      c.SQLDatabase.URI,
		Database: c.SQLDatabase.Database,
		Options:  c.SQLDatabase.Options,
	}

	nosqlConfig = &models.Config{
		Provider: c.NoSQLDatabase.Provider,
		URI:      c.NoSQLDatabase.URI,
		Database: c.NoSQLDatabase.Database,
		Options:  c.NoSQLDatabase.Options,
	}
	return sqlConfig, nosqlConfig
}

// openDatabase connects the configured stores. The caller disconnects.
func openDatabase(ctx context.Context, c *config.Config) (*db.Hybrid, error) {
	sqlConfig, nosqlConfig := dbConfigs(c)

	database, err := db.New(sqlConfig, nosqlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create hybrid database: %w", err)
	}

	if err := database.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.Ping(ctx); err != nil {
		database.Disconnect(ctx)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return database, nil
}
