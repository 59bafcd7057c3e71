package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AI2HU/fbads/internal/config"
	"github.com/AI2HU/fbads/internal/db"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize fbads configuration",
	Long:  `Interactive wizard to set up the fbads configuration: campaign backend, databases, console listener and ad defaults.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	err := initWizard()
	if errors.Is(err, errSetupCanceled) {
		fmt.Println("\nSetup cancelled.")
		return nil
	}
	return err
}

func initWizard() error {
	fmt.Println("🚀 Welcome to fbads - Facebook Ads Campaign Console Setup")
	fmt.Println("========================================================")
	fmt.Println()

	configPath := cfgFile
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	// Check if config already exists
	if config.Exists(configPath) {
		fmt.Printf("Configuration file already exists at: %s\n", configPath)
		confirmed, err := promptYesNo("Do you want to overwrite it?", false)
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Setup cancelled.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	var err error

	// Backend configuration
	fmt.Println("\n🔗 Campaign Backend")
	fmt.Println("-------------------")

	if cfg.Backend.BaseURL, err = promptInput("Backend URL:", cfg.Backend.BaseURL, validateURL("http", "https")); err != nil {
		return err
	}
	if cfg.Backend.PushURL, err = promptInput("Push channel URL:", cfg.Backend.PushURL, validateURL("ws", "wss")); err != nil {
		return err
	}

	// Database configuration
	fmt.Println("\n📊 Database Configuration")
	fmt.Println("--------------------------")

	if cfg.SQLDatabase.Provider, err = promptSelect("Task store:", []string{"sqlite", "memory"}, cfg.SQLDatabase.Provider); err != nil {
		return err
	}
	if cfg.SQLDatabase.Provider == "sqlite" {
		if cfg.SQLDatabase.URI, err = promptRequired("SQLite file:", cfg.SQLDatabase.URI); err != nil {
			return err
		}
	}

	if cfg.NoSQLDatabase.Provider, err = promptSelect("Event archive:", []string{"memory", "mongodb"}, cfg.NoSQLDatabase.Provider); err != nil {
		return err
	}
	if cfg.NoSQLDatabase.Provider == "mongodb" {
		if cfg.NoSQLDatabase.URI, err = promptInput("MongoDB URI:", cfg.NoSQLDatabase.URI, validateURL("mongodb", "mongodb+srv")); err != nil {
			return err
		}
		if cfg.NoSQLDatabase.Database, err = promptRequired("MongoDB database name:", cfg.NoSQLDatabase.Database); err != nil {
			return err
		}
	}

	// Console listener
	fmt.Println("\n🌐 Console Server")
	fmt.Println("-----------------")

	if cfg.Server.Host, err = promptRequired("Host:", cfg.Server.Host); err != nil {
		return err
	}
	if cfg.Server.Port, err = promptInput("Port:", cfg.Server.Port, validatePort); err != nil {
		return err
	}

	// Ad defaults
	fmt.Println("\n📣 Ad Defaults")
	fmt.Println("--------------")

	withDefaults, err := promptYesNo("Set default ad settings for new sessions?", false)
	if err != nil {
		return err
	}
	if withDefaults {
		if cfg.AdDefaults.FacebookPageID, err = promptInput("Facebook page id (optional):", "", validatePageID); err != nil {
			return err
		}
		if cfg.AdDefaults.Headline, err = promptInput("Headline (optional):", "", nil); err != nil {
			return err
		}
		if cfg.AdDefaults.Link, err = promptInput("Link (optional):", "", func(s string) error {
			if s == "" {
				return nil
			}
			return validateURL("http", "https")(s)
		}); err != nil {
			return err
		}
		if cfg.AdDefaults.UTMParameters, err = promptInput("UTM parameters (optional):", "", nil); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Test database connection
	fmt.Println("\n🔌 Testing database connection...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sqlConfig, nosqlConfig := dbConfigs(cfg)
	testDB, err := db.New(sqlConfig, nosqlConfig)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}

	if err := testDB.Connect(ctx); err != nil {
		fmt.Printf("❌ Failed to connect to database: %v\n", err)
		fmt.Println("\nPlease check your database configuration and try again.")
		return err
	}
	defer testDB.Disconnect(ctx)

	if err := testDB.Ping(ctx); err != nil {
		fmt.Printf("❌ Failed to ping database: %v\n", err)
		return err
	}

	fmt.Println("✅ Database connection successful!")

	// Save configuration
	fmt.Println("\n💾 Saving configuration...")
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("✅ Configuration saved to: %s\n", configPath)

	// Summary
	fmt.Println("\n📋 Configuration Summary")
	fmt.Println("========================")
	fmt.Printf("Backend: %s\n", cfg.Backend.BaseURL)
	fmt.Printf("Push channel: %s\n", cfg.Backend.PushURL)
	fmt.Printf("Task store: %s\n", cfg.SQLDatabase.Provider)
	fmt.Printf("Event archive: %s\n", cfg.NoSQLDatabase.Provider)
	fmt.Printf("Console: http://%s:%s/\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("🎉 Setup complete! You can now use fbads.")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Start the console: fbads serve")
	fmt.Println("  2. Or upload from the terminal: fbads submit --name \"My campaign\" ./media")

	return nil
}
