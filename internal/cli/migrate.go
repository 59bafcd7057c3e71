package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AI2HU/fbads/internal/db/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long:  `Manage the SQLite schema that stores tasks and saved ad configs. Migrations are embedded in the binary.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	Long:  `Apply all pending database migrations.`,
	RunE:  runMigrateUp,
}

var migrateVersionCmd = &cobra.Command{
	Use:     "version",
	Aliases: []string{"status"},
	Short:   "Show current migration version",
	Long:    `Show the current database migration version.`,
	RunE:    runMigrateVersion,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

// openSQLite opens the configured SQLite file without migrating it
func openSQLite() (*sql.DB, string, error) {
	if cfg.SQLDatabase.Provider != "sqlite" {
		return nil, "", fmt.Errorf("migrations only apply to the sqlite provider, configured provider is %q", cfg.SQLDatabase.Provider)
	}

	dbPath, err := sqlite.ResolvePath(cfg.SQLDatabase.URI)
	if err != nil {
		return nil, "", err
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return conn, dbPath, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	fmt.Println("🔄 Running database migrations...")

	conn, dbPath, err := openSQLite()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := sqlite.RunMigrations(conn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, err := sqlite.MigrationVersion(conn)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", FormatLabel("Database:"), FormatValue(dbPath))
	fmt.Printf("%s %s\n", FormatLabel("Version:"), FormatValue(fmt.Sprintf("%d", version)))
	fmt.Println(FormatSuccess("✅ Migrations completed successfully!"))
	return nil
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	fmt.Println(FormatHeader("📊 Migration Status"))
	fmt.Println(FormatHeader("==================="))

	conn, dbPath, err := openSQLite()
	if err != nil {
		return err
	}
	defer conn.Close()

	version, dirty, err := sqlite.MigrationVersion(conn)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", FormatLabel("Database:"), FormatValue(dbPath))
	if version == 0 {
		fmt.Println(FormatWarning("No migrations applied. Run 'fbads migrate up'."))
		return nil
	}

	fmt.Printf("%s %s\n", FormatLabel("Current migration version:"), FormatValue(fmt.Sprintf("%d", version)))
	if dirty {
		fmt.Println(FormatError("The last migration failed and left the schema dirty"))
	}
	return nil
}
