package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the cadence database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Open the configured database (or --path) and apply any pending
migrations. Every other command migrates on open as well; this command
exists for deploy scripts that want migrations as a separate step.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		database, err := openDatabase(path)
		if err != nil {
			return err
		}
		defer database.Close()

		var applied int
		if err := database.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
			return err
		}
		pterm.Success.Printfln("Database is up to date (%d migrations applied)", applied)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List schema migrations and when they were applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		path, err := resolveDatabasePath(path)
		if err != nil {
			return err
		}
		database, err := db.Open(path, logger.Logger)
		if err != nil {
			return err
		}
		defer database.Close()

		migrations, err := db.Status(database)
		if err != nil {
			return err
		}
		data := pterm.TableData{{"Version", "File", "Applied at"}}
		for _, m := range migrations {
			at := "pending"
			if m.Applied() {
				at = m.AppliedAt
			}
			data = append(data, []string{m.Version, m.File, at})
		}
		pterm.Info.Printfln("%s %s", logger.SymbolDB, path)
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	dbMigrateCmd.Flags().String("path", "", "Database path (default: database.path)")
	dbStatusCmd.Flags().String("path", "", "Database path (default: database.path)")
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}
