package macrobox

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/macrobox/macrobox-cli/internal/checkout"
	"github.com/macrobox/macrobox-cli/internal/service"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot or restore the local cart, session and checkout history",
}

var (
	backupOut    string
	backupDir    string
	restoreFile  string
	restoreForce bool
)

func defaultBackupDir(db string) string {
	if backupDir != "" {
		return backupDir
	}
	return filepath.Join(filepath.Dir(db), "backups")
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := resolveDBPath()
		if err != nil {
			return err
		}
		out := backupOut
		if out == "" {
			out = filepath.Join(defaultBackupDir(db), fmt.Sprintf("macrobox-%s.db", time.Now().Format("20060102-150405")))
		}
		return withDB(func(sqldb *sql.DB) error {
			info, err := service.CreateBackup(sqldb, out)
			if err != nil {
				return err
			}
			sum, err := service.Summarize(cmd.Context(), sqldb)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Created backup: %s\n", info.Path)
			fmt.Fprintf(w, "Checksum\t%s\n", info.Checksum)
			printSummary(w, sum)
			if n := sum.Attempts[checkout.AttemptPending]; n > 0 {
				fmt.Fprintf(w, "Note: %d checkout attempts are still pending; their outcome is not in this snapshot.\n", n)
			}
			return nil
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := resolveDBPath()
		if err != nil {
			return err
		}
		items, err := service.ListBackups(defaultBackupDir(db))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "FILE\tSIZE\tCREATED\tCHECKSUM")
		for _, it := range items {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\t%s\n", it.Path, it.SizeBytes, it.CreatedAt.Format(time.RFC3339), it.Checksum)
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local store with a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if restoreFile == "" {
			return fmt.Errorf("--file is required")
		}
		db, err := resolveDBPath()
		if err != nil {
			return err
		}
		if err := service.RestoreBackup(restoreFile, db, restoreForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored backup from %s\n", restoreFile)
		return withDB(func(sqldb *sql.DB) error {
			sum, err := service.Summarize(cmd.Context(), sqldb)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd)

	backupCreateCmd.Flags().StringVar(&backupOut, "out", "", "Backup output file path")
	backupCreateCmd.Flags().StringVar(&backupDir, "dir", "", "Backup directory (used when --out is empty)")
	backupListCmd.Flags().StringVar(&backupDir, "dir", "", "Backup directory (default: alongside DB under backups/)")
	backupRestoreCmd.Flags().StringVar(&restoreFile, "file", "", "Backup .db file path")
	backupRestoreCmd.Flags().BoolVar(&restoreForce, "force", false, "Overwrite existing DB if present")
}
