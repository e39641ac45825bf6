package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run ledger management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply ledger schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := ledgerFromFlags(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Fprintf(cmd.OutOrStdout(), "Ledger %s is up to date.\n", d.Path())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop every recorded run (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset the ledger without --yes")
		}
		d, cleanup, err := ledgerFromFlags(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ledger %s reset.\n", d.Path())
		return nil
	},
}

func init() {
	dbCmd.PersistentFlags().String("ledger", "", "Ledger database (default: settings or ~/.pysbuild/ledger.db)")
	dbResetCmd.Flags().Bool("yes", false, "Confirm the reset")

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
