package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export sessions with their chunk ledgers as JSON",
		Long:  "Export every session together with its chunk ledger. Restrict to one session with --session.",
		Run:   runExport,
	}

	cmd.Flags().StringP("session", "s", "", "Export a single session")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("session")

	s, err := openSQLite()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	all, err := s.ExportAll(cmd.Context(), id)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(all)
}
