package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/consult-recorder/internal/model"
	"github.com/rcliao/consult-recorder/internal/session"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recording sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Run:   runSessionsList,
	}
	list.Flags().StringP("user", "u", "", "Filter by owning user id")
	list.Flags().StringP("patient", "p", "", "Filter by patient id")
	list.Flags().StringP("status", "s", "", "Filter by status: created, recording, finalizing, completed, failed")
	list.Flags().IntP("limit", "l", 20, "Max results")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session with its chunk ledger",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsShow,
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Fail finalizing sessions whose wait for missing chunks has run out",
		Run:   runSessionsSweep,
	}

	cmd.AddCommand(list, show, sweep)
	RootCmd.AddCommand(cmd)
}

func runSessionsList(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	patient, _ := cmd.Flags().GetString("patient")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	if status != "" && !model.ValidStatuses[model.Status(status)] {
		exitErr("list", fmt.Errorf("invalid status %q", status))
	}

	s, err := openSQLite()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sessions, err := s.List(cmd.Context(), session.ListParams{
		UserID:    user,
		PatientID: patient,
		Status:    model.Status(status),
		Limit:     limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if formatFlag == "text" {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPATIENT\tSTATUS\tTRANSCRIPT\tCREATED")
		for _, m := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.PatientID, m.Status, m.TranscriptStatus, m.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
		return
	}
	printJSON(sessions)
}

func runSessionsShow(cmd *cobra.Command, args []string) {
	s, err := openSQLite()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	export, err := s.ExportAll(cmd.Context(), args[0])
	if err != nil {
		exitErr("show", err)
	}
	printJSON(export[0])
}

func runSessionsSweep(cmd *cobra.Command, args []string) {
	s, err := openSQLite()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	m := session.NewManager(s, s, nil, session.Policy{FinalizeTimeout: cfg.Finalize.Timeout})
	n, err := m.ExpireStale(cmd.Context(), time.Now().UTC())
	if err != nil {
		exitErr("sweep", err)
	}
	printJSON(map[string]int{"expired": n})
}
