package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rcliao/consult-recorder/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chunks <session-id>",
		Short: "List the stored chunk payloads of a session",
		Long:  "List the chunk objects the chunk store holds for a session, in index order.",
		Args:  cobra.ExactArgs(1),
		Run:   runChunks,
	}

	RootCmd.AddCommand(cmd)
}

func runChunks(cmd *cobra.Command, args []string) {
	if !model.ValidSessionID(args[0]) {
		exitErr("chunks", fmt.Errorf("invalid session id %q", args[0]))
	}
	cs, err := openChunkStore()
	if err != nil {
		exitErr("open chunk store", err)
	}

	refs, err := cs.Locate(cmd.Context(), args[0])
	if err != nil {
		exitErr("locate", err)
	}

	if formatFlag == "text" {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tSIZE\tKEY")
		for _, r := range refs {
			fmt.Fprintf(w, "%d\t%d\t%s\n", r.ChunkIndex, r.Size, r.Key)
		}
		w.Flush()
		return
	}
	printJSON(refs)
}
