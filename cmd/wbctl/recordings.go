package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/recording"
	"whiteboard-backend/internal/service"
)

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "Inspect and export whiteboard recordings",
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		db := openDB()
		defer database.Close(db)

		whiteboardID, _ := cmd.Flags().GetString("whiteboard")
		status, _ := cmd.Flags().GetString("status")
		text, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")

		store := service.NewRecordingService(db)
		sessions, total, err := store.SearchSessions(cmd.Context(), recording.Query{
			WhiteboardID: whiteboardID,
			Status:       recording.Status(status),
			Text:         text,
			Limit:        limit,
		})
		if err != nil {
			fmt.Printf("Error listing recordings: %v\n", err)
			os.Exit(1)
		}

		if len(sessions) == 0 {
			fmt.Println("No recordings found.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWHITEBOARD\tSTATUS\tSTARTED\tFRAMES\tNOTES\tTITLE")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				s.ID, s.WhiteboardID, s.Status, s.StartedAt.Format(time.RFC3339),
				s.FlushedFrames, s.AnnotationCount, s.Title)
		}
		w.Flush()
		fmt.Printf("\n%d of %d recordings\n", len(sessions), total)
	},
}

var recordingsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write a recording's timeline to a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sessionID := args[0]
		formatFlag, _ := cmd.Flags().GetString("format")
		compressionFlag, _ := cmd.Flags().GetString("compression")
		out, _ := cmd.Flags().GetString("out")

		format, err := recording.ParseFormat(formatFlag)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		compression, err := recording.ParseCompression(compressionFlag)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		db := openDB()
		defer database.Close(db)

		store := service.NewRecordingService(db)
		mgr := recording.NewManager(recording.Config{}, recording.Stores{
			Frames:    store,
			Sessions:  store,
			Jobs:      store,
			Artifacts: recording.NewMemoryStore(),
		}, nil, nil)
		defer mgr.Shutdown(context.Background())

		data, err := mgr.Export(cmd.Context(), sessionID, format, compression)
		if err != nil {
			fmt.Printf("Error exporting '%s': %v\n", sessionID, err)
			os.Exit(1)
		}

		if out == "" {
			out = "recording-" + sessionID + recording.Extension(format, compression)
		}
		if out == "-" {
			os.Stdout.Write(data)
			return
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			fmt.Printf("Error writing %s: %v\n", out, err)
			os.Exit(1)
		}
		fmt.Printf("Exported %s (%d bytes) to %s\n", sessionID, len(data), out)
	},
}

func init() {
	recordingsListCmd.Flags().String("whiteboard", "", "Only recordings of this whiteboard")
	recordingsListCmd.Flags().String("status", "", "Filter by status (ACTIVE, STOPPED, ERRORED)")
	recordingsListCmd.Flags().StringP("query", "q", "", "Match title or annotation text")
	recordingsListCmd.Flags().Int("limit", 50, "Maximum number of rows")

	recordingsExportCmd.Flags().StringP("format", "f", "ndjson", "Export format (json, ndjson, cbor, msgpack)")
	recordingsExportCmd.Flags().StringP("compression", "c", "none", "Compression (none, zstd, lz4)")
	recordingsExportCmd.Flags().StringP("out", "o", "", "Output file, - for stdout")

	recordingsCmd.AddCommand(recordingsListCmd, recordingsExportCmd)
	rootCmd.AddCommand(recordingsCmd)
}
