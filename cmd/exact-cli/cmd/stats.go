package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/db"
)

var recentLimit int

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display run statistics",
	Long: `Display statistics from the local run history.

Shows:
- Number of processed and failed items
- Number of records returned
- Number of reconciliation uploads and rejections
- The most recent item outcomes

Example:
  exact-cli stats --recent 20`,
	Run: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&recentLimit, "recent", 10, "number of recent items to show")
}

func runStats(cmd *cobra.Command, args []string) {
	slog.Info("Loading configuration")
	_, paths := loadSettings()

	// Open database connection
	dbPath := paths.GetDatabasePath()
	slog.Debug("Opening database", "path", dbPath)

	if !paths.FileExists(dbPath) {
		fmt.Println("No run history yet.")
		return
	}

	conn, err := db.Open(dbPath, db.ReadOnly())
	exitOnError(err, "failed to open database")
	defer conn.Close()

	history := db.NewHistory(conn)
	ctx := context.Background()

	stats, err := history.GetStats(ctx)
	exitOnError(err, "failed to get statistics")

	lastDivision, err := history.GetMetadata(ctx, lastDivisionKey)
	exitOnError(err, "failed to get last division")

	// Display statistics
	fmt.Println("\n=== Run Statistics ===")
	fmt.Printf("Items processed:       %d\n", stats.TotalOperations)
	fmt.Printf("Items failed:          %d\n", stats.FailedOperations)
	fmt.Printf("Records returned:      %d\n", stats.RecordsReturned)
	fmt.Printf("Reconciliation uploads: %d (%d rejected)\n", stats.TotalUploads, stats.RejectedUploads)

	if stats.LastRun.Valid {
		fmt.Printf("Last run:              %s\n", stats.LastRun.String)
	} else {
		fmt.Printf("Last run:              (never)\n")
	}
	if lastDivision != "" {
		fmt.Printf("Last division:         %s\n", lastDivision)
	}

	if recentLimit > 0 {
		recent, err := history.RecentOperations(ctx, recentLimit)
		exitOnError(err, "failed to get recent operations")

		if len(recent) > 0 {
			fmt.Println("\n=== Recent Items ===")
			for _, rec := range recent {
				line := fmt.Sprintf("%s  %-18s %s/%s #%d  %s",
					rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Operation, rec.Service, rec.Resource, rec.ItemIndex, rec.Status)
				if rec.ErrorMessage.Valid {
					line += fmt.Sprintf(" (%s: %s)", rec.ErrorKind.String, rec.ErrorMessage.String)
				} else {
					line += fmt.Sprintf(" (%d records)", rec.RecordCount)
				}
				fmt.Println(line)
			}
		}
	}

	fmt.Println()

	slog.Info("Statistics displayed successfully")
}
