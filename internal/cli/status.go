package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/suindexer/internal/core/config"
	"github.com/vietddude/suindexer/internal/infra/storage/sqldb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored cursor of every event type and the dead-letter backlog",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// openDB connects to the configured SQL store. Commands that inspect or
// rewrite state have nothing to work on with the memory driver.
func openDB(ctx context.Context, cfg *config.AppConfig) *sqldb.DB {
	if cfg.Database.Driver == config.DriverMemory {
		slog.Error("The memory driver keeps no state between runs")
		os.Exit(1)
	}

	db, err := sqldb.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	return db
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db := openDB(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	cursors, err := db.Cursors().List(ctx)
	if err != nil {
		slog.Error("Failed to list cursors", "error", err)
		os.Exit(1)
	}
	unresolved, err := db.DeadLetters().CountUnresolved(ctx)
	if err != nil {
		slog.Error("Failed to count dead letters", "error", err)
		os.Exit(1)
	}
	exhausted, err := db.DeadLetters().CountExhausted(ctx, cfg.Indexer.MaxDeadLetterRetries)
	if err != nil {
		slog.Error("Failed to count dead letters", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "EVENT TYPE\tTX DIGEST\tEVENT SEQ\tUPDATED")
	for _, c := range cursors {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.EventType, c.TxDigest, c.EventSeq, c.LastUpdated.Format(time.RFC3339))
	}
	_ = w.Flush()

	fmt.Printf("\nDead letters: %d unresolved, %d exhausted\n", unresolved, exhausted)
}
