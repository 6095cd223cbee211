package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/suindexer/internal/core/domain"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [event_type]",
	Short: "Delete the cursor of an event type so it is indexed again from the start",
	Args:  cobra.ExactArgs(1),
	Run:   runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	eventType := domain.EventType(args[0])
	cfg := loadConfig()

	ctx := context.Background()
	db := openDB(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	if err := db.Cursors().Delete(ctx, eventType); err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset cursor for %s\n", eventType)
}
