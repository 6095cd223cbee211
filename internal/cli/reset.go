package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var confirmReset bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every cursor, dead letter and projected row",
	Run:   runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&confirmReset, "yes", false, "confirm the reset")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) {
	if !confirmReset {
		fmt.Println("Refusing to reset without --yes")
		os.Exit(1)
	}
	cfg := loadConfig()

	ctx := context.Background()
	db := openDB(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	if err := db.Reset(ctx); err != nil {
		slog.Error("Failed to reset state", "error", err)
		os.Exit(1)
	}

	fmt.Println("Successfully reset indexer state")
}
