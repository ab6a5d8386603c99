package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/jackpotd/internal/control"
	"github.com/vietddude/jackpotd/internal/core/domain"
)

var resetPoolCmd = &cobra.Command{
	Use:   "reset-pool [group]",
	Short: "Drain a jackpot pool back to its seed amount",
	Args:  cobra.ExactArgs(1),
	Run:   runResetPool,
}

func init() {
	rootCmd.AddCommand(resetPoolCmd)
}

func runResetPool(cmd *cobra.Command, args []string) {
	group := domain.Group(args[0])
	if !group.Valid() {
		fmt.Printf("Unknown jackpot group %q (want minor, major, or mega)\n", args[0])
		os.Exit(1)
	}

	cfg := loadConfig()

	app, err := control.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	opCtx := domain.NewOperationContext("cli:reset-pool")
	pool, err := app.Manager().ResetPool(ctx, opCtx, group)
	if err != nil {
		slog.Error("Failed to reset pool", "group", group, "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	_ = app.Stop(shutdownCtx)

	fmt.Printf("Pool %s reset to %d\n", pool.Group, pool.CurrentAmount)
}
