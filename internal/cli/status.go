package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/jackpotd/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of all jackpot pools",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	pools, err := postgres.NewPoolStore(db).GetAllPools(ctx)
	if err != nil {
		slog.Error("Failed to query pools", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "GROUP\tBALANCE\tSEED\tRATE\tCONTRIBUTED\tWON\tVERSION")

	for _, p := range pools {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%g\t%d\t%d\t%d\n",
			p.Group, p.CurrentAmount, p.SeedAmount, p.ContributionRate,
			p.TotalContributions, p.TotalWins, p.Version)
	}
	_ = w.Flush()
}
