package cmd

import (
	"context"

	"example.com/storesync/config"
	"example.com/storesync/internal/database"
	"example.com/storesync/internal/repositories"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var resetOrderNumber string

var resetCmd = &cobra.Command{
	Use:   "reset-orders",
	Short: "Reset orders to unprinted so they regenerate on the next poll",
	Long: `Clear the printed flag, printed timestamp and document path. Without
--order-number every printed order is reset, which is useful after changing
the document layout.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetOrderNumber, "order-number", "",
		"reset only the order with this number")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	count, err := repositories.NewOrderRepository(db).
		ResetForReprint(context.Background(), resetOrderNumber)
	if err != nil {
		return err
	}

	log.Info().Int64("orders", count).Msg("Orders reset to unprinted; they will regenerate on the next poll")
	return nil
}
