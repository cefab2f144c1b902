package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Precompute cached recommendations for every user once",
	RunE:  runWarm,
}

func init() {
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	if a.redis == nil {
		logger.Warn("warming an in-memory cache; results are discarded when this command exits")
	}

	res, err := a.warmer.Run(ctx)
	if err != nil {
		return fmt.Errorf("running warm-up: %w", err)
	}
	if res.Skipped {
		fmt.Println("another instance holds the warm-up lock, nothing to do")
		return nil
	}
	fmt.Printf("warmed %d users (%d failed)\n", res.Users, res.Failed)
	return nil
}
