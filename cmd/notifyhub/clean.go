package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cleanDays int

var cleanJobsCmd = &cobra.Command{
	Use:   "clean-jobs",
	Short: "Remove finished delivery jobs older than --days",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		removed, err := a.queue.CleanOldJobs(ctx, cleanDays)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d jobs older than %d days\n", removed, cleanDays)
		return nil
	},
}

func init() {
	cleanJobsCmd.Flags().IntVar(&cleanDays, "days", 7, "age threshold in days")
}
