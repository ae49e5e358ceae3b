package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <block-id>",
	Short: "Show the translation status of a block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		status, err := st.StatusSnapshot(args[0])
		if err != nil {
			return err
		}
		if status == nil {
			return fmt.Errorf("unknown block %s", args[0])
		}
		return printJSON(status)
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent synchronization runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		runs, err := st.RecentSyncRuns(runsLimit)
		if err != nil {
			return err
		}
		return printJSON(runs)
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
}
