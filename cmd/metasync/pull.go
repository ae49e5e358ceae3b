package main

import (
	"github.com/spf13/cobra"

	"github.com/wikilearn/metasync/pkg/sync"
)

var pullCommit bool

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull reviewed translations from the translation service",
	Long: `Fetches message collections for every translation link that is due
(never fetched, not yet fully translated, or stale) and applies units whose
review status and revision warrant an update. Without --commit the due
groups are only listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		var service sync.ServiceClient
		if pullCommit {
			client, err := newServiceClient()
			if err != nil {
				return err
			}
			service = client
		}

		report, err := sync.NewPuller(st, service, sync.ConfigFromEnv(), logger).
			Run(cmd.Context(), !pullCommit)
		if err != nil {
			return err
		}

		if err := printJSON(report); err != nil {
			return err
		}
		noteDryRun(pullCommit)
		return nil
	},
}

func init() {
	addCommitFlag(pullCmd.Flags(), &pullCommit)
}
