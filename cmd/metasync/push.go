package main

import (
	"github.com/spf13/cobra"

	"github.com/wikilearn/metasync/pkg/sync"
)

var pushCommit bool

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push changed source content to the translation service",
	Long: `Collects every source item flagged as changed, bundles all data
types of each affected block into one message bundle, and edits the bundle
page on the service. Requests are paced to respect the service rate limit.
Without --commit the batch is only listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		var service sync.ServiceClient
		if pushCommit {
			client, err := newServiceClient()
			if err != nil {
				return err
			}
			service = client
		}

		report, err := sync.NewPusher(st, service, sync.ConfigFromEnv(), logger).
			Run(cmd.Context(), !pushCommit)
		if err != nil {
			return err
		}

		if err := printJSON(report); err != nil {
			return err
		}
		noteDryRun(pushCommit)
		return nil
	},
}

func init() {
	addCommitFlag(pushCmd.Flags(), &pushCommit)
}
