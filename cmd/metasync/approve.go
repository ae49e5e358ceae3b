package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wikilearn/metasync/pkg/approval"
	"github.com/wikilearn/metasync/pkg/outline"
	"github.com/wikilearn/metasync/pkg/store"
	"github.com/wikilearn/metasync/pkg/transform"
)

// readOnlyProvider suppresses content writes so dry runs leave the course
// exports untouched while the database transaction is rolled back.
type readOnlyProvider struct {
	outline.Provider
}

func (readOnlyProvider) WriteFields(context.Context, string, map[string]string) error {
	return nil
}

func approvalProvider(commit bool) outline.Provider {
	provider := outline.NewFileProvider(coursesDir)
	if commit {
		return provider
	}
	return readOnlyProvider{Provider: provider}
}

var (
	approveBy     string
	approveCommit bool
)

var approveCmd = &cobra.Command{
	Use:   "approve <block-id>",
	Short: "Approve a block's translations and apply them",
	Long: `Requires the block to be fully translated. Marks every translation
link approved, snapshots the merged translation state as a new immutable
version, and writes the version onto the live course content.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		provider := approvalProvider(approveCommit)
		registry := transform.NewRegistry()

		var version *store.TranslationVersion
		run := func(tx *store.Store) error {
			version, err = approval.NewService(tx, provider, registry, logger).
				Approve(cmd.Context(), args[0], approveBy)
			return err
		}

		if approveCommit {
			err = st.Transaction(run)
		} else {
			err = st.DryRun(run)
		}
		if err != nil {
			return err
		}

		if err := printJSON(version); err != nil {
			return err
		}
		noteDryRun(approveCommit)
		return nil
	},
}

var (
	applyBlockID string
	applyCommit  bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <version-id>",
	Short: "Apply a stored translation version to the live content",
	Long: `Recomposes the version's snapshot against the block's current
content and writes the result back. Applying the already-current version is
a no-op. Fields whose content structure drifted since the snapshot are
skipped with a warning.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		versionID, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}

		provider := approvalProvider(applyCommit)
		registry := transform.NewRegistry()

		var applied bool
		run := func(tx *store.Store) error {
			applied, err = approval.NewService(tx, provider, registry, logger).
				ApplyVersion(cmd.Context(), uint(versionID), applyBlockID)
			return err
		}

		if applyCommit {
			err = st.Transaction(run)
		} else {
			err = st.DryRun(run)
		}
		if err != nil {
			return err
		}

		if err := printJSON(map[string]any{"version_id": versionID, "applied": applied}); err != nil {
			return err
		}
		noteDryRun(applyCommit)
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveBy, "by", "", "Reviewer recorded on the approval")
	addCommitFlag(approveCmd.Flags(), &approveCommit)
	_ = approveCmd.MarkFlagRequired("by")

	applyCmd.Flags().StringVar(&applyBlockID, "block", "", "Guard: fail unless the version belongs to this block")
	addCommitFlag(applyCmd.Flags(), &applyCommit)
}
