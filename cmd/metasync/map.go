package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/wikilearn/metasync/pkg/mapping"
	"github.com/wikilearn/metasync/pkg/outline"
	"github.com/wikilearn/metasync/pkg/store"
	"github.com/wikilearn/metasync/pkg/transform"
)

var mapCommit bool

var mapCmd = &cobra.Command{
	Use:   "map <course-id>",
	Short: "Sync a course outline into the mapping store",
	Long: `Reads the course outline and reconciles it with the store. A course
linked to a base course is treated as a translated rerun: its blocks are
matched against base-course source items and translation links are created.
Any other course is treated as a base course: its blocks and items are
created or updated, and drifted values reset dependent translations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		provider := outline.NewFileProvider(coursesDir)
		registry := transform.NewRegistry()

		var report *mapping.Report
		var mapErr error
		run := func(tx *store.Store) error {
			report, mapErr = mapping.NewResolver(tx, provider, registry, logger).MapCourse(cmd.Context(), args[0])
			var ambiguous *mapping.AmbiguousMappingError
			if errors.As(mapErr, &ambiguous) {
				// Ambiguity aborts only the affected subtree; the rest of
				// the mapping is kept and the report carries the detail.
				return nil
			}
			return mapErr
		}

		if mapCommit {
			err = st.Transaction(run)
		} else {
			err = st.DryRun(run)
		}
		if err != nil {
			return err
		}

		if err := printJSON(report); err != nil {
			return err
		}
		noteDryRun(mapCommit)
		return nil
	},
}

var retireCmd = &cobra.Command{
	Use:   "retire <base-course-id>",
	Short: "Mark a base course as superseded",
	Long: `Flips every course link of the base course to outdated. Reruns keep
their mappings and the base course metadata needed for later pushes, but the
base course stops being synced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		provider := outline.NewFileProvider(coursesDir)
		registry := transform.NewRegistry()
		run := func(tx *store.Store) error {
			return mapping.NewResolver(tx, provider, registry, logger).RetireBaseCourse(cmd.Context(), args[0])
		}

		if mapCommit {
			err = st.Transaction(run)
		} else {
			err = st.DryRun(run)
		}
		if err != nil {
			return err
		}
		noteDryRun(mapCommit)
		return nil
	},
}

var (
	directionTo   string
	directionLang string
)

var directionCmd = &cobra.Command{
	Use:   "direction <block-id>",
	Short: "Toggle a block between source and destination",
	Long: `Switching to destination requires the block to have translation
links already. Switching to source removes the language from the linked
source blocks, deletes the links, and flags the source items for re-push.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var wantDestination bool
		switch directionTo {
		case "destination":
			wantDestination = true
		case "source":
		default:
			return errors.New("--to must be source or destination")
		}

		st, err := openStore()
		if err != nil {
			return err
		}

		provider := outline.NewFileProvider(coursesDir)
		registry := transform.NewRegistry()
		run := func(tx *store.Store) error {
			return mapping.NewResolver(tx, provider, registry, logger).
				ToggleDirection(cmd.Context(), args[0], wantDestination, directionLang)
		}

		if mapCommit {
			err = st.Transaction(run)
		} else {
			err = st.DryRun(run)
		}
		if err != nil {
			return err
		}
		noteDryRun(mapCommit)
		return nil
	},
}

func init() {
	addCommitFlag(mapCmd.Flags(), &mapCommit)
	addCommitFlag(retireCmd.Flags(), &mapCommit)
	addCommitFlag(directionCmd.Flags(), &mapCommit)
	directionCmd.Flags().StringVar(&directionTo, "to", "", "Target direction: source or destination")
	directionCmd.Flags().StringVar(&directionLang, "lang", "", "Rerun language of the block's course")
	_ = directionCmd.MarkFlagRequired("to")
	_ = directionCmd.MarkFlagRequired("lang")
}
