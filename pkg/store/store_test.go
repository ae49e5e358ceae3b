package store

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return New(db)
}

func newTestBlock(blockID, courseID, blockType string) *ContentBlock {
	return &ContentBlock{
		BlockID:   blockID,
		CourseID:  courseID,
		BlockType: blockType,
		Direction: DirectionSource,
	}
}

func TestBlockCRUD(t *testing.T) {
	s := setupTestStore(t)

	block := newTestBlock("block@base@001", "course-base", "html")
	require.NoError(t, s.CreateBlock(block))
	require.NotZero(t, block.ID)

	got, err := s.GetBlockByBlockID("block@base@001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, DirectionSource, got.Direction)
	assert.Equal(t, "course-base", got.CourseID)

	got.Langs = got.Langs.Add("fr")
	got.Langs = got.Langs.Add("fr")
	require.NoError(t, s.SaveBlock(got))

	got, err = s.GetBlock(block.ID)
	require.NoError(t, err)
	assert.Equal(t, StringList{"fr"}, got.Langs)

	missing, err := s.GetBlockByBlockID("block@nowhere")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBlockIDUnique(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.CreateBlock(newTestBlock("block@dup", "c1", "html")))
	err := s.CreateBlock(newTestBlock("block@dup", "c2", "html"))
	assert.Error(t, err)
}

func TestItemUniquePerDataType(t *testing.T) {
	s := setupTestStore(t)

	block := newTestBlock("block@1", "c1", "html")
	require.NoError(t, s.CreateBlock(block))

	require.NoError(t, s.CreateItem(&ContentItem{BlockID: block.ID, DataType: "display_name", Data: "Intro"}))
	err := s.CreateItem(&ContentItem{BlockID: block.ID, DataType: "display_name", Data: "Other"})
	assert.Error(t, err)
}

func TestCreateLinkDuplicateIsNoOp(t *testing.T) {
	s := setupTestStore(t)

	source := newTestBlock("block@src", "base", "html")
	target := newTestBlock("block@dst", "rerun", "html")
	require.NoError(t, s.CreateBlock(source))
	require.NoError(t, s.CreateBlock(target))
	item := &ContentItem{BlockID: source.ID, DataType: "display_name", Data: "Intro"}
	require.NoError(t, s.CreateItem(item))

	require.NoError(t, s.CreateLink(&TranslationLink{TargetBlockID: target.ID, SourceItemID: item.ID}))
	require.NoError(t, s.CreateLink(&TranslationLink{TargetBlockID: target.ID, SourceItemID: item.ID}))

	links, err := s.LinksForTargetBlock(target.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestResetTranslationsCascade(t *testing.T) {
	s := setupTestStore(t)

	source := newTestBlock("block@src", "base", "html")
	target := newTestBlock("block@dst", "rerun", "html")
	require.NoError(t, s.CreateBlock(source))
	require.NoError(t, s.CreateBlock(target))
	item := &ContentItem{BlockID: source.ID, DataType: "display_name", Data: "Hello"}
	require.NoError(t, s.CreateItem(item))

	translation := "Bonjour"
	now := time.Now().UTC()
	link := &TranslationLink{
		TargetBlockID:    target.ID,
		SourceItemID:     item.ID,
		Translation:      &translation,
		Approved:         true,
		ApprovedBy:       "reviewer",
		LastFetched:      &now,
		FetchedRevisions: RevisionMap{"display_name": "5"},
	}
	require.NoError(t, s.CreateLink(link))
	version := &TranslationVersion{
		BlockID: target.BlockID,
		Data:    SnapshotMap{"display_name": "Bonjour"},
	}
	require.NoError(t, s.CreateVersion(version))
	target.AppliedTranslation = true
	target.AppliedVersionID = &version.ID
	target.Translated = true
	require.NoError(t, s.SaveBlock(target))

	require.NoError(t, s.ResetTranslations(item.ID))

	links, err := s.LinksForTargetBlock(target.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Nil(t, links[0].Translation)
	assert.False(t, links[0].Approved)
	assert.Empty(t, links[0].ApprovedBy)
	assert.Nil(t, links[0].LastFetched)
	assert.Nil(t, links[0].FetchedRevisions)

	refreshed, err := s.GetBlock(target.ID)
	require.NoError(t, err)
	assert.False(t, refreshed.AppliedTranslation)
	assert.Nil(t, refreshed.AppliedVersionID)
	assert.False(t, refreshed.Translated)

	versions, err := s.VersionsForBlock(target.BlockID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestIsFullyTranslated(t *testing.T) {
	s := setupTestStore(t)

	source := newTestBlock("block@src", "base", "problem")
	target := newTestBlock("block@dst", "rerun", "problem")
	require.NoError(t, s.CreateBlock(source))
	require.NoError(t, s.CreateBlock(target))

	title := &ContentItem{BlockID: source.ID, DataType: "display_name", Data: "Quiz"}
	body := &ContentItem{
		BlockID:    source.ID,
		DataType:   "content",
		Data:       "<problem/>",
		ParsedKeys: KeyMap{"problem.label": "Pick one"},
	}
	require.NoError(t, s.CreateItem(title))
	require.NoError(t, s.CreateItem(body))

	ok, err := s.IsFullyTranslated(target.ID)
	require.NoError(t, err)
	assert.False(t, ok, "block with no links is not translated")

	titleText := "Contrôle"
	bodyText := `{"problem.label":"Choisissez-en un"}`
	require.NoError(t, s.CreateLink(&TranslationLink{TargetBlockID: target.ID, SourceItemID: title.ID, Translation: &titleText}))
	bodyLink := &TranslationLink{TargetBlockID: target.ID, SourceItemID: body.ID, Translation: &bodyText}
	require.NoError(t, s.CreateLink(bodyLink))

	ok, err = s.IsFullyTranslated(target.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	partial := `{"other.key":"value"}`
	bodyLink.Translation = &partial
	require.NoError(t, s.SaveLink(bodyLink))

	ok, err = s.IsFullyTranslated(target.ID)
	require.NoError(t, err)
	assert.False(t, ok, "missing parsed key means not fully translated")
}

func TestFetchCandidates(t *testing.T) {
	s := setupTestStore(t)

	source := newTestBlock("block@src", "base", "html")
	target := newTestBlock("block@dst", "rerun", "html")
	require.NoError(t, s.CreateBlock(source))
	target.Translated = true
	require.NoError(t, s.CreateBlock(target))

	fresh := &ContentItem{BlockID: source.ID, DataType: "display_name", Data: "Hello"}
	dirty := &ContentItem{BlockID: source.ID, DataType: "content", Data: "<p>Hello</p>", ContentUpdated: true}
	require.NoError(t, s.CreateItem(fresh))
	require.NoError(t, s.CreateItem(dirty))

	recent := time.Now().UTC()
	stale := recent.Add(-96 * time.Hour)
	text := "Bonjour"

	neverFetched := &TranslationLink{TargetBlockID: target.ID, SourceItemID: fresh.ID}
	require.NoError(t, s.CreateLink(neverFetched))

	cutoff := recent.Add(-72 * time.Hour)

	candidates, err := s.FetchCandidates(cutoff)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, neverFetched.ID, candidates[0].ID)

	// Fetched recently on a translated block: not due.
	neverFetched.LastFetched = &recent
	neverFetched.Translation = &text
	require.NoError(t, s.SaveLink(neverFetched))

	candidates, err = s.FetchCandidates(cutoff)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// Stale fetch passes the cutoff again.
	neverFetched.LastFetched = &stale
	require.NoError(t, s.SaveLink(neverFetched))

	candidates, err = s.FetchCandidates(cutoff)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)

	// A dirty source item blocks the pull until content is pushed.
	dirtyLink := &TranslationLink{TargetBlockID: target.ID, SourceItemID: dirty.ID}
	require.NoError(t, s.CreateLink(dirtyLink))

	candidates, err = s.FetchCandidates(cutoff)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, neverFetched.ID, candidates[0].ID)
}

func TestDirtyItems(t *testing.T) {
	s := setupTestStore(t)

	block := newTestBlock("block@1", "base", "html")
	deleted := newTestBlock("block@2", "base", "html")
	deleted.Deleted = true
	require.NoError(t, s.CreateBlock(block))
	require.NoError(t, s.CreateBlock(deleted))

	require.NoError(t, s.CreateItem(&ContentItem{BlockID: block.ID, DataType: "display_name", Data: "a", ContentUpdated: true}))
	require.NoError(t, s.CreateItem(&ContentItem{BlockID: block.ID, DataType: "content", Data: "b", MappingUpdated: true}))
	require.NoError(t, s.CreateItem(&ContentItem{BlockID: deleted.ID, DataType: "display_name", Data: "c", ContentUpdated: true}))

	items, err := s.DirtyItems()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestDryRunRollsBack(t *testing.T) {
	s := setupTestStore(t)

	err := s.DryRun(func(tx *Store) error {
		if err := tx.CreateBlock(newTestBlock("block@tmp", "c1", "html")); err != nil {
			return err
		}
		got, err := tx.GetBlockByBlockID("block@tmp")
		require.NoError(t, err)
		require.NotNil(t, got, "writes must be visible inside the dry run")
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetBlockByBlockID("block@tmp")
	require.NoError(t, err)
	assert.Nil(t, got, "dry run must not persist")
}

func TestCourseLinks(t *testing.T) {
	s := setupTestStore(t)

	link := &CourseLink{
		CourseID:     "course-fr",
		BaseCourseID: "course-base",
		Extra:        ExtraMap{ExtraBaseCourseLang: "en"},
	}
	require.NoError(t, s.CreateCourseLink(link))

	got, err := s.CourseLinkForCourse("course-fr")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "course-base", got.BaseCourseID)
	assert.Equal(t, "en", got.Extra[ExtraBaseCourseLang])

	reruns, err := s.CourseLinksForBase("course-base")
	require.NoError(t, err)
	assert.Len(t, reruns, 1)

	none, err := s.CourseLinkForCourse("course-base")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSyncRuns(t *testing.T) {
	s := setupTestStore(t)

	run, err := s.StartSyncRun(RunKindPush)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	last, err := s.LastSyncRun(RunKindPush)
	require.NoError(t, err)
	assert.Nil(t, last, "unfinished runs are not reported")

	require.NoError(t, s.FinishSyncRun(run, 3, 1))

	last, err = s.LastSyncRun(RunKindPush)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Succeeded)
	assert.Equal(t, 1, last.Failed)

	runs, err := s.RecentSyncRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
