package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikilearn/metasync/pkg/metawiki"
	"github.com/wikilearn/metasync/pkg/store"
)

type pullFixture struct {
	source   *store.ContentBlock
	target   *store.ContentBlock
	flatItem *store.ContentItem
	flatLink *store.TranslationLink
}

// newPullFixture builds a mapped source/target pair with a flat link due for
// its first fetch.
func newPullFixture(t *testing.T, s *store.Store) *pullFixture {
	t.Helper()

	require.NoError(t, s.CreateCourseLink(&store.CourseLink{
		CourseID:     "course-fr",
		BaseCourseID: "course-base",
		Extra: store.ExtraMap{
			store.ExtraCourseLang:     "fr",
			store.ExtraBaseCourseLang: "en",
		},
	}))

	source := &store.ContentBlock{
		BlockID:   "block@aaa111",
		CourseID:  "course-base",
		BlockType: "html",
		Langs:     store.StringList{"fr"},
	}
	target := &store.ContentBlock{
		BlockID:   "block@rerun@aaa111",
		CourseID:  "course-fr",
		BlockType: "html",
		Direction: store.DirectionDestination,
	}
	require.NoError(t, s.CreateBlock(source))
	require.NoError(t, s.CreateBlock(target))

	item := &store.ContentItem{BlockID: source.ID, DataType: "display_name", Data: "Welcome"}
	require.NoError(t, s.CreateItem(item))

	link := &store.TranslationLink{TargetBlockID: target.ID, SourceItemID: item.ID}
	require.NoError(t, s.CreateLink(link))

	return &pullFixture{source: source, target: target, flatItem: item, flatLink: link}
}

func collectionKey(fx *pullFixture) string {
	return "course-base/en/" + fx.source.BlockID + "|fr"
}

func messageFor(fx *pullFixture, dataType, translation, status, revision string) metawiki.Message {
	return metawiki.Message{
		Key:         "course-base/en/" + fx.source.BlockID + "/" + dataType,
		Translation: translation,
		Properties:  metawiki.MessageProperties{Status: status, Revision: metawiki.Revision(revision)},
	}
}

func TestPullAppliesTranslation(t *testing.T) {
	s := setupTestStore(t)
	fx := newPullFixture(t, s)

	svc := &fakeService{collections: map[string][]metawiki.Message{
		collectionKey(fx): {messageFor(fx, "display_name", "Bienvenue", "translated", "5")},
	}}

	report, err := NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Groups)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.UpdatedKeys)

	links, err := s.LinksForTargetBlock(fx.target.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.NotNil(t, links[0].Translation)
	assert.Equal(t, "Bienvenue", *links[0].Translation)
	assert.Equal(t, "5", links[0].FetchedRevisions["display_name"])
	assert.NotNil(t, links[0].LastFetched)

	target, err := s.GetBlock(fx.target.ID)
	require.NoError(t, err)
	assert.True(t, target.Translated)

	run, err := s.LastSyncRun(store.RunKindPull)
	require.NoError(t, err)
	require.NotNil(t, run)
}

func TestPullRevisionGating(t *testing.T) {
	s := setupTestStore(t)
	fx := newPullFixture(t, s)

	// Simulate an earlier fetch that stored revision 5, then an approval.
	old := "Bienvenue"
	stale := time.Now().UTC().Add(-30 * 24 * time.Hour)
	fx.flatLink.Translation = &old
	fx.flatLink.Approved = true
	fx.flatLink.ApprovedBy = "reviewer"
	fx.flatLink.LastFetched = &stale
	fx.flatLink.FetchedRevisions = store.RevisionMap{"display_name": "5"}
	require.NoError(t, s.SaveLink(fx.flatLink))

	// Same revision again: value and approval stay, timestamp advances.
	svc := &fakeService{collections: map[string][]metawiki.Message{
		collectionKey(fx): {messageFor(fx, "display_name", "Bienvenue!", "translated", "5")},
	}}
	report, err := NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, report.UpdatedKeys)

	links, err := s.LinksForTargetBlock(fx.target.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bienvenue", *links[0].Translation)
	assert.True(t, links[0].Approved)
	assert.True(t, links[0].LastFetched.After(stale))

	// Changed revision: value applied, approval cleared.
	links[0].LastFetched = &stale
	require.NoError(t, s.SaveLink(&links[0]))

	svc.collections[collectionKey(fx)] = []metawiki.Message{
		messageFor(fx, "display_name", "Bienvenue !", "translated", "6"),
	}
	report, err = NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.UpdatedKeys)

	links, err = s.LinksForTargetBlock(fx.target.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bienvenue !", *links[0].Translation)
	assert.False(t, links[0].Approved)
	assert.Empty(t, links[0].ApprovedBy)
}

func TestPullInvalidatesAppliedVersion(t *testing.T) {
	s := setupTestStore(t)
	fx := newPullFixture(t, s)

	// The target carries an applied version; a newer revision must clear it
	// so the version is no longer treated as current.
	version := &store.TranslationVersion{
		BlockID: fx.target.BlockID,
		Data:    store.SnapshotMap{"display_name": "Bienvenue"},
	}
	require.NoError(t, s.CreateVersion(version))

	old := "Bienvenue"
	stale := time.Now().UTC().Add(-30 * 24 * time.Hour)
	fx.flatLink.Translation = &old
	fx.flatLink.LastFetched = &stale
	fx.flatLink.FetchedRevisions = store.RevisionMap{"display_name": "5"}
	require.NoError(t, s.SaveLink(fx.flatLink))

	fx.target.Translated = true
	fx.target.AppliedTranslation = true
	fx.target.AppliedVersionID = &version.ID
	require.NoError(t, s.SaveBlock(fx.target))

	svc := &fakeService{collections: map[string][]metawiki.Message{
		collectionKey(fx): {messageFor(fx, "display_name", "Bienvenue !", "translated", "6")},
	}}

	report, err := NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.UpdatedKeys)

	target, err := s.GetBlock(fx.target.ID)
	require.NoError(t, err)
	assert.False(t, target.AppliedTranslation)
	assert.Nil(t, target.AppliedVersionID)
}

func TestPullParsedKeysPartialUpdate(t *testing.T) {
	s := setupTestStore(t)
	fx := newPullFixture(t, s)

	parsed := &store.ContentItem{
		BlockID:    fx.source.ID,
		DataType:   "content",
		Data:       "<problem/>",
		ParsedKeys: store.KeyMap{"k1": "One", "k2": "Two"},
	}
	require.NoError(t, s.CreateItem(parsed))

	existing := `{"k2":"Deux"}`
	parsedLink := &store.TranslationLink{
		TargetBlockID:    fx.target.ID,
		SourceItemID:     parsed.ID,
		Translation:      &existing,
		FetchedRevisions: store.RevisionMap{"k2": "3"},
	}
	require.NoError(t, s.CreateLink(parsedLink))

	svc := &fakeService{collections: map[string][]metawiki.Message{
		collectionKey(fx): {
			messageFor(fx, "display_name", "Bienvenue", "translated", "2"),
			messageFor(fx, "k1", "Un", "translated", "5"),
			messageFor(fx, "k2", "Deux encore", "proofread", "3"),
		},
	}}

	report, err := NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.UpdatedKeys, "k1 is new, k2 revision is unchanged")

	links, err := s.LinksForTargetBlock(fx.target.ID)
	require.NoError(t, err)
	for _, link := range links {
		if link.SourceItemID != parsed.ID {
			continue
		}
		require.NotNil(t, link.Translation)
		decoded, err := store.DecodeTranslationMap(*link.Translation)
		require.NoError(t, err)
		assert.Equal(t, "Un", decoded["k1"])
		assert.Equal(t, "Deux", decoded["k2"], "unchanged revision must not clobber the stored value")
		assert.NotNil(t, link.LastFetched, "timestamp advances even without updates")
	}

	target, err := s.GetBlock(fx.target.ID)
	require.NoError(t, err)
	assert.True(t, target.Translated, "all parsed keys present and display name set")
}

func TestPullIgnoresUnreviewedStatuses(t *testing.T) {
	s := setupTestStore(t)
	fx := newPullFixture(t, s)

	svc := &fakeService{collections: map[string][]metawiki.Message{
		collectionKey(fx): {messageFor(fx, "display_name", "Brouillon", "fuzzy", "9")},
	}}

	report, err := NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, report.UpdatedKeys)

	links, err := s.LinksForTargetBlock(fx.target.ID)
	require.NoError(t, err)
	assert.Nil(t, links[0].Translation)
	assert.NotNil(t, links[0].LastFetched)
}

func TestPullDryRun(t *testing.T) {
	s := setupTestStore(t)
	fx := newPullFixture(t, s)

	svc := &fakeService{collections: map[string][]metawiki.Message{
		collectionKey(fx): {messageFor(fx, "display_name", "Bienvenue", "translated", "5")},
	}}

	report, err := NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Groups)
	assert.Zero(t, report.Fetched)
	assert.Zero(t, svc.loginCalls)

	links, err := s.LinksForTargetBlock(fx.target.ID)
	require.NoError(t, err)
	assert.Nil(t, links[0].LastFetched)
}

func TestPullFetchFailureIsRetriedNextRun(t *testing.T) {
	s := setupTestStore(t)
	fx := newPullFixture(t, s)

	svc := &fakeService{fetchErrs: map[string]error{
		collectionKey(fx): errors.New("timeout"),
	}}

	report, err := NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, fx.source.BlockID, report.Errors[0].BlockID)

	links, err := s.LinksForTargetBlock(fx.target.ID)
	require.NoError(t, err)
	assert.Nil(t, links[0].LastFetched, "failed fetches stay due")
}

func TestPullAuthFailureIsFatal(t *testing.T) {
	s := setupTestStore(t)
	newPullFixture(t, s)

	svc := &fakeService{loginErr: &metawiki.AuthError{Op: "login", Err: errors.New("expired")}}

	_, err := NewPuller(s, svc, DefaultConfig(), nil).Run(context.Background(), false)
	var authErr *metawiki.AuthError
	require.ErrorAs(t, err, &authErr)
}
