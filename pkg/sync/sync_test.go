package sync

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wikilearn/metasync/pkg/metawiki"
	"github.com/wikilearn/metasync/pkg/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	return store.New(db)
}

type editCall struct {
	title   string
	payload map[string]any
}

// fakeService records calls and serves canned responses keyed by
// "title|language".
type fakeService struct {
	mu          sync.Mutex
	loginErr    error
	loginCalls  int
	edits       []editCall
	editErrs    map[string]error
	collections map[string][]metawiki.Message
	fetchErrs   map[string]error
}

func (f *fakeService) Login(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	return f.loginErr
}

func (f *fakeService) EditMessageBundle(_ context.Context, title string, payload map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.editErrs[title]; err != nil {
		return "", err
	}
	f.edits = append(f.edits, editCall{title: title, payload: payload})
	return title, nil
}

func (f *fakeService) MessageCollection(_ context.Context, title, language string) ([]metawiki.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := title + "|" + language
	if err := f.fetchErrs[key]; err != nil {
		return nil, err
	}
	return f.collections[key], nil
}
