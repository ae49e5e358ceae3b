package sync

import (
	"context"

	"github.com/wikilearn/metasync/pkg/metawiki"
)

// ServiceClient is the slice of the wire client the sync jobs consume.
// *metawiki.Client implements it; tests substitute fakes.
type ServiceClient interface {
	Login(ctx context.Context) error
	EditMessageBundle(ctx context.Context, title string, payload map[string]any) (string, error)
	MessageCollection(ctx context.Context, title, language string) ([]metawiki.Message, error)
}

var _ ServiceClient = (*metawiki.Client)(nil)
