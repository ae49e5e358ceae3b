package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wikilearn/metasync/pkg/metawiki"
	"github.com/wikilearn/metasync/pkg/store"
)

// Statuses under which a fetched value may be applied.
const (
	statusTranslated = "translated"
	statusProofread  = "proofread"
)

// Puller fetches updated translations for links that are due: never fetched,
// not fully translated, or past the staleness window. Fetches fan out with a
// bounded concurrency; applying is revision-gated so unchanged values are
// never rewritten.
type Puller struct {
	store   *store.Store
	service ServiceClient
	cfg     Config
	logger  *slog.Logger

	now func() time.Time
}

// NewPuller creates a pull job. A nil logger falls back to slog.Default.
func NewPuller(st *store.Store, service ServiceClient, cfg Config, logger *slog.Logger) *Puller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Puller{store: st, service: service, cfg: cfg, logger: logger, now: time.Now}
}

// fetchGroup is one unit of network work: one source block's bundle in one
// target language, with every link it feeds.
type fetchGroup struct {
	title      string
	language   string
	blockID    string
	links      []store.TranslationLink
	targetPKs  []uint
	messages   []metawiki.Message
	fetchError error
}

// Run fetches and applies due translations. Dry-run computes the due groups
// and reports them without contacting the service or writing anything.
// Transport failures are recorded per group and retried next run; an
// authentication failure aborts.
func (p *Puller) Run(ctx context.Context, dryRun bool) (*PullReport, error) {
	report := &PullReport{}

	groups, err := p.collectGroups()
	if err != nil {
		return nil, err
	}
	report.Groups = len(groups)
	if len(groups) == 0 {
		return report, nil
	}

	if dryRun {
		for _, g := range groups {
			p.logger.Info("would fetch collection", "title", g.title, "language", g.language, "links", len(g.links))
		}
		return report, nil
	}

	if err := p.service.Login(ctx); err != nil {
		return nil, err
	}
	run, err := p.store.StartSyncRun(store.RunKindPull)
	if err != nil {
		return nil, err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.FetchLimit)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			g.messages, g.fetchError = p.service.MessageCollection(egCtx, g.title, g.language)
			return nil
		})
	}
	_ = eg.Wait()

	for _, g := range groups {
		if g.fetchError != nil {
			p.logger.Warn("fetch failed", "block_id", g.blockID, "language", g.language, "error", g.fetchError)
			report.Errors = append(report.Errors, UnitError{
				BlockID: g.blockID, Language: g.language, Err: g.fetchError.Error(),
			})
			continue
		}
		if err := p.applyGroup(g, report); err != nil {
			report.Errors = append(report.Errors, UnitError{
				BlockID: g.blockID, Language: g.language, Err: err.Error(),
			})
			continue
		}
		report.Fetched++
	}

	if err := p.store.FinishSyncRun(run, report.Fetched, len(report.Errors)); err != nil {
		p.logger.Warn("recording pull run failed", "error", err)
	}
	return report, nil
}

// collectGroups resolves each due link to its bundle title and target
// language and buckets links sharing both.
func (p *Puller) collectGroups() ([]*fetchGroup, error) {
	cutoff := p.now().Add(-p.cfg.Staleness)
	links, err := p.store.FetchCandidates(cutoff)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*fetchGroup)
	var order []*fetchGroup
	for _, link := range links {
		item, err := p.store.GetItem(link.SourceItemID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue
		}
		source, err := p.store.GetBlock(item.BlockID)
		if err != nil {
			return nil, err
		}
		target, err := p.store.GetBlock(link.TargetBlockID)
		if err != nil {
			return nil, err
		}
		if source == nil || target == nil {
			continue
		}
		courseLink, err := p.store.CourseLinkForCourse(target.CourseID)
		if err != nil {
			return nil, err
		}
		if courseLink == nil {
			p.logger.Warn("target course has no course link", "course_id", target.CourseID)
			continue
		}
		lang, _ := courseLink.Extra[store.ExtraCourseLang].(string)
		if lang == "" {
			p.logger.Warn("course link has no language", "course_id", target.CourseID)
			continue
		}
		baseLang, _ := courseLink.Extra[store.ExtraBaseCourseLang].(string)
		if baseLang == "" {
			baseLang = "en"
		}

		title := fmt.Sprintf("%s/%s/%s", source.CourseID, metawiki.NormalizeLanguage(baseLang), source.BlockID)
		key := title + "|" + lang
		g, ok := byKey[key]
		if !ok {
			g = &fetchGroup{title: title, language: lang, blockID: source.BlockID}
			byKey[key] = g
			order = append(order, g)
		}
		g.links = append(g.links, link)
		g.targetPKs = appendUnique(g.targetPKs, link.TargetBlockID)
	}
	return order, nil
}

// applyGroup writes one fetched collection into the group's links. A key is
// applied only when its status allows it and its revision marker is unseen
// or changed; any applied key clears approval. The fetch timestamp advances
// on every link regardless, so unchanged content is not re-polled before the
// staleness window elapses again.
func (p *Puller) applyGroup(g *fetchGroup, report *PullReport) error {
	index := make(map[string]metawiki.Message, len(g.messages))
	for _, msg := range g.messages {
		index[responseUnitKey(msg.Key)] = msg
	}

	fetchedAt := p.now().UTC()
	anyUpdated := false
	for i := range g.links {
		link := &g.links[i]
		item, err := p.store.GetItem(link.SourceItemID)
		if err != nil {
			return err
		}
		if item == nil {
			continue
		}

		updated, err := p.applyLink(link, item, index, report)
		if err != nil {
			return err
		}
		if updated {
			link.Approved = false
			link.ApprovedBy = ""
			anyUpdated = true
		}
		link.LastFetched = &fetchedAt
		if err := p.store.SaveLink(link); err != nil {
			return err
		}
	}

	for _, pk := range g.targetPKs {
		target, err := p.store.GetBlock(pk)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		if anyUpdated {
			target.AppliedTranslation = false
			target.AppliedVersionID = nil
		}
		translated, err := p.store.IsFullyTranslated(target.ID)
		if err != nil {
			return err
		}
		target.Translated = translated
		if err := p.store.SaveBlock(target); err != nil {
			return err
		}
	}
	return nil
}

// applyLink merges applicable keys of the fetched collection into one link.
func (p *Puller) applyLink(link *store.TranslationLink, item *store.ContentItem, index map[string]metawiki.Message, report *PullReport) (bool, error) {
	if item.ParsedKeys == nil {
		msg, ok := index[item.DataType]
		if !ok || !applicable(msg) {
			return false, nil
		}
		rev := string(msg.Properties.Revision)
		if stored, seen := link.FetchedRevisions[item.DataType]; seen && stored == rev {
			return false, nil
		}
		translation := msg.Translation
		link.Translation = &translation
		if link.FetchedRevisions == nil {
			link.FetchedRevisions = store.RevisionMap{}
		}
		link.FetchedRevisions[item.DataType] = rev
		report.UpdatedKeys++
		return true, nil
	}

	current := map[string]string{}
	if link.Translation != nil && *link.Translation != "" {
		decoded, err := store.DecodeTranslationMap(*link.Translation)
		if err == nil {
			current = decoded
		}
	}

	updated := false
	for key := range item.ParsedKeys {
		msg, ok := index[key]
		if !ok || !applicable(msg) {
			continue
		}
		rev := string(msg.Properties.Revision)
		if stored, seen := link.FetchedRevisions[key]; seen && stored == rev {
			continue
		}
		current[key] = msg.Translation
		if link.FetchedRevisions == nil {
			link.FetchedRevisions = store.RevisionMap{}
		}
		link.FetchedRevisions[key] = rev
		updated = true
		report.UpdatedKeys++
	}
	if updated {
		encoded, err := store.EncodeTranslationMap(current)
		if err != nil {
			return false, err
		}
		link.Translation = &encoded
	}
	return updated, nil
}

func applicable(msg metawiki.Message) bool {
	return msg.Properties.Status == statusTranslated || msg.Properties.Status == statusProofread
}

// responseUnitKey strips the bundle title off a collection key. The service
// returns "course/lang/block/unit"; everything after the third slash is the
// unit key pushed in the bundle.
func responseUnitKey(key string) string {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) == 4 {
		return parts[3]
	}
	return key
}

func appendUnique(list []uint, v uint) []uint {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
