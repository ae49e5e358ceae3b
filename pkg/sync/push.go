package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wikilearn/metasync/pkg/metawiki"
	"github.com/wikilearn/metasync/pkg/store"
)

// Pusher sends message bundles for blocks whose content or mapping changed.
// Requests go out strictly sequentially with a minimum inter-request delay;
// each response's elapsed time is subtracted so total spacing stays constant.
type Pusher struct {
	store   *store.Store
	service ServiceClient
	cfg     Config
	logger  *slog.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

// NewPusher creates a push job. A nil logger falls back to slog.Default.
func NewPusher(st *store.Store, service ServiceClient, cfg Config, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{
		store:   st,
		service: service,
		cfg:     cfg,
		logger:  logger,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Run pushes every dirty block. In dry-run mode the full bundles are
// assembled and counted but the service is never contacted and no flags are
// cleared. Per-block failures are reported and do not stop the batch; an
// authentication failure aborts the run.
func (p *Pusher) Run(ctx context.Context, dryRun bool) (*PushReport, error) {
	report := &PushReport{}

	items, err := p.store.DirtyItems()
	if err != nil {
		return nil, err
	}

	var order []uint
	seen := make(map[uint]bool)
	for _, item := range items {
		if !seen[item.BlockID] {
			seen[item.BlockID] = true
			order = append(order, item.BlockID)
		}
	}
	report.Blocks = len(order)
	if len(order) == 0 {
		return report, nil
	}

	var run *store.SyncRun
	if !dryRun {
		if err := p.service.Login(ctx); err != nil {
			return nil, err
		}
		if run, err = p.store.StartSyncRun(store.RunKindPush); err != nil {
			return nil, err
		}
	}

	for i, blockPK := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		elapsed := p.pushBlock(ctx, blockPK, dryRun, report)
		if !dryRun && i < len(order)-1 {
			if wait := p.cfg.PushDelay - elapsed; wait > 0 {
				p.sleep(wait)
			}
		}
	}

	if run != nil {
		if err := p.store.FinishSyncRun(run, report.Pushed, len(report.Errors)); err != nil {
			p.logger.Warn("recording push run failed", "error", err)
		}
	}
	return report, nil
}

// pushBlock assembles and sends one block's bundle, returning the time the
// service call took.
func (p *Pusher) pushBlock(ctx context.Context, blockPK uint, dryRun bool, report *PushReport) time.Duration {
	block, err := p.store.GetBlock(blockPK)
	if err != nil || block == nil {
		if err == nil {
			err = fmt.Errorf("block %d vanished", blockPK)
		}
		report.Errors = append(report.Errors, UnitError{Err: err.Error()})
		return 0
	}

	items, err := p.store.ItemsForBlock(block.ID)
	if err != nil {
		report.Errors = append(report.Errors, UnitError{BlockID: block.BlockID, Err: err.Error()})
		return 0
	}

	lang, name, desc := p.courseMeta(block.CourseID)
	title := fmt.Sprintf("%s/%s/%s", block.CourseID, metawiki.NormalizeLanguage(lang), block.BlockID)
	payload := bundlePayload(block, items, lang, name, desc)

	if dryRun {
		p.logger.Info("would push bundle", "title", title, "units", len(payload)-1)
		report.Pushed++
		return 0
	}

	start := p.now()
	pageTitle, err := p.service.EditMessageBundle(ctx, title, payload)
	elapsed := p.now().Sub(start)
	if err != nil {
		p.logger.Warn("push failed", "block_id", block.BlockID, "error", err)
		report.Errors = append(report.Errors, UnitError{BlockID: block.BlockID, Err: err.Error()})
		return elapsed
	}

	// The whole bundle went out, so every data type of the block is clean
	// now, dirty or not.
	for i := range items {
		if items[i].ContentUpdated || items[i].MappingUpdated {
			items[i].ContentUpdated = false
			items[i].MappingUpdated = false
			if err := p.store.SaveItem(&items[i]); err != nil {
				report.Errors = append(report.Errors, UnitError{BlockID: block.BlockID, Err: err.Error()})
				return elapsed
			}
		}
	}
	if block.Extra == nil {
		block.Extra = store.ExtraMap{}
	}
	block.Extra[store.ExtraMetaPageTitle] = pageTitle
	if err := p.store.SaveBlock(block); err != nil {
		report.Errors = append(report.Errors, UnitError{BlockID: block.BlockID, Err: err.Error()})
		return elapsed
	}

	p.logger.Info("pushed bundle", "title", title, "page", pageTitle)
	report.Pushed++
	return elapsed
}

// bundlePayload flattens all of a block's data types into one service
// payload: decomposed items contribute their unit keys, flat items their
// data type.
func bundlePayload(block *store.ContentBlock, items []store.ContentItem, lang, name, desc string) map[string]any {
	payload := make(map[string]any, len(items)+1)
	for _, item := range items {
		if item.ParsedKeys != nil {
			for key, value := range item.ParsedKeys {
				payload[key] = value
			}
			continue
		}
		payload[item.DataType] = item.Data
	}

	priority := make([]string, 0, len(block.Langs))
	for _, l := range block.Langs {
		priority = append(priority, metawiki.NormalizeLanguage(l))
	}

	payload["@metadata"] = map[string]any{
		"sourceLanguage":             metawiki.NormalizeLanguage(lang),
		"priorityLanguages":          priority,
		"allowOnlyPriorityLanguages": true,
		"description":                fmt.Sprintf("%s in %s - %s", block.BlockType, name, desc),
		"label":                      name,
	}
	return payload
}

// courseMeta reads base-course metadata off the course's rerun links; the
// links keep carrying it after the base course is retired.
func (p *Pusher) courseMeta(courseID string) (lang, name, desc string) {
	lang = "en"
	links, err := p.store.CourseLinksForBase(courseID)
	if err != nil || len(links) == 0 {
		return lang, name, desc
	}
	extra := links[0].Extra
	if v, ok := extra[store.ExtraBaseCourseLang].(string); ok && v != "" {
		lang = v
	}
	name, _ = extra[store.ExtraBaseCourseName].(string)
	desc, _ = extra[store.ExtraBaseCourseDesc].(string)
	return lang, name, desc
}
