// Package mapping keeps stored translation state consistent with live course
// outlines: it scans base courses for content drift and links translated
// rerun blocks to the base content items they translate.
package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/wikilearn/metasync/pkg/outline"
	"github.com/wikilearn/metasync/pkg/store"
	"github.com/wikilearn/metasync/pkg/transform"
)

// Resolver builds and repairs the linkage between base and translated course
// content. Two runs for the same course must not overlap; callers serialize
// invocations per course.
type Resolver struct {
	store    *store.Store
	provider outline.Provider
	registry *transform.Registry
	logger   *slog.Logger
}

// NewResolver creates a resolver. A nil logger falls back to slog.Default.
func NewResolver(st *store.Store, provider outline.Provider, registry *transform.Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, provider: provider, registry: registry, logger: logger}
}

// MapCourse syncs one course: reruns (courses with a course link) are mapped
// against their base course, everything else is scanned as base content.
func (r *Resolver) MapCourse(ctx context.Context, courseID string) (*Report, error) {
	link, err := r.store.CourseLinkForCourse(courseID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		return r.SyncTranslated(ctx, courseID, link.BaseCourseID)
	}
	return r.SyncBase(ctx, courseID)
}

// SyncBase reconciles stored state with the live outline of a base course.
// New blocks and items are created dirty so the next push picks them up;
// value drift updates the item, marks it dirty and cascades a translation
// reset; blocks gone from the outline are soft-deleted. Running twice on an
// unchanged outline writes nothing.
func (r *Resolver) SyncBase(ctx context.Context, courseID string) (*Report, error) {
	report := &Report{CourseID: courseID}

	root, err := r.provider.Root(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("fetch outline for %s: %w", courseID, err)
	}

	live := mapset.NewSet[string]()
	for _, node := range outline.Flatten(root) {
		if !r.registry.Tracked(transform.BlockType(node.BlockType)) {
			continue
		}
		live.Add(node.ID)
		if _, err := r.ensureBlock(node, courseID, true, report); err != nil {
			r.logger.Warn("skipping block", "block_id", node.ID, "error", err)
			report.addError(node.ID, err)
		}
	}

	if err := r.retireMissingBlocks(courseID, live, false, report); err != nil {
		return nil, err
	}

	if err := r.refreshBaseMetadata(ctx, courseID); err != nil {
		r.logger.Warn("refreshing course metadata failed", "course_id", courseID, "error", err)
	}
	return report, nil
}

// SyncTranslated reconciles a rerun course against its base: every tracked
// node is resolved to a base content item via three ordered strategies
// (reference key, parent-scoped value equality, course-wide value equality).
// Ambiguity aborts the node's subtree and is surfaced; unmatched nodes stay
// unmapped. Rerun blocks gone from the outline are hard-deleted.
func (r *Resolver) SyncTranslated(ctx context.Context, courseID, baseCourseID string) (*Report, error) {
	report := &Report{CourseID: courseID}

	info, err := r.provider.CourseInfo(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("fetch course info for %s: %w", courseID, err)
	}
	if err := r.ensureCourseLink(ctx, courseID, baseCourseID, info.Language); err != nil {
		return nil, err
	}

	root, err := r.provider.Root(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("fetch outline for %s: %w", courseID, err)
	}

	live := mapset.NewSet[string]()
	ambiguous := r.mapSubtree(root, courseID, baseCourseID, info.Language, live, report)

	if err := r.retireMissingBlocks(courseID, live, true, report); err != nil {
		return nil, err
	}
	return report, ambiguous
}

// mapSubtree maps one node and recurses into its children. An ambiguous
// match stops the descent below that node; the error is recorded and
// propagated so the caller can surface it. The aborted subtree's nodes are
// still marked live: they remain in the outline, the operator resolves the
// collision, so the deletion pass must leave them alone.
func (r *Resolver) mapSubtree(node *outline.Block, courseID, baseCourseID, lang string, live mapset.Set[string], report *Report) error {
	var aborted error
	if r.registry.Tracked(transform.BlockType(node.BlockType)) {
		live.Add(node.ID)
		if err := r.mapNode(node, courseID, baseCourseID, lang, report); err != nil {
			report.addError(node.ID, err)
			if _, ok := err.(*AmbiguousMappingError); ok {
				r.keepLive(node, live)
				return err
			}
			r.logger.Warn("skipping block", "block_id", node.ID, "error", err)
		}
	}
	for _, child := range node.Children {
		if err := r.mapSubtree(child, courseID, baseCourseID, lang, live, report); err != nil {
			aborted = err
		}
	}
	return aborted
}

// keepLive records every tracked node of a subtree as present in the outline
// without mapping it.
func (r *Resolver) keepLive(node *outline.Block, live mapset.Set[string]) {
	for _, n := range outline.Flatten(node) {
		if r.registry.Tracked(transform.BlockType(n.BlockType)) {
			live.Add(n.ID)
		}
	}
}

// mapNode stores the rerun block and resolves each of its data types to a
// base content item.
func (r *Resolver) mapNode(node *outline.Block, courseID, baseCourseID, lang string, report *Report) error {
	block, err := r.ensureBlock(node, courseID, false, report)
	if err != nil {
		return err
	}

	mapped := false
	for _, dataType := range r.registry.Fields(transform.BlockType(node.BlockType)) {
		value, ok := node.Fields[dataType]
		if !ok {
			continue
		}
		item, err := r.findSourceItem(node, baseCourseID, dataType, value)
		if err != nil {
			return err
		}
		if item == nil {
			r.logger.Info("no base content matched", "block_id", node.ID, "data_type", dataType)
			report.Unmapped++
			continue
		}
		if err := r.linkItem(block, item, lang); err != nil {
			return err
		}
		mapped = true
		report.Mapped++
	}

	if mapped && block.Direction != store.DirectionDestination {
		block.Direction = store.DirectionDestination
		if err := r.store.SaveBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// findSourceItem applies the three matching strategies in order, stopping at
// the first that yields candidates. Exactly one candidate wins; more than one
// is an integrity problem the engine refuses to guess about.
func (r *Resolver) findSourceItem(node *outline.Block, baseCourseID, dataType, value string) (*store.ContentItem, error) {
	candidates, err := r.store.ItemsByBlockSuffix(baseCourseID, outline.ReferenceKey(node.ID), dataType)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		parentBase, err := r.mappedBaseParent(node.ParentID)
		if err != nil {
			return nil, err
		}
		if parentBase != "" {
			candidates, err = r.store.ItemsByParentAndValue(baseCourseID, parentBase, dataType, value)
			if err != nil {
				return nil, err
			}
		}
	}

	if len(candidates) == 0 {
		candidates, err = r.store.ItemsByValue(baseCourseID, dataType, value)
		if err != nil {
			return nil, err
		}
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return &candidates[0], nil
	default:
		return nil, &AmbiguousMappingError{BlockID: node.ID, DataType: dataType, Candidates: len(candidates)}
	}
}

// mappedBaseParent returns the block ID of the base block that the rerun
// parent is already linked to, or empty when the parent is unknown/unmapped.
func (r *Resolver) mappedBaseParent(parentID string) (string, error) {
	if parentID == "" {
		return "", nil
	}
	parent, err := r.store.GetBlockByBlockID(parentID)
	if err != nil || parent == nil {
		return "", err
	}
	links, err := r.store.LinksForTargetBlock(parent.ID)
	if err != nil || len(links) == 0 {
		return "", err
	}
	item, err := r.store.GetItem(links[0].SourceItemID)
	if err != nil || item == nil {
		return "", err
	}
	base, err := r.store.GetBlock(item.BlockID)
	if err != nil || base == nil {
		return "", err
	}
	return base.BlockID, nil
}

// linkItem creates the translation link and propagates the mapping onto the
// source side: the rerun language joins the source block's language set and
// the source item is flagged so the next push refreshes service metadata.
func (r *Resolver) linkItem(target *store.ContentBlock, item *store.ContentItem, lang string) error {
	if err := r.store.CreateLink(&store.TranslationLink{
		TargetBlockID: target.ID,
		SourceItemID:  item.ID,
	}); err != nil {
		return err
	}

	source, err := r.store.GetBlock(item.BlockID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("source block %d vanished", item.BlockID)
	}
	if lang != "" && !source.Langs.Contains(lang) {
		source.Langs = source.Langs.Add(lang)
		if err := r.store.SaveBlock(source); err != nil {
			return err
		}
		items, err := r.store.ItemsForBlock(source.ID)
		if err != nil {
			return err
		}
		for i := range items {
			if !items[i].MappingUpdated {
				items[i].MappingUpdated = true
				if err := r.store.SaveItem(&items[i]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ensureBlock creates or refreshes the stored block and items for one live
// node. markDirty enables the base-course behavior: new and drifted items are
// flagged for push and drift cascades a translation reset.
func (r *Resolver) ensureBlock(node *outline.Block, courseID string, markDirty bool, report *Report) (*store.ContentBlock, error) {
	block, err := r.store.GetBlockByBlockID(node.ID)
	if err != nil {
		return nil, err
	}

	if block == nil {
		block = &store.ContentBlock{
			BlockID:   node.ID,
			ParentID:  node.ParentID,
			BlockType: node.BlockType,
			CourseID:  courseID,
			Direction: store.DirectionSource,
		}
		if err := r.store.CreateBlock(block); err != nil {
			return nil, err
		}
		report.Created++
	} else if block.Deleted || block.ParentID != node.ParentID {
		block.Deleted = false
		block.ParentID = node.ParentID
		if err := r.store.SaveBlock(block); err != nil {
			return nil, err
		}
	}

	for _, dataType := range r.registry.Fields(transform.BlockType(node.BlockType)) {
		value, ok := node.Fields[dataType]
		if !ok {
			continue
		}
		if err := r.ensureItem(block, node, dataType, value, markDirty, report); err != nil {
			return nil, err
		}
	}
	return block, nil
}

func (r *Resolver) ensureItem(block *store.ContentBlock, node *outline.Block, dataType, value string, markDirty bool, report *Report) error {
	item, err := r.store.ItemForBlock(block.ID, dataType)
	if err != nil {
		return err
	}

	if item == nil {
		item = &store.ContentItem{
			BlockID:        block.ID,
			DataType:       dataType,
			Data:           value,
			ParsedKeys:     r.parseKeys(node, dataType, value),
			ContentUpdated: markDirty,
		}
		if err := r.store.CreateItem(item); err != nil {
			return err
		}
		return nil
	}

	if item.Data == value {
		return nil
	}

	item.Data = value
	item.ParsedKeys = r.parseKeys(node, dataType, value)
	if markDirty {
		item.ContentUpdated = true
	}
	if err := r.store.SaveItem(item); err != nil {
		return err
	}
	report.Updated++
	if markDirty {
		if err := r.store.ResetTranslations(item.ID); err != nil {
			return err
		}
	}
	return nil
}

// parseKeys decomposes the value when the block type registers a transformer
// for this data type. Content that fails validation stays flat.
func (r *Resolver) parseKeys(node *outline.Block, dataType, value string) store.KeyMap {
	blockType := transform.BlockType(node.BlockType)
	if r.registry.ParsedField(blockType) != dataType {
		return nil
	}
	tr := r.registry.For(blockType)
	if tr == nil {
		return nil
	}
	if err := tr.Validate(value); err != nil {
		r.logger.Warn("content not decomposable", "block_id", node.ID, "data_type", dataType, "error", err)
		return nil
	}
	units, err := tr.Decompose(value)
	if err != nil {
		r.logger.Warn("decompose failed", "block_id", node.ID, "data_type", dataType, "error", err)
		return nil
	}
	return store.KeyMap(units)
}

// retireMissingBlocks removes stored blocks that vanished from the live
// outline: soft-delete on the source side, hard delete for rerun blocks.
func (r *Resolver) retireMissingBlocks(courseID string, live mapset.Set[string], hard bool, report *Report) error {
	blocks, err := r.store.BlocksForCourse(courseID, !hard)
	if err != nil {
		return err
	}
	var removed []string
	for i := range blocks {
		block := &blocks[i]
		if live.Contains(block.BlockID) {
			continue
		}
		if hard {
			if err := r.store.HardDeleteBlock(block.ID); err != nil {
				return err
			}
			removed = append(removed, block.BlockID)
		} else {
			if err := r.store.SoftDeleteBlock(block.ID); err != nil {
				return err
			}
		}
		report.Deleted++
	}
	if len(removed) > 0 {
		if err := r.recordRemovedReruns(courseID, removed); err != nil {
			return err
		}
	}
	return nil
}

// recordRemovedReruns keeps the IDs of hard-deleted rerun blocks on the
// course link so their removal stays traceable after the rows are gone.
func (r *Resolver) recordRemovedReruns(courseID string, removed []string) error {
	link, err := r.store.CourseLinkForCourse(courseID)
	if err != nil || link == nil {
		return err
	}
	if link.Extra == nil {
		link.Extra = store.ExtraMap{}
	}
	if prior, _ := link.Extra[store.ExtraDeletedReruns].(string); prior != "" {
		removed = append(strings.Split(prior, ","), removed...)
	}
	link.Extra[store.ExtraDeletedReruns] = strings.Join(removed, ",")
	return r.store.SaveCourseLink(link)
}

// ensureCourseLink records the rerun relationship if this is the first
// mapping run for the course.
func (r *Resolver) ensureCourseLink(ctx context.Context, courseID, baseCourseID, lang string) error {
	link, err := r.store.CourseLinkForCourse(courseID)
	if err != nil {
		return err
	}
	if link != nil {
		return nil
	}
	extra := store.ExtraMap{store.ExtraCourseLang: lang}
	if info, err := r.provider.CourseInfo(ctx, baseCourseID); err == nil {
		extra[store.ExtraBaseCourseLang] = info.Language
		extra[store.ExtraBaseCourseName] = info.Name
		extra[store.ExtraBaseCourseDesc] = info.Description
	}
	return r.store.CreateCourseLink(&store.CourseLink{
		CourseID:     courseID,
		BaseCourseID: baseCourseID,
		Extra:        extra,
	})
}

// refreshBaseMetadata keeps rerun links carrying current base-course
// metadata so pushes for outdated courses still describe them correctly.
func (r *Resolver) refreshBaseMetadata(ctx context.Context, baseCourseID string) error {
	links, err := r.store.CourseLinksForBase(baseCourseID)
	if err != nil || len(links) == 0 {
		return err
	}
	info, err := r.provider.CourseInfo(ctx, baseCourseID)
	if err != nil {
		return err
	}
	for i := range links {
		link := &links[i]
		if link.Extra == nil {
			link.Extra = store.ExtraMap{}
		}
		link.Extra[store.ExtraBaseCourseLang] = info.Language
		link.Extra[store.ExtraBaseCourseName] = info.Name
		link.Extra[store.ExtraBaseCourseDesc] = info.Description
		if err := r.store.SaveCourseLink(link); err != nil {
			return err
		}
	}
	return nil
}

// ToggleDirection is the explicit operator action flipping a block between
// translation roles. Destination to Source severs the block's links, removes
// the language from each source block's mapped set, and flags the source
// items so the service stops requesting that language.
func (r *Resolver) ToggleDirection(ctx context.Context, blockID string, wantDestination bool, lang string) error {
	block, err := r.store.GetBlockByBlockID(blockID)
	if err != nil {
		return err
	}
	if block == nil {
		return fmt.Errorf("unknown block %s", blockID)
	}

	if wantDestination {
		links, err := r.store.LinksForTargetBlock(block.ID)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return fmt.Errorf("block %s has no mapping, cannot become a translation target", blockID)
		}
		block.Direction = store.DirectionDestination
		return r.store.SaveBlock(block)
	}

	links, err := r.store.LinksForTargetBlock(block.ID)
	if err != nil {
		return err
	}
	for _, link := range links {
		item, err := r.store.GetItem(link.SourceItemID)
		if err != nil || item == nil {
			if err != nil {
				return err
			}
			continue
		}
		source, err := r.store.GetBlock(item.BlockID)
		if err != nil {
			return err
		}
		if source != nil && lang != "" && source.Langs.Contains(lang) {
			source.Langs = source.Langs.Remove(lang)
			if err := r.store.SaveBlock(source); err != nil {
				return err
			}
		}
		if !item.MappingUpdated {
			item.MappingUpdated = true
			if err := r.store.SaveItem(item); err != nil {
				return err
			}
		}
	}
	if err := r.store.DeleteLinksForTargetBlock(block.ID); err != nil {
		return err
	}

	block.Direction = store.DirectionSource
	block.Translated = false
	block.AppliedTranslation = false
	block.AppliedVersionID = nil
	return r.store.SaveBlock(block)
}

// RetireBaseCourse flips every rerun link of a base course to outdated while
// preserving the metadata the push path needs to notify the service.
func (r *Resolver) RetireBaseCourse(ctx context.Context, baseCourseID string) error {
	links, err := r.store.CourseLinksForBase(baseCourseID)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return fmt.Errorf("course %s has no translated reruns", baseCourseID)
	}

	info, infoErr := r.provider.CourseInfo(ctx, baseCourseID)
	for i := range links {
		link := &links[i]
		link.Outdated = true
		if link.Extra == nil {
			link.Extra = store.ExtraMap{}
		}
		if infoErr == nil {
			link.Extra[store.ExtraBaseCourseLang] = info.Language
			link.Extra[store.ExtraBaseCourseName] = info.Name
			link.Extra[store.ExtraBaseCourseDesc] = info.Description
		}
		if err := r.store.SaveCourseLink(link); err != nil {
			return err
		}
	}
	return nil
}
