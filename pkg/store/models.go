// Package store persists translation mapping state: content blocks and their
// translatable items, links from translated blocks to source items, approved
// version snapshots, course linkage, and sync-run bookkeeping.
package store

import "time"

// Direction of a content block relative to translation flow.
const (
	DirectionSource      = "S"
	DirectionDestination = "D"
)

// Extra-metadata keys used by the engine.
const (
	ExtraMetaPageTitle  = "meta_page_title"
	ExtraCourseLang     = "course_language"
	ExtraBaseCourseLang = "base_course_language"
	ExtraBaseCourseName = "base_course_name"
	ExtraBaseCourseDesc = "base_course_description"
	ExtraDeletedReruns  = "deleted_reruns"
)

// ContentBlock is one node of course content. Block IDs are globally unique.
// Source blocks are only ever soft-deleted; destination blocks may be removed
// outright when they disappear from the live outline.
type ContentBlock struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement"`
	BlockID            string     `gorm:"column:block_id;uniqueIndex;not null"`
	ParentID           string     `gorm:"column:parent_id;index"`
	BlockType          string     `gorm:"column:block_type;not null"`
	CourseID           string     `gorm:"column:course_id;index;not null"`
	Direction          string     `gorm:"column:direction;not null;default:S"`
	Langs              StringList `gorm:"column:langs;type:text"`
	AppliedTranslation bool       `gorm:"column:applied_translation;not null;default:false"`
	AppliedVersionID   *uint      `gorm:"column:applied_version_id"`
	Translated         bool       `gorm:"column:translated;not null;default:false"`
	Deleted            bool       `gorm:"column:deleted;not null;default:false"`
	Extra              ExtraMap   `gorm:"column:extra;type:text"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

func (ContentBlock) TableName() string { return "content_blocks" }

// ContentItem is one translatable field of a block. ParsedKeys is nil for
// data types that do not decompose.
type ContentItem struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	BlockID        uint      `gorm:"column:block_id;uniqueIndex:idx_item_block_type;not null"`
	DataType       string    `gorm:"column:data_type;uniqueIndex:idx_item_block_type;not null"`
	Data           string    `gorm:"column:data;type:text"`
	ParsedKeys     KeyMap    `gorm:"column:parsed_keys;type:text"`
	ContentUpdated bool      `gorm:"column:content_updated;not null;default:false"`
	MappingUpdated bool      `gorm:"column:mapping_updated;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (ContentItem) TableName() string { return "content_items" }

// TranslationLink maps one destination block to one source content item.
// Translation holds flat text, or JSON object text mirroring the source
// item's parsed keys.
type TranslationLink struct {
	ID               uint        `gorm:"primaryKey;autoIncrement"`
	TargetBlockID    uint        `gorm:"column:target_block_id;uniqueIndex:idx_link_target_source;not null"`
	SourceItemID     uint        `gorm:"column:source_item_id;uniqueIndex:idx_link_target_source;not null"`
	Translation      *string     `gorm:"column:translation;type:text"`
	Approved         bool        `gorm:"column:approved;not null;default:false"`
	ApprovedBy       string      `gorm:"column:approved_by"`
	LastFetched      *time.Time  `gorm:"column:last_fetched"`
	FetchedRevisions RevisionMap `gorm:"column:fetched_revisions;type:text"`
	CreatedAt        time.Time   `gorm:"column:created_at"`
	UpdatedAt        time.Time   `gorm:"column:updated_at"`
}

func (TranslationLink) TableName() string { return "translation_links" }

// TranslationVersion is an immutable snapshot of a destination block's
// translations at one approval moment. Never updated, never deleted except
// by a cascade reset of the block.
type TranslationVersion struct {
	ID         uint        `gorm:"primaryKey;autoIncrement"`
	BlockID    string      `gorm:"column:block_id;uniqueIndex:idx_version_block_date;not null"`
	CreatedAt  time.Time   `gorm:"column:created_at;uniqueIndex:idx_version_block_date"`
	Data       SnapshotMap `gorm:"column:data;type:text"`
	ApprovedBy string      `gorm:"column:approved_by"`
}

func (TranslationVersion) TableName() string { return "translation_versions" }

// CourseLink records that CourseID is a translated rerun of BaseCourseID.
// When a base course is retired the link is flipped to Outdated, preserving
// enough metadata in Extra to keep informing the external service.
type CourseLink struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	CourseID     string    `gorm:"column:course_id;uniqueIndex:idx_course_base;not null"`
	BaseCourseID string    `gorm:"column:base_course_id;uniqueIndex:idx_course_base;index;not null"`
	Outdated     bool      `gorm:"column:outdated;not null;default:false"`
	Extra        ExtraMap  `gorm:"column:extra;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (CourseLink) TableName() string { return "course_links" }

// Sync-run kinds.
const (
	RunKindMap  = "map"
	RunKindPush = "push"
	RunKindPull = "pull"
)

// SyncRun records one batch-job execution for the status surface.
type SyncRun struct {
	ID         string     `gorm:"column:id;primaryKey"`
	Kind       string     `gorm:"column:kind;index;not null"`
	StartedAt  time.Time  `gorm:"column:started_at;not null"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	Succeeded  int        `gorm:"column:succeeded;not null;default:0"`
	Failed     int        `gorm:"column:failed;not null;default:0"`
}

func (SyncRun) TableName() string { return "sync_runs" }
