package mapping

// BlockError is one per-block failure collected during a mapping run.
type BlockError struct {
	BlockID string `json:"block_id"`
	Err     string `json:"error"`
}

// Report summarizes what a mapping run did, or would do in dry-run mode.
type Report struct {
	CourseID string       `json:"course_id"`
	Created  int          `json:"created"`
	Updated  int          `json:"updated"`
	Deleted  int          `json:"deleted"`
	Mapped   int          `json:"mapped"`
	Unmapped int          `json:"unmapped"`
	Errors   []BlockError `json:"errors,omitempty"`
}

func (r *Report) addError(blockID string, err error) {
	r.Errors = append(r.Errors, BlockError{BlockID: blockID, Err: err.Error()})
}
