package sync

// UnitError is one per-unit failure collected during a sync run. Failed
// units are retried by the next scheduled run.
type UnitError struct {
	BlockID  string `json:"block_id"`
	Language string `json:"language,omitempty"`
	DataType string `json:"data_type,omitempty"`
	Err      string `json:"error"`
}

// PushReport summarizes a push run.
type PushReport struct {
	Blocks  int         `json:"blocks"`
	Pushed  int         `json:"pushed"`
	Skipped int         `json:"skipped"`
	Errors  []UnitError `json:"errors,omitempty"`
}

// PullReport summarizes a pull run.
type PullReport struct {
	Groups      int         `json:"groups"`
	Fetched     int         `json:"fetched"`
	UpdatedKeys int         `json:"updated_keys"`
	Errors      []UnitError `json:"errors,omitempty"`
}
