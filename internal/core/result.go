package core

// ImportType is the outcome kind of one imported row.
type ImportType string

const (
	ImportTypeNew     ImportType = "new"
	ImportTypeUpdate  ImportType = "update"
	ImportTypeDelete  ImportType = "delete"
	ImportTypeSkip    ImportType = "skip"
	ImportTypeError   ImportType = "error"
	ImportTypeInvalid ImportType = "invalid"
)

// BatchState tracks one processor run.
type BatchState string

const (
	BatchPending    BatchState = "pending"
	BatchProcessing BatchState = "processing"
	BatchCompleted  BatchState = "completed"
	BatchAborted    BatchState = "aborted"
)

// RowError is a non-field error attached to a row or to the whole batch.
type RowError struct {
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// RowOutcome is the result of importing one input row.
type RowOutcome struct {
	Number     int        `json:"number"` // 1-based data row number
	ImportType ImportType `json:"import_type"`
	ObjectID   string     `json:"object_id,omitempty"`
	RowValues  []string   `json:"row_values,omitempty"`
	DiffBefore []string   `json:"diff_before,omitempty"`
	DiffAfter  []string   `json:"diff_after,omitempty"`

	Errors           []RowError          `json:"errors,omitempty"`
	ValidationErrors map[string][]string `json:"validation_errors,omitempty"`

	SkippedNonFieldErrors []RowError          `json:"non_field_skipped_errors,omitempty"`
	SkippedFieldErrors    map[string][]string `json:"field_skipped_errors,omitempty"`
}

// Failed reports whether the row carries live errors.
func (r *RowOutcome) Failed() bool {
	return r.ImportType == ImportTypeError || r.ImportType == ImportTypeInvalid
}

// demote turns a failed row into a skip, moving its errors to the skipped
// fields and replacing the diff with the raw input.
func (r *RowOutcome) demote() {
	if !r.Failed() {
		return
	}
	r.SkippedNonFieldErrors = append(r.SkippedNonFieldErrors, r.Errors...)
	if len(r.ValidationErrors) > 0 {
		if r.SkippedFieldErrors == nil {
			r.SkippedFieldErrors = make(map[string][]string, len(r.ValidationErrors))
		}
		for field, msgs := range r.ValidationErrors {
			r.SkippedFieldErrors[field] = append(r.SkippedFieldErrors[field], msgs...)
		}
	}
	r.Errors = nil
	r.ValidationErrors = nil
	r.DiffBefore = nil
	r.DiffAfter = append([]string(nil), r.RowValues...)
	r.ImportType = ImportTypeSkip
}

// BatchResult aggregates the outcomes of one import run.
type BatchResult struct {
	State      BatchState         `json:"state"`
	Totals     map[ImportType]int `json:"totals"`
	TotalRows  int                `json:"total_rows"`
	Headers    []string           `json:"headers,omitempty"`
	Rows       []RowOutcome       `json:"rows,omitempty"`
	BaseErrors []RowError         `json:"base_errors,omitempty"`

	rowCap int
}

// NewBatchResult returns an empty result keeping at most rowCap row
// outcomes. A rowCap of zero or less keeps every row.
func NewBatchResult(headers []string, rowCap int) *BatchResult {
	return &BatchResult{
		State:   BatchPending,
		Totals:  make(map[ImportType]int),
		Headers: headers,
		rowCap:  rowCap,
	}
}

// AddRow counts the outcome and retains it while under the row cap.
func (b *BatchResult) AddRow(row RowOutcome) {
	b.Totals[row.ImportType]++
	b.TotalRows++
	if b.rowCap > 0 && len(b.Rows) >= b.rowCap {
		return
	}
	b.Rows = append(b.Rows, row)
}

// AddBaseError records an error not tied to one row.
func (b *BatchResult) AddBaseError(err RowError) {
	b.BaseErrors = append(b.BaseErrors, err)
}

// HasErrors reports base errors or rows with non-field errors.
func (b *BatchResult) HasErrors() bool {
	return len(b.BaseErrors) > 0 || b.Totals[ImportTypeError] > 0
}

// HasValidationErrors reports rows that failed field validation.
func (b *BatchResult) HasValidationErrors() bool {
	return b.Totals[ImportTypeInvalid] > 0
}

// Truncated reports whether row outcomes were dropped by the cap.
func (b *BatchResult) Truncated() bool {
	return len(b.Rows) < b.TotalRows
}

// ExportSummary is the result of one export run.
type ExportSummary struct {
	State     BatchState `json:"state"`
	TotalRows int        `json:"total_rows"`
	Headers   []string   `json:"headers,omitempty"`
}
