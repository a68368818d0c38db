package core

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ImportStatus is the lifecycle state of an ImportJob.
type ImportStatus string

const (
	ImportCreated     ImportStatus = "CREATED"
	ImportParsing     ImportStatus = "PARSING"
	ImportParsed      ImportStatus = "PARSED"
	ImportInputError  ImportStatus = "INPUT_ERROR"
	ImportParseError  ImportStatus = "PARSE_ERROR"
	ImportConfirmed   ImportStatus = "CONFIRMED"
	ImportImporting   ImportStatus = "IMPORTING"
	ImportImported    ImportStatus = "IMPORTED"
	ImportImportError ImportStatus = "IMPORT_ERROR"
	ImportCancelled   ImportStatus = "CANCELLED"
)

// ExportStatus is the lifecycle state of an ExportJob.
type ExportStatus string

const (
	ExportCreated   ExportStatus = "CREATED"
	ExportExporting ExportStatus = "EXPORTING"
	ExportExported  ExportStatus = "EXPORTED"
	ExportError     ExportStatus = "EXPORT_ERROR"
	ExportCancelled ExportStatus = "CANCELLED"
)

var (
	importConfirmable = mapset.NewSet(ImportParsed)
	importCancellable = mapset.NewSet(ImportCreated, ImportParsing, ImportConfirmed, ImportImporting)
	importInFlight    = mapset.NewSet(ImportParsing, ImportImporting)
	exportCancellable = mapset.NewSet(ExportCreated, ExportExporting)
	exportInFlight    = mapset.NewSet(ExportExporting)
)

// ImportJob tracks one import from upload to terminal status.
type ImportJob struct {
	ID       string       `json:"id"`
	Status   ImportStatus `json:"status"`
	Resource ResourceRef  `json:"resource"`
	DataFile string       `json:"data_file"`
	Format   string       `json:"format"`

	SkipParseStep bool `json:"skip_parse_step"`
	ForceImport   bool `json:"force_import"`

	ParseTaskID  string `json:"parse_task_id,omitempty"`
	ImportTaskID string `json:"import_task_id,omitempty"`

	Result       *BatchResult `json:"result,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Traceback    string       `json:"traceback,omitempty"`

	CreatedBy        string     `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ParseStartedAt   *time.Time `json:"parse_started_at,omitempty"`
	ParseFinishedAt  *time.Time `json:"parse_finished_at,omitempty"`
	ImportStartedAt  *time.Time `json:"import_started_at,omitempty"`
	ImportFinishedAt *time.Time `json:"import_finished_at,omitempty"`
}

// ActiveTaskID returns the task id of the phase the job is in, or "".
func (j *ImportJob) ActiveTaskID() string {
	switch j.Status {
	case ImportParsing:
		return j.ParseTaskID
	case ImportConfirmed, ImportImporting:
		return j.ImportTaskID
	}
	return ""
}

// Terminal reports whether the job can no longer change.
func (j *ImportJob) Terminal() bool {
	switch j.Status {
	case ImportInputError, ImportParseError, ImportImported, ImportImportError, ImportCancelled:
		return true
	}
	return false
}

// ExportJob tracks one export from request to terminal status.
type ExportJob struct {
	ID         string       `json:"id"`
	Status     ExportStatus `json:"status"`
	Resource   ResourceRef  `json:"resource"`
	Format     string       `json:"format"`
	Ordering   []string     `json:"ordering,omitempty"`
	OutputFile string       `json:"output_file,omitempty"`

	ExportTaskID string `json:"export_task_id,omitempty"`

	Result       *ExportSummary `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Traceback    string         `json:"traceback,omitempty"`

	CreatedBy        string     `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExportStartedAt  *time.Time `json:"export_started_at,omitempty"`
	ExportFinishedAt *time.Time `json:"export_finished_at,omitempty"`
}

// ActiveTaskID returns the export task id while the job is running.
func (j *ExportJob) ActiveTaskID() string {
	if j.Status == ExportExporting {
		return j.ExportTaskID
	}
	return ""
}

// Terminal reports whether the job can no longer change.
func (j *ExportJob) Terminal() bool {
	switch j.Status {
	case ExportExported, ExportError, ExportCancelled:
		return true
	}
	return false
}

func importStatusError(j *ImportJob, allowed mapset.Set[ImportStatus]) *StatusError {
	return &StatusError{Kind: "ImportJob", ID: j.ID, Actual: string(j.Status), Expected: sortedStatuses(allowed)}
}

func exportStatusError(j *ExportJob, allowed mapset.Set[ExportStatus]) *StatusError {
	return &StatusError{Kind: "ExportJob", ID: j.ID, Actual: string(j.Status), Expected: sortedStatuses(allowed)}
}

// statusOrder lists statuses in lifecycle order for error messages.
var statusOrder = map[string]int{
	"CREATED": 0, "PARSING": 1, "PARSED": 2, "INPUT_ERROR": 3, "PARSE_ERROR": 4,
	"CONFIRMED": 5, "IMPORTING": 6, "IMPORTED": 7, "IMPORT_ERROR": 8,
	"EXPORTING": 9, "EXPORTED": 10, "EXPORT_ERROR": 11, "CANCELLED": 12,
}

func sortedStatuses[S ~string](set mapset.Set[S]) []string {
	out := make([]string, 0, set.Cardinality())
	for _, s := range set.ToSlice() {
		out = append(out, string(s))
	}
	sort.Slice(out, func(i, j int) bool {
		return statusOrder[out[i]] < statusOrder[out[j]]
	})
	return out
}
