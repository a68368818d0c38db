// Package core provides the business logic for tabular import and export jobs.
//
// The package contains all domain logic independent of any UI, transport or
// storage technology. Persistence, file storage, file formats and background
// execution are consumed through the interfaces in interfaces.go, so the same
// Service runs behind the HTTP API, the CLI and the tests.
//
// # Architecture
//
//   - Resource Definitions: registered via the registry, each resource has field
//     specs, identity fields, validation rules and export filters.
//   - BatchProcessor: applies a Dataset to the EntityStore (import) or renders
//     entities into a Dataset (export), honoring an ImportPolicy.
//   - ProgressReporter: throttles progress publishes to every N units plus the
//     final one.
//   - RelationCodec: flattens a many-to-many relation with extra attributes
//     into one delimited cell and back.
//   - Service: the job factory and the job verbs (confirm, cancel, progress).
//
// # Resource Registry
//
// Resources are registered at init time using [Register]:
//
//	core.Register(ResourceDefinition{
//	    Info: ResourceInfo{Key: "instruments", Label: "Instruments"},
//	    Fields: []FieldSpec{
//	        {Name: "Title", Type: FieldText, Required: true},
//	    },
//	    IdentityFields: []string{"title"},
//	})
//
// # Job Lifecycle
//
// An import job moves CREATED, PARSING, PARSED, CONFIRMED, IMPORTING,
// IMPORTED; the parse phase can end in INPUT_ERROR or PARSE_ERROR and the
// import phase in IMPORT_ERROR. Export jobs move CREATED, EXPORTING,
// EXPORTED or EXPORT_ERROR. Either can be CANCELLED while unfinished.
//
// Every phase is persisted with its new task id before the task is submitted
// to the [TaskRunner], and every status write is conditional on the status it
// expects to replace.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - JOB001-JOB003: Job errors (not found, wrong status, conflict)
//   - IMP001-IMP005: Import errors (row ceiling, columns, aborted batch, busy uploads)
//   - EXP001: Export errors (invalid filter or ordering)
//   - FMT001-FMT005: Format errors (unsupported, malformed, empty)
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
package core
