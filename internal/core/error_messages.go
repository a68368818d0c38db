// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Known core errors are matched first by identity (errors.Is), then any
// remaining error is matched by message pattern.
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Job not found
//	         Action: Check the job id or list jobs to find it
//	         Sentinel: ErrNotFound
//
//	JOB002 - Wrong status: the job cannot do that in its current status
//	         Action: Reload the job; create a new job to retry
//	         Sentinel: ErrWrongStatus (the StatusError text is shown as is)
//
//	JOB003 - Conflict: the job changed while the request was handled
//	         Action: Reload the job and try again
//	         Sentinel: ErrStatusConflict
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Too many rows
//	         Action: Split the file into smaller files
//	         Sentinel: ErrTooManyRows
//
//	IMP002 - Missing columns
//	         Action: Add the required columns to the header row
//	         Sentinel: ErrMissingColumns
//
//	IMP003 - Batch aborted on the first failed row
//	         Action: Fix the row or import with force_import
//	         Sentinel: ErrBatchAborted
//
//	IMP004 - Unknown resource
//	         Action: List resources for the valid names
//	         Sentinel: ErrUnknownResource
//
//	IMP005 - Upload slots exhausted
//	         Action: Retry after a short delay
//	         Sentinel: ErrTooManyUploads
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Invalid filter or ordering
//	         Action: Filter and order by declared columns only
//	         Sentinel: ErrInvalidQuery
//
// # Format Errors (FMT001-FMT099)
//
//	FMT001 - Unsupported format
//	         Sentinel: ErrUnsupportedFormat
//
//	FMT002 - Malformed file
//	         Patterns: "parse csv", "parse tsv", "parse json", "parse yaml", "parse xlsx"
//
//	FMT003 - Empty file
//	         Patterns: "empty file"
//
//	FMT004 - No file
//	         Patterns: "no file provided"
//
//	FMT005 - File too large
//	         Patterns: "file too large", "request body too large"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB002 - Unique constraint      Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key            Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//	DB006 - Timeout                Patterns: "timeout"
//	DB007 - Deadlock               Patterns: "deadlock"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check application logs
// for the original technical error when users report ERR000.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorKind maps a core sentinel to its user message. passThrough errors
// already carry a message fit for users and show it instead of Message.
type errorKind struct {
	target      error
	msg         UserMessage
	passThrough bool
}

var errorKinds = []errorKind{
	{target: ErrNotFound, msg: UserMessage{
		Message: "Job not found",
		Action:  "Check the job id or list jobs to find it",
		Code:    "JOB001",
	}},
	{target: ErrWrongStatus, passThrough: true, msg: UserMessage{
		Message: "The job cannot do that in its current status",
		Action:  "Reload the job; create a new job to retry",
		Code:    "JOB002",
	}},
	{target: ErrStatusConflict, msg: UserMessage{
		Message: "The job changed while the request was handled",
		Action:  "Reload the job and try again",
		Code:    "JOB003",
	}},
	{target: ErrTooManyRows, passThrough: true, msg: UserMessage{
		Message: "Too many rows",
		Action:  "Split the file into smaller files",
		Code:    "IMP001",
	}},
	{target: ErrMissingColumns, passThrough: true, msg: UserMessage{
		Message: "Required columns are missing",
		Action:  "Add the required columns to the header row",
		Code:    "IMP002",
	}},
	{target: ErrBatchAborted, passThrough: true, msg: UserMessage{
		Message: "The import stopped at the first failed row",
		Action:  "Fix the row or import with force_import",
		Code:    "IMP003",
	}},
	{target: ErrUnknownResource, passThrough: true, msg: UserMessage{
		Message: "Unknown resource",
		Action:  "List resources for the valid names",
		Code:    "IMP004",
	}},
	{target: ErrTooManyUploads, msg: UserMessage{
		Message: "The server is busy storing other uploads",
		Action:  "Retry after a short delay",
		Code:    "IMP005",
	}},
	{target: ErrInvalidQuery, passThrough: true, msg: UserMessage{
		Message: "Invalid filter or ordering",
		Action:  "Filter and order by declared columns only",
		Code:    "EXP001",
	}},
	{target: ErrUnsupportedFormat, passThrough: true, msg: UserMessage{
		Message: "Unsupported file format",
		Action:  "Use one of the supported formats",
		Code:    "FMT001",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Format Errors (FMT002-FMT005)
	// =========================================================================
	{pattern: "parse csv", msg: malformedFile},
	{pattern: "parse tsv", msg: malformedFile},
	{pattern: "parse json", msg: malformedFile},
	{pattern: "parse yaml", msg: malformedFile},
	{pattern: "parse xlsx", msg: malformedFile},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Upload a file with a header row and data rows",
			Code:    "FMT003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to import",
			Code:    "FMT004",
		},
	},
	{
		pattern: "file too large",
		msg:     fileTooLarge,
	},
	{
		pattern: "request body too large",
		msg:     fileTooLarge,
	},

	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Check the identity columns for duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg:     missingReference,
	},
	{
		pattern: "violates foreign key",
		msg:     missingReference,
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
}

var (
	malformedFile = UserMessage{
		Message: "The file could not be read",
		Action:  "Check that the file matches its extension and is UTF-8",
		Code:    "FMT002",
	}
	fileTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller files",
		Code:    "FMT005",
	}
	missingReference = UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Import the referenced records first",
		Code:    "DB003",
	}
)

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Core sentinels are matched first; errors whose own text is meant for
// users (status errors, row ceiling, unsupported format) keep that text.
// If nothing matches, a generic fallback with code ERR000 is returned.
//
// Example:
//
//	msg := MapError(err) // err wraps ErrNotFound
//	// msg.Code == "JOB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			msg := k.msg
			if k.passThrough {
				msg.Message = err.Error()
			}
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
