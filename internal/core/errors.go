package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrWrongStatus       = errors.New("incorrect status")
	ErrStatusConflict    = errors.New("status changed concurrently")
	ErrTooManyRows       = errors.New("too many rows")
	ErrMissingColumns    = errors.New("missing required columns")
	ErrUnknownResource   = errors.New("unknown resource")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrInvalidQuery      = errors.New("invalid filter or ordering")
	ErrBatchAborted      = errors.New("batch aborted")
	ErrTooManyUploads    = errors.New("too many concurrent uploads, please try again later")
)

// StatusError rejects a verb called on a job in the wrong status.
type StatusError struct {
	Kind     string // ImportJob or ExportJob
	ID       string
	Actual   string
	Expected []string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s with id %s has incorrect status: `%s`. Expected statuses: [%s]",
		e.Kind, e.ID, e.Actual, strings.Join(e.Expected, ", "))
}

func (e *StatusError) Unwrap() error { return ErrWrongStatus }

// TooManyRowsError is the row ceiling violation of one dataset.
type TooManyRowsError struct {
	Rows int
	Max  int
}

func (e *TooManyRowsError) Error() string {
	return fmt.Sprintf("Too many rows `%d`(Max: %d). Input file may be broken. "+
		"Please check it or split it into smaller files.", e.Rows, e.Max)
}

func (e *TooManyRowsError) Unwrap() error { return ErrTooManyRows }

// truncateMessage shortens s to at most limit runes.
func truncateMessage(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// UnsupportedFormatError names a file extension no format handles.
type UnsupportedFormatError struct {
	Ext       string
	Supported []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("Incorrect import format: %s. Supported formats: %s",
		e.Ext, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }
