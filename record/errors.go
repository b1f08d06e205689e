/*
errors.go - Error taxonomy for record intake

PURPOSE:
  All error types in one place. Adapters wrap their failures in StoreError
  or BlobError so callers can classify them with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation - missing or invalid field, nothing was written
  2. Store      - table read/append failed, no retry
  3. Blob       - attachment upload failed, allocated ID is burned
  4. Auth       - wrong privileged-access secret

PARTIAL FAILURE:
  Nothing is rolled back. An append failure after a successful upload leaves
  an orphaned blob; an upload failure leaves a gap in the serial sequence.

SEE ALSO:
  - submit.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package record

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a submission is missing required fields
	// or carries values outside a field's choices.
	ErrValidation = errors.New("validation failed")

	// ErrStore is returned when the tabular store cannot be read or appended to.
	ErrStore = errors.New("store operation failed")

	// ErrBlob is returned when an attachment cannot be uploaded.
	ErrBlob = errors.New("attachment upload failed")

	// ErrAccessDenied is returned when the privileged-access secret is wrong.
	ErrAccessDenied = errors.New("access denied")

	// ErrDuplicateRecordID is returned by conditional appends when the
	// candidate identifier is already present in the table.
	ErrDuplicateRecordID = errors.New("duplicate record id")

	// ErrAttachmentExists is returned by conditional uploads when an object
	// already exists under the attachment name.
	ErrAttachmentExists = errors.New("attachment name already taken")

	// ErrTableNotFound is returned when a store key names no table.
	ErrTableNotFound = errors.New("table not found")

	// ErrUnknownType is returned when a record type name cannot be resolved.
	ErrUnknownType = errors.New("unknown record type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Type    string
	Missing []string          // required fields left blank
	Invalid map[string]string // field -> rejected value
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for k := range e.Invalid {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		bad := make([]string, len(keys))
		for i, k := range keys {
			bad[i] = fmt.Sprintf("%s=%q", k, e.Invalid[k])
		}
		parts = append(parts, "invalid "+strings.Join(bad, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Type, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// StoreError wraps a failure from the tabular store.
type StoreError struct {
	Op  string // "fetch" or "append"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

// Is lets StoreError match ErrStore as well as its cause.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// BlobError wraps a failure from the blob store.
type BlobError struct {
	Name string
	Err  error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Name, e.Err)
}

func (e *BlobError) Is(target error) bool {
	return target == ErrBlob
}

func (e *BlobError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrAccessDenied)
}

// IsRetryable returns true if resubmitting might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDuplicateRecordID) || errors.Is(err, ErrAttachmentExists)
}
