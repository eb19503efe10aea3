package formflow

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeSchema             = "FORMFLOW_SCHEMA_INVALID"
	ErrCodeValidationFailed   = "FORMFLOW_VALIDATION_FAILED"
	ErrCodeTransitionFailed   = "FORMFLOW_TRANSITION_FAILED"
	ErrCodeConflict           = "FORMFLOW_VERSION_CONFLICT"
	ErrCodeStorage            = "FORMFLOW_STORAGE_FAILED"
	ErrCodeNotFound           = "FORMFLOW_NOT_FOUND"
	ErrCodePreconditionFailed = "FORMFLOW_PRECONDITION_FAILED"
)

var (
	ErrSchema = apperrors.New("schema invalid", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeSchema)
	ErrValidationFailed = apperrors.New("validation failed", apperrors.CategoryValidation).
				WithTextCode(ErrCodeValidationFailed)
	ErrTransitionFailed = apperrors.New("transition failed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeTransitionFailed)
	ErrConflict = apperrors.New("version conflict", apperrors.CategoryConflict).
			WithTextCode(ErrCodeConflict)
	ErrStorage = apperrors.New("storage failure", apperrors.CategoryExternal).
			WithTextCode(ErrCodeStorage)
	ErrNotFound = apperrors.New("not found", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeNotFound)
	ErrPreconditionFailed = apperrors.New("precondition failed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodePreconditionFailed)
)

// CloneError derives a new error from one of the package sentinels.
// The structured detail of the failure travels as the error source.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrPreconditionFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code carried by err, or "" for foreign errors.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, code string) bool {
	return code != "" && ErrorCode(err) == code
}

// SourceOf returns the structured source attached by CloneError.
func SourceOf(err error) error {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.Source
	}
	return nil
}
