package formflow

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// SchemaIssueCode identifies a publish-time definition problem.
type SchemaIssueCode string

const (
	IssueDuplicateFieldName           SchemaIssueCode = "duplicate_field_name"
	IssueDanglingWorkflowReference    SchemaIssueCode = "dangling_workflow_reference"
	IssueUnreachablePhase             SchemaIssueCode = "unreachable_phase"
	IssueInvalidTerminalTransition    SchemaIssueCode = "invalid_terminal_transition"
	IssueInvalidIdentifier            SchemaIssueCode = "invalid_identifier"
	IssueUnknownFieldType             SchemaIssueCode = "unknown_field_type"
	IssueInvalidConstraint            SchemaIssueCode = "invalid_constraint"
	IssueDuplicatePhase               SchemaIssueCode = "duplicate_phase"
	IssueUnknownPhase                 SchemaIssueCode = "unknown_phase"
	IssueMissingInitialPhase          SchemaIssueCode = "missing_initial_phase"
	IssueMissingTerminalPhase         SchemaIssueCode = "missing_terminal_phase"
	IssueDuplicateTransition          SchemaIssueCode = "duplicate_transition"
	IssueDuplicateEdge                SchemaIssueCode = "duplicate_edge"
	IssueVersionNotIncreasing         SchemaIssueCode = "version_not_increasing"
	IssueUnknownGuardField            SchemaIssueCode = "unknown_guard_field"
	IssueDanglingApplicationReference SchemaIssueCode = "dangling_application_reference"
)

// SchemaIssue is one problem found while publishing a Form, Workflow or Application.
type SchemaIssue struct {
	Code    SchemaIssueCode `json:"code"`
	Subject string          `json:"subject"`
	Path    string          `json:"path,omitempty"`
	Message string          `json:"message"`
}

func (i SchemaIssue) Error() string {
	if i.Path == "" {
		return fmt.Sprintf("%s: %s: %s", i.Subject, i.Code, i.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", i.Subject, i.Path, i.Code, i.Message)
}

// SchemaIssues aggregates every issue found in one publish attempt.
type SchemaIssues []SchemaIssue

func (s SchemaIssues) Error() string {
	if len(s) == 0 {
		return "no schema issues"
	}
	parts := make([]string, 0, len(s))
	for _, issue := range s {
		parts = append(parts, issue.Error())
	}
	return strings.Join(parts, "; ")
}

// Has reports whether any issue carries code.
func (s SchemaIssues) Has(code SchemaIssueCode) bool {
	for _, issue := range s {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// Err wraps non-empty issues into an ErrSchema error.
func (s SchemaIssues) Err(subject string) error {
	if len(s) == 0 {
		return nil
	}
	return CloneError(ErrSchema, fmt.Sprintf("%s: %d schema issue(s)", subject, len(s)), s, map[string]any{
		"subject": subject,
		"issues":  len(s),
	})
}

// SchemaIssuesOf extracts the issues from an error returned by a publish operation.
func SchemaIssuesOf(err error) SchemaIssues {
	if err == nil {
		return nil
	}
	var issues SchemaIssues
	if stderrors.As(err, &issues) {
		return issues
	}
	if src, ok := SourceOf(err).(SchemaIssues); ok {
		return src
	}
	return nil
}
