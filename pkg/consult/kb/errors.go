package kb

import (
	"fmt"
	"strings"

	"github.com/cognicore/consult/pkg/consult/internalerr"
)

// LoadError reports a knowledge base document that could not be read or
// parsed. Callers degrade to an empty knowledge base.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load knowledge base: %v", e.Err)
	}
	return fmt.Sprintf("load knowledge base %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Issue is one validation problem, located by a dotted document path such
// as "rules.3.if.fever".
type Issue struct {
	Path string
	Msg  string
}

func (i Issue) String() string {
	return i.Path + ": " + i.Msg
}

// ValidationError collects every problem found in a knowledge base.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("knowledge base has %d validation issue(s): %s", len(e.Issues), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return internalerr.ErrInvalidInput }
