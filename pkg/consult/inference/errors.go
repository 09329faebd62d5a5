package inference

import (
	"fmt"

	"github.com/cognicore/consult/pkg/consult/internalerr"
)

// ProtocolError reports a SubmitFact call the session cannot accept. The
// session state is left unchanged.
type ProtocolError struct {
	Fact    string
	State   State
	Pending string
	Reason  string
}

func (e *ProtocolError) Error() string {
	if e.Pending != "" {
		return fmt.Sprintf("submit %q while awaiting %q: %s", e.Fact, e.Pending, e.Reason)
	}
	return fmt.Sprintf("submit %q in state %s: %s", e.Fact, e.State, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return internalerr.ErrProtocol }
