// Package emergency implements the operator's kill switch and override
// authority. Every operator-gated call returns a Result; authorization
// failures are ordinary results, and the error return is reserved for audit
// and state-store failures.
package emergency

import (
	"fmt"
	"strings"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

// Result is the outcome of an operator-gated call.
type Result struct {
	Success  bool                       `json:"success"`
	Message  string                     `json:"message"`
	Override *contracts.OverrideRecord  `json:"override,omitempty"`
	State    *contracts.KillSwitchState `json:"state,omitempty"`
}

// Unauthorized reports whether r is an authorization rejection.
func (r Result) Unauthorized() bool {
	return !r.Success && strings.HasPrefix(r.Message, unauthorizedPrefix)
}

const unauthorizedPrefix = "UNAUTHORIZED"

func unauthorized(operatorID, action string) Result {
	return Result{Message: fmt.Sprintf("%s: %q may not %s", unauthorizedPrefix, operatorID, action)}
}

func rejected(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}
