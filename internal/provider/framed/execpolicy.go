// Execution-policy mapping (spec §4.6.9): translates the supervisor's
// symbolic PermissionMode into the two concrete policy knobs the
// subprocess accepts on its startSessionTool/continueSessionTool calls.
package framed

import "github.com/sessiond/sessiond/pkg/types"

type executionPolicy struct {
	ApprovalPolicy string
	SandboxPolicy  string
}

func executionPolicyFor(mode types.PermissionMode) executionPolicy {
	switch mode {
	case types.PermissionBypass:
		return executionPolicy{ApprovalPolicy: "never", SandboxPolicy: "full-access"}
	case types.PermissionAccept:
		return executionPolicy{ApprovalPolicy: "on-request", SandboxPolicy: "workspace-write"}
	case types.PermissionPlan:
		return executionPolicy{ApprovalPolicy: "untrusted", SandboxPolicy: "read-only"}
	default:
		return executionPolicy{ApprovalPolicy: "untrusted", SandboxPolicy: "workspace-write"}
	}
}
