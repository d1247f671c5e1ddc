package framed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sessiond/sessiond/pkg/types"
)

func TestExecutionPolicyFor(t *testing.T) {
	cases := []struct {
		mode types.PermissionMode
		want executionPolicy
	}{
		{types.PermissionDefault, executionPolicy{"untrusted", "workspace-write"}},
		{types.PermissionBypass, executionPolicy{"never", "full-access"}},
		{types.PermissionAccept, executionPolicy{"on-request", "workspace-write"}},
		{types.PermissionPlan, executionPolicy{"untrusted", "read-only"}},
		{types.PermissionMode(""), executionPolicy{"untrusted", "workspace-write"}},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, executionPolicyFor(tc.mode))
	}
}
