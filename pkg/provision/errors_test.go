package provision

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/sandstream/stoker/pkg/faults"
)

func apiErr(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "nope"}
}

func TestClassifyAWS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want faults.Class
	}{
		{"throttling is transient", apiErr("RequestLimitExceeded"), faults.Transient},
		{"capacity is transient", apiErr("InsufficientInstanceCapacity"), faults.Transient},
		{"instance quota is permanent", apiErr("InstanceLimitExceeded"), faults.Permanent},
		{"vcpu quota is permanent", apiErr("VcpuLimitExceeded"), faults.Permanent},
		{"bad ami is permanent", apiErr("InvalidAMIID.NotFound"), faults.Permanent},
		{"bad subnet is permanent", apiErr("InvalidSubnetID.NotFound"), faults.Permanent},
		{"missing permission is permanent", apiErr("UnauthorizedOperation"), faults.Permanent},
		{"unknown code stays transient", apiErr("SomeBrandNewCode"), faults.Transient},
		{"plain network error is transient", fmt.Errorf("connection reset"), faults.Transient},
		{"cancellation is transient", context.Canceled, faults.Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyAWS("RunInstances", tt.err)
			require.Equal(t, tt.want, faults.Classify(got))
		})
	}
}

func TestClassifyAWSUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("operation error EC2: RunInstances: %w", apiErr("UnauthorizedOperation"))
	require.True(t, faults.IsPermanent(classifyAWS("RunInstances", wrapped)))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(apiErr("InvalidInstanceID.NotFound")))
	require.True(t, isNotFound(apiErr("InvalidInstanceID.Malformed")))
	require.False(t, isNotFound(apiErr("UnauthorizedOperation")))
	require.False(t, isNotFound(fmt.Errorf("connection reset")))
}
