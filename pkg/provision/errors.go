package provision

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/sandstream/stoker/pkg/faults"
)

// permanentCodes are API error codes where retrying the same request can
// never succeed: bad spec, exhausted quota, missing permission.
var permanentCodes = map[string]bool{
	"InstanceLimitExceeded":       true,
	"VcpuLimitExceeded":           true,
	"InvalidParameterValue":       true,
	"InvalidParameterCombination": true,
	"InvalidAMIID.NotFound":       true,
	"InvalidAMIID.Malformed":      true,
	"InvalidSubnetID.NotFound":    true,
	"InvalidKeyPair.NotFound":     true,
	"UnauthorizedOperation":       true,
	"OptInRequired":               true,
	"Unsupported":                 true,
}

// classifyAWS maps an SDK error into the faults taxonomy. Throttling and
// availability codes are transient; spec and quota codes are permanent;
// anything unrecognized is left transient so a flaky control plane does not
// strand queued work.
func classifyAWS(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return faults.Transientf("%s: %w", op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if permanentCodes[code] {
			return faults.Permanentf("%s: %s: %w", op, code, err)
		}
		return faults.Transientf("%s: %s: %w", op, code, err)
	}
	return faults.Transientf("%s: %w", op, err)
}

// isNotFound recognizes the instance-id-not-found family, which an
// idempotent destroy treats as success.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return strings.HasPrefix(code, "InvalidInstanceID") ||
			code == "InvalidInstanceID.NotFound"
	}
	return false
}
