package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeFor_NilIsSuccess(t *testing.T) {
	require.Equal(t, ExitSuccess, ExitCodeFor(nil))
}

func TestExitCodeFor_InvocationErrorCarriesItsOwnCode(t *testing.T) {
	err := configErrorf("bad store path")
	require.Equal(t, ExitConfigError, ExitCodeFor(err))
}

func TestExitCodeFor_WrappedInvocationErrorStillResolves(t *testing.T) {
	err := errors.New("wrapping context")
	wrapped := errors.Join(err, invalidInvocationf("missing --graph"))
	require.Equal(t, ExitInvalidInvocation, ExitCodeFor(wrapped))
}

func TestExitCodeFor_UnknownErrorIsInternal(t *testing.T) {
	require.Equal(t, ExitInternalError, ExitCodeFor(errors.New("boom")))
}

func TestInvocationError_ErrorOnNilReceiverIsEmpty(t *testing.T) {
	var e *InvocationError
	require.Equal(t, "", e.Error())
}
