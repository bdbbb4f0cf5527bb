package blerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssk18/BleFlux/pkg/blerr"
)

func TestClassifyConnection(t *testing.T) {
	tests := []struct {
		name      string
		op        blerr.Op
		code      int
		category  blerr.Category
		retryable bool
	}{
		{"link loss maps to connection lost", blerr.OpDisconnect, blerr.CodeConnTimeout, blerr.CategoryConnection, true},
		{"remote termination maps to connection lost", blerr.OpDisconnect, blerr.CodeRemoteTerminated, blerr.CategoryConnection, true},
		{"local termination", blerr.OpDisconnect, blerr.CodeLocalTerminated, blerr.CategoryConnection, true},
		{"failed to establish", blerr.OpConnect, blerr.CodeFailedToEstablish, blerr.CategoryConnection, true},
		{"generic gatt error on connect", blerr.OpConnect, blerr.CodeGattError, blerr.CategoryConnection, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := blerr.Classify(tt.op, tt.code, blerr.Context{Address: "AA:BB:CC:DD:EE:FF"})
			require.NotNil(t, err)
			require.Equal(t, tt.category, err.Category)
			require.Equal(t, tt.code, err.Code)
			require.Equal(t, tt.retryable, err.Retryable)
			require.Equal(t, "AA:BB:CC:DD:EE:FF", err.Address)
		})
	}
}

func TestClassifyLinkLossDistinctFromConnectFailure(t *testing.T) {
	loss := blerr.Classify(blerr.OpDisconnect, blerr.CodeConnTimeout, blerr.Context{})
	failure := blerr.Classify(blerr.OpConnect, blerr.CodeFailedToEstablish, blerr.Context{})

	require.Contains(t, loss.Message, "lost")
	require.Contains(t, failure.Message, "failed to connect")
	require.NotEqual(t, loss.Message, failure.Message)
}

func TestClassifyScanRetryHints(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{blerr.ScanAlreadyStarted, true},
		{blerr.ScanRegistrationFailed, false},
		{blerr.ScanInternalError, true},
		{blerr.ScanFeatureUnsupported, false},
		{blerr.ScanOutOfResources, true},
		{blerr.ScanTooFrequent, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			err := blerr.Classify(blerr.OpScanStart, tt.code, blerr.Context{})
			require.NotNil(t, err)
			require.Equal(t, blerr.CategoryScan, err.Category)
			require.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestClassifyUnknownCodeRetainsEverything(t *testing.T) {
	err := blerr.Classify(blerr.OpCharRead, 9999, blerr.Context{
		Address:       "AA:BB:CC:DD:EE:FF",
		AttributeUUID: "2a37",
	})

	require.NotNil(t, err)
	require.Equal(t, blerr.CategoryUnknown, err.Category)
	require.Equal(t, 9999, err.Code)
	require.Equal(t, blerr.OpCharRead, err.Op)
	require.Equal(t, "2a37", err.AttributeUUID)
	require.False(t, err.Retryable)
}

func TestClassifyNeverNilForNonSuccess(t *testing.T) {
	ops := []blerr.Op{
		blerr.OpConnect, blerr.OpDisconnect, blerr.OpDiscoverServices,
		blerr.OpCharRead, blerr.OpCharWrite, blerr.OpNotify,
		blerr.OpDescRead, blerr.OpDescWrite, blerr.OpMTU, blerr.OpPHY,
		blerr.OpRSSI, blerr.OpScanStart, blerr.OpScanStop,
	}
	for _, op := range ops {
		require.NotNil(t, blerr.Classify(op, 133, blerr.Context{}), "op %s", op)
	}
}

func TestGattOperationErrors(t *testing.T) {
	read := blerr.Classify(blerr.OpCharRead, blerr.CodeReadNotPermitted, blerr.Context{AttributeUUID: "2a00"})
	require.Equal(t, blerr.CategoryGatt, read.Category)
	require.Equal(t, "2a00", read.AttributeUUID)
	require.False(t, read.Retryable)

	write := blerr.Classify(blerr.OpCharWrite, blerr.CodeWriteNotPermitted, blerr.Context{})
	require.Equal(t, blerr.CategoryGatt, write.Category)

	// Link loss during a GATT op is still a connection error.
	drop := blerr.Classify(blerr.OpCharRead, blerr.CodeRemoteTerminated, blerr.Context{})
	require.Equal(t, blerr.CategoryConnection, drop.Category)
	require.True(t, drop.Retryable)
}

func TestErrorsIsMatching(t *testing.T) {
	err := blerr.NotConnected(blerr.OpRSSI)
	require.ErrorIs(t, err, blerr.ErrNotConnected)

	timeout := blerr.Timeout(blerr.OpConnect, "AA")
	require.ErrorIs(t, timeout, blerr.ErrTimeout)
	require.True(t, blerr.IsTimeout(timeout))
	require.True(t, blerr.CanRetry(timeout))

	concurrent := blerr.ConcurrentOperation(blerr.OpConnect)
	require.ErrorIs(t, concurrent, blerr.ErrConcurrentOperation)
}

func TestWrapPreservesClassified(t *testing.T) {
	original := blerr.Timeout(blerr.OpConnect, "AA")
	wrapped := blerr.Wrap(blerr.OpConnect, original, blerr.Context{})
	require.Same(t, original, wrapped)

	plain := blerr.Wrap(blerr.OpScanStart, errors.New("boom"), blerr.Context{})
	require.Equal(t, blerr.CategoryUnknown, plain.Category)
	require.Equal(t, blerr.CodeNone, plain.Code)
	require.Contains(t, plain.Message, "boom")
}
