package conn_test

import (
	"context"
	"testing"
	"time"

	suitelib "github.com/stretchr/testify/suite"

	"github.com/ssk18/BleFlux/internal/testutils"
	"github.com/ssk18/BleFlux/pkg/blerr"
	"github.com/ssk18/BleFlux/pkg/conn"
	"github.com/ssk18/BleFlux/pkg/device"
	"github.com/ssk18/BleFlux/pkg/hub"
)

const (
	addrA = "AA:BB:CC:DD:EE:FF"
	addrB = "11:22:33:44:55:66"
)

type ConnControllerSuite struct {
	testutils.ControllerSuite

	controller *conn.Controller
}

func (suite *ConnControllerSuite) SetupTest() {
	suite.ControllerSuite.SetupTest()
	suite.controller = conn.NewController(suite.Adapter, suite.Errors, suite.Logger)
}

// connect establishes a confirmed connection to addr.
func (suite *ConnControllerSuite) connect(addr string) {
	suite.Adapter.AutoConfirmConnect = true
	err := suite.controller.Connect(context.Background(), device.NewPeripheral(addr), false, time.Second)
	suite.Require().NoError(err)
	suite.Adapter.AutoConfirmConnect = false
}

func (suite *ConnControllerSuite) TestInitialState() {
	suite.IsType(conn.Disconnected{}, suite.controller.State())
	suite.False(suite.controller.IsConnected())

	_, ok := suite.controller.ConnectedPeripheral()
	suite.False(ok)
}

func (suite *ConnControllerSuite) TestConnectSuccess() {
	suite.connect(addrA)

	st, ok := suite.controller.State().(conn.Connected)
	suite.Require().True(ok)
	suite.Equal(addrA, st.Address)
	suite.True(suite.controller.IsConnected())

	p, ok := suite.controller.ConnectedPeripheral()
	suite.Require().True(ok)
	suite.Equal(addrA, p.Address())
	suite.Equal(0, suite.Adapter.CloseConnectionCalls())
}

func (suite *ConnControllerSuite) TestConnectNoHandleFailsImmediately() {
	suite.Adapter.ConnectionAvailable = false

	err := suite.controller.Connect(context.Background(), device.NewPeripheral(addrA), false, time.Second)
	suite.Require().Error(err)

	var classified *blerr.Error
	suite.Require().ErrorAs(err, &classified)
	suite.Equal(blerr.CategoryConnection, classified.Category)
	suite.Equal(addrA, classified.Address)

	st, ok := suite.controller.State().(conn.Failed)
	suite.Require().True(ok)
	suite.True(st.CanRetry)
}

func (suite *ConnControllerSuite) TestConnectTimeoutReleasesHandleOnce() {
	err := suite.controller.Connect(context.Background(), device.NewPeripheral(addrA), false, 50*time.Millisecond)
	suite.Require().Error(err)
	suite.True(blerr.IsTimeout(err))

	suite.Equal(1, suite.Adapter.CloseConnectionCalls())

	st, ok := suite.controller.State().(conn.Failed)
	suite.Require().True(ok)
	suite.True(blerr.IsTimeout(st.Err))
}

func (suite *ConnControllerSuite) TestConnectFailureCallbackNotTimeout() {
	result := make(chan error, 1)
	go func() {
		result <- suite.controller.Connect(context.Background(), device.NewPeripheral(addrA), false, 5*time.Second)
	}()

	suite.Eventually(func() bool {
		return suite.Adapter.ConnEvents() != nil
	}, time.Second, 5*time.Millisecond)

	suite.Adapter.FireConnectionStateChange(addrA, false, blerr.CodeGattError)

	select {
	case err := <-result:
		suite.Require().Error(err)
		suite.False(blerr.IsTimeout(err), "callback failure must not be reported as timeout")

		var classified *blerr.Error
		suite.Require().ErrorAs(err, &classified)
		suite.Equal(blerr.CategoryConnection, classified.Category)
		suite.Equal(blerr.CodeGattError, classified.Code)
		suite.Equal(addrA, classified.Address)
	case <-time.After(time.Second):
		suite.FailNow("connect did not resolve on failure callback")
	}

	st, ok := suite.controller.State().(conn.Failed)
	suite.Require().True(ok)
	suite.True(st.CanRetry)
	suite.Equal(1, suite.Adapter.CloseConnectionCalls())
}

func (suite *ConnControllerSuite) TestCancelledConnectCleansUpAndPropagates() {
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		result <- suite.controller.Connect(ctx, device.NewPeripheral(addrA), false, 5*time.Second)
	}()

	suite.Eventually(func() bool {
		return suite.Adapter.OpenConnectionCalls() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-result:
		suite.Require().ErrorIs(err, context.Canceled)
		var classified *blerr.Error
		suite.False(blerr.IsTimeout(err))
		suite.NotErrorAs(err, &classified, "cancellation must not be wrapped into a failure")
	case <-time.After(time.Second):
		suite.FailNow("cancelled connect did not return")
	}

	suite.Equal(1, suite.Adapter.CloseConnectionCalls())
	suite.False(suite.controller.IsConnected())
}

func (suite *ConnControllerSuite) TestConcurrentConnectRejected() {
	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		close(started)
		result <- suite.controller.Connect(context.Background(), device.NewPeripheral(addrA), false, 300*time.Millisecond)
	}()
	<-started

	suite.Eventually(func() bool {
		return suite.Adapter.OpenConnectionCalls() == 1
	}, time.Second, 5*time.Millisecond)

	err := suite.controller.Connect(context.Background(), device.NewPeripheral(addrB), false, time.Second)
	suite.Require().Error(err)
	suite.ErrorIs(err, blerr.ErrConcurrentOperation)

	<-result // let the first attempt time out
}

func (suite *ConnControllerSuite) TestConnectWhileConnectedDisconnectsFirst() {
	suite.connect(addrA)

	suite.Adapter.AutoConfirmConnect = true
	suite.Adapter.AutoConfirmDisconnect = true
	err := suite.controller.Connect(context.Background(), device.NewPeripheral(addrB), false, time.Second)
	suite.Require().NoError(err)

	suite.Equal(1, suite.Adapter.DisconnectCalls())
	suite.Equal(2, suite.Adapter.OpenConnectionCalls())

	st, ok := suite.controller.State().(conn.Connected)
	suite.Require().True(ok)
	suite.Equal(addrB, st.Address)
}

func (suite *ConnControllerSuite) TestConnectAbortsWhenInternalDisconnectFails() {
	suite.connect(addrA)

	// The adapter never confirms the disconnect; the caller's deadline is
	// the only bound, so the internal disconnect fails with a timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := suite.controller.Connect(ctx, device.NewPeripheral(addrB), false, time.Second)
	suite.Require().Error(err)
	suite.True(blerr.IsTimeout(err))

	// The new connection was never attempted and the old handle was cleaned.
	suite.Equal(1, suite.Adapter.OpenConnectionCalls())
	suite.Equal(1, suite.Adapter.CloseConnectionCalls())
}

func (suite *ConnControllerSuite) TestDisconnectWhenNotConnectedIsNoOp() {
	suite.Require().NoError(suite.controller.Disconnect(context.Background()))
	suite.Equal(0, suite.Adapter.DisconnectCalls())
	suite.IsType(conn.Disconnected{}, suite.controller.State())
}

func (suite *ConnControllerSuite) TestDisconnectConfirmedByAdapter() {
	suite.connect(addrA)
	suite.Adapter.AutoConfirmDisconnect = true

	suite.Require().NoError(suite.controller.Disconnect(context.Background()))

	suite.IsType(conn.Disconnected{}, suite.controller.State())
	suite.False(suite.controller.IsConnected())
	suite.Equal(1, suite.Adapter.DisconnectCalls())
	suite.Equal(1, suite.Adapter.CloseConnectionCalls())
}

func (suite *ConnControllerSuite) TestUnsolicitedLinkLossRoutesToFailed() {
	suite.connect(addrA)

	errs := suite.Errors.Subscribe(hub.PolicyUnbounded, 0)
	defer errs.Cancel()

	suite.Adapter.FireConnectionStateChange(addrA, false, blerr.CodeConnTimeout)

	st, ok := suite.controller.State().(conn.Failed)
	suite.Require().True(ok)
	suite.True(st.CanRetry)
	suite.Contains(st.Err.Message, "lost")
	suite.Equal(1, suite.Adapter.CloseConnectionCalls())

	select {
	case published := <-errs.C():
		suite.Equal(blerr.CodeConnTimeout, published.Code)
	case <-time.After(time.Second):
		suite.FailNow("link loss not published to exception hub")
	}
}

func (suite *ConnControllerSuite) TestConnectIgnoresUnrelatedDisconnectEvent() {
	result := make(chan error, 1)
	go func() {
		result <- suite.controller.Connect(context.Background(), device.NewPeripheral(addrA), false, 5*time.Second)
	}()

	suite.Eventually(func() bool {
		return suite.Adapter.ConnEvents() != nil
	}, time.Second, 5*time.Millisecond)

	// A failure event for another peripheral neither fails the attempt nor
	// publishes a spurious Failed state.
	suite.Adapter.FireConnectionStateChange(addrB, false, blerr.CodeGattError)
	suite.IsType(conn.Connecting{}, suite.controller.State())

	suite.Adapter.FireConnectionStateChange(addrA, true, blerr.CodeSuccess)

	select {
	case err := <-result:
		suite.Require().NoError(err)
	case <-time.After(time.Second):
		suite.FailNow("connect did not resolve after the genuine confirmation")
	}

	st, ok := suite.controller.State().(conn.Connected)
	suite.Require().True(ok)
	suite.Equal(addrA, st.Address)
}

func (suite *ConnControllerSuite) TestDisconnectIgnoresUnrelatedAddressEvent() {
	suite.connect(addrA)

	result := make(chan error, 1)
	go func() {
		result <- suite.controller.Disconnect(context.Background())
	}()

	suite.Eventually(func() bool {
		return suite.Adapter.DisconnectCalls() == 1
	}, time.Second, 5*time.Millisecond)

	// A stale event for another peripheral must not settle the teardown.
	suite.Adapter.FireConnectionStateChange(addrB, false, blerr.CodeSuccess)
	suite.IsType(conn.Disconnecting{}, suite.controller.State())

	suite.Adapter.FireConnectionStateChange(addrA, false, blerr.CodeSuccess)

	select {
	case err := <-result:
		suite.Require().NoError(err)
	case <-time.After(time.Second):
		suite.FailNow("disconnect did not resolve after the genuine confirmation")
	}
	suite.IsType(conn.Disconnected{}, suite.controller.State())
	suite.Equal(1, suite.Adapter.CloseConnectionCalls())
}

func (suite *ConnControllerSuite) TestUnsolicitedDropForOtherAddressIgnored() {
	suite.connect(addrA)

	suite.Adapter.FireConnectionStateChange(addrB, false, blerr.CodeConnTimeout)

	st, ok := suite.controller.State().(conn.Connected)
	suite.Require().True(ok)
	suite.Equal(addrA, st.Address)
	suite.Equal(0, suite.Adapter.CloseConnectionCalls())
}

func (suite *ConnControllerSuite) TestReadSignalStrengthRequiresConnection() {
	_, err := suite.controller.ReadSignalStrength(context.Background(), time.Second)
	suite.Require().Error(err)
	suite.ErrorIs(err, blerr.ErrNotConnected)
	suite.Equal(0, suite.Adapter.RSSICalls())
}

func (suite *ConnControllerSuite) TestReadSignalStrengthIssueFailureIsImmediate() {
	suite.connect(addrA)
	suite.Adapter.RSSIIssueOK = false

	start := time.Now()
	_, err := suite.controller.ReadSignalStrength(context.Background(), time.Minute)
	suite.Require().Error(err)
	suite.Less(time.Since(start), time.Second, "issue failure must not wait for the timeout")

	var classified *blerr.Error
	suite.Require().ErrorAs(err, &classified)
	suite.Equal(blerr.OpRSSI, classified.Op)
}

func (suite *ConnControllerSuite) TestReadSignalStrengthDeliversCallbackValue() {
	suite.connect(addrA)

	type rssiResult struct {
		rssi int
		err  error
	}
	result := make(chan rssiResult, 1)
	go func() {
		rssi, err := suite.controller.ReadSignalStrength(context.Background(), 5*time.Second)
		result <- rssiResult{rssi, err}
	}()

	suite.Eventually(func() bool {
		return suite.Adapter.RSSICalls() == 1
	}, time.Second, 5*time.Millisecond)

	suite.Adapter.FireRSSI(addrA, -42, blerr.CodeSuccess)

	select {
	case r := <-result:
		suite.Require().NoError(r.err)
		suite.Equal(-42, r.rssi)
	case <-time.After(time.Second):
		suite.FailNow("RSSI read did not resolve")
	}
}

func (suite *ConnControllerSuite) TestReadSignalStrengthIgnoresUnrelatedAddress() {
	suite.connect(addrA)

	type rssiResult struct {
		rssi int
		err  error
	}
	result := make(chan rssiResult, 1)
	go func() {
		rssi, err := suite.controller.ReadSignalStrength(context.Background(), 5*time.Second)
		result <- rssiResult{rssi, err}
	}()

	suite.Eventually(func() bool {
		return suite.Adapter.RSSICalls() == 1
	}, time.Second, 5*time.Millisecond)

	suite.Adapter.FireRSSI(addrB, -99, blerr.CodeSuccess)

	select {
	case r := <-result:
		suite.FailNowf("stale RSSI result resolved the read", "got %v", r)
	case <-time.After(50 * time.Millisecond):
	}

	suite.Adapter.FireRSSI(addrA, -42, blerr.CodeSuccess)

	select {
	case r := <-result:
		suite.Require().NoError(r.err)
		suite.Equal(-42, r.rssi)
	case <-time.After(time.Second):
		suite.FailNow("RSSI read did not resolve")
	}
}

func (suite *ConnControllerSuite) TestStateTransitionsPublished() {
	states := suite.controller.SubscribeStates(hub.PolicyUnbounded, 0)
	defer states.Cancel()

	suite.connect(addrA)
	suite.Adapter.AutoConfirmDisconnect = true
	suite.Require().NoError(suite.controller.Disconnect(context.Background()))

	var seen []string
	for len(seen) < 4 {
		select {
		case st := <-states.C():
			seen = append(seen, st.String())
		case <-time.After(time.Second):
			suite.FailNowf("missing state transitions", "saw %v", seen)
		}
	}
	suite.Contains(seen[0], "connecting")
	suite.Contains(seen[1], "connected")
	suite.Contains(seen[2], "disconnecting")
	suite.Equal("disconnected", seen[3])
}

func TestConnControllerSuite(t *testing.T) {
	suitelib.Run(t, new(ConnControllerSuite))
}
