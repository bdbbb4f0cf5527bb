package hub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssk18/BleFlux/pkg/hub"
)

func TestDropOldestKeepsLatest(t *testing.T) {
	h := hub.New[int](nil)
	defer h.Close()

	sub := h.Subscribe(hub.PolicyDropOldest, 3)

	for i := 1; i <= 10; i++ {
		h.Publish(i)
	}

	var got []int
	for len(got) < 3 {
		select {
		case v := <-sub.C():
			got = append(got, v)
		case <-time.After(time.Second):
			t.Fatal("timed out draining subscription")
		}
	}
	require.Equal(t, []int{8, 9, 10}, got)
}

func TestUnboundedReceivesEverything(t *testing.T) {
	h := hub.New[int](nil)
	defer h.Close()

	sub := h.Subscribe(hub.PolicyUnbounded, 0)

	const n = 100
	for i := 0; i < n; i++ {
		h.Publish(i)
	}

	for i := 0; i < n; i++ {
		select {
		case v := <-sub.C():
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for value %d", i)
		}
	}
}

func TestBlockingPolicyStallsPublisher(t *testing.T) {
	h := hub.New[int](nil)
	defer h.Close()

	sub := h.Subscribe(hub.PolicyBlocking, 1)

	h.Publish(1) // fills the buffer

	published := make(chan struct{})
	go func() {
		h.Publish(2) // blocks until the subscriber reads
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish should have blocked on a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, 1, <-sub.C())
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish did not unblock after a read")
	}
	require.Equal(t, 2, <-sub.C())
}

func TestRendezvousDelivers(t *testing.T) {
	h := hub.New[string](nil)
	defer h.Close()

	sub := h.Subscribe(hub.PolicyRendezvous, 0)

	go h.Publish("hello")

	select {
	case v := <-sub.C():
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("rendezvous delivery timed out")
	}
}

func TestCancelClosesChannelAndUnblocksPublisher(t *testing.T) {
	h := hub.New[int](nil)
	defer h.Close()

	sub := h.Subscribe(hub.PolicyRendezvous, 0)

	published := make(chan struct{})
	go func() {
		h.Publish(1) // no receiver; blocks until cancel
		close(published)
	}()

	time.Sleep(20 * time.Millisecond)
	sub.Cancel()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock the publisher")
	}

	_, open := <-sub.C()
	require.False(t, open, "cancelled subscription channel must be closed")
	require.Equal(t, 0, h.Len())
}

func TestCancelIsIdempotent(t *testing.T) {
	h := hub.New[int](nil)
	defer h.Close()

	sub := h.Subscribe(hub.PolicyDropOldest, 4)
	sub.Cancel()
	sub.Cancel()
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	h := hub.New[int](nil)
	sub := h.Subscribe(hub.PolicyDropOldest, 4)
	h.Close()
	h.Publish(1)

	_, open := <-sub.C()
	require.False(t, open)
}

func TestRingChannelCounters(t *testing.T) {
	rc := hub.NewRingChannel[int](2)
	rc.Send(1)
	rc.Send(2)
	rc.Send(3) // overwrites 1

	require.Equal(t, uint64(3), rc.Written())
	require.Equal(t, uint64(1), rc.Overwritten())
	require.Equal(t, 2, <-rc.C())
	require.Equal(t, 3, <-rc.C())
}
