package hub_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/hub"
	"github.com/Tyrowin/gorelay/internal/testhelpers"
)

func newTestHub() *hub.Hub {
	return hub.New(hub.NewRegistry(), hub.WithLogger(testhelpers.DiscardLogger()))
}

// TestNewHub verifies a hub built without a registry gets an empty one.
func TestNewHub(t *testing.T) {
	h := hub.New(nil)
	if h == nil {
		t.Fatal("New returned nil")
	}
	if h.Registry() == nil {
		t.Fatal("Hub has no registry")
	}
	if h.Count() != 0 {
		t.Errorf("Expected 0 connections, got %d", h.Count())
	}
}

// TestBroadcastJoinLeaveScenario runs the A/B/C scenario: everyone gets "hi",
// and after B leaves only A and C get "bye".
func TestBroadcastJoinLeaveScenario(t *testing.T) {
	h := newTestHub()
	a := testhelpers.NewRecordingConn("A")
	b := testhelpers.NewRecordingConn("B")
	c := testhelpers.NewRecordingConn("C")

	for _, conn := range []*testhelpers.RecordingConn{a, b, c} {
		if err := h.OnConnect(conn); err != nil {
			t.Fatalf("OnConnect(%s): %v", conn.ID(), err)
		}
	}

	res := h.OnMessage("A", hub.Text("hi"))
	if res.Attempted != 3 || res.Delivered != 3 || res.Failed != 0 {
		t.Errorf("Unexpected result for first broadcast: %+v", res)
	}

	h.OnDisconnect("B")
	h.OnMessage("A", hub.Text("bye"))

	testhelpers.AssertReceived(t, a, "hi", "bye")
	testhelpers.AssertReceived(t, b, "hi")
	testhelpers.AssertReceived(t, c, "hi", "bye")
}

// TestBroadcastSelfEcho verifies a lone sender receives its own payload once.
func TestBroadcastSelfEcho(t *testing.T) {
	h := newTestHub()
	a := testhelpers.NewRecordingConn("A")
	_ = h.OnConnect(a)

	res := h.OnMessage("A", hub.Text("echo"))

	if res.Attempted != 1 {
		t.Errorf("Expected 1 delivery attempt, got %d", res.Attempted)
	}
	testhelpers.AssertReceived(t, a, "echo")
}

// TestBroadcastFanOutCompleteness sends one message across N connections and
// checks every handle saw it exactly once.
func TestBroadcastFanOutCompleteness(t *testing.T) {
	h := newTestHub()
	const n = 25
	conns := make([]*testhelpers.RecordingConn, n)
	for i := range conns {
		conns[i] = testhelpers.NewRecordingConn(fmt.Sprintf("c%d", i))
		_ = h.OnConnect(conns[i])
	}

	res := h.OnMessage("c7", hub.Text("payload"))
	if res.Delivered != n {
		t.Errorf("Expected %d deliveries, got %d", n, res.Delivered)
	}
	for _, c := range conns {
		testhelpers.AssertReceived(t, c, "payload")
	}
}

// TestBroadcastPreservesPayload verifies binary payloads pass through
// untouched.
func TestBroadcastPreservesPayload(t *testing.T) {
	h := newTestHub()
	a := testhelpers.NewRecordingConn("A")
	_ = h.OnConnect(a)

	data := []byte{0x00, 0xff, 0x10, '\n'}
	h.OnMessage("A", hub.Payload{Kind: hub.BinaryPayload, Data: data})

	got := a.Payloads()
	if len(got) != 1 {
		t.Fatalf("Expected 1 payload, got %d", len(got))
	}
	if got[0].Kind != hub.BinaryPayload || string(got[0].Data) != string(data) {
		t.Errorf("Payload altered in transit: %+v", got[0])
	}
}

// TestBroadcastIsolatesFailures verifies one failing recipient does not stop
// the rest of the fan-out.
func TestBroadcastIsolatesFailures(t *testing.T) {
	h := newTestHub()
	a := testhelpers.NewRecordingConn("A")
	bad := testhelpers.NewFailingConn("R")
	c := testhelpers.NewRecordingConn("C")
	_ = h.OnConnect(a)
	_ = h.OnConnect(bad)
	_ = h.OnConnect(c)

	res := h.OnMessage("A", hub.Text("hello"))

	if res.Failed != 1 || res.Delivered != 2 {
		t.Errorf("Expected 2 delivered and 1 failed, got %+v", res)
	}
	testhelpers.AssertReceived(t, a, "hello")
	testhelpers.AssertReceived(t, c, "hello")

	// A failed delivery does not unregister the recipient.
	if h.Count() != 3 {
		t.Errorf("Expected 3 connections after failed delivery, got %d", h.Count())
	}
}

type panickingConn struct{ id string }

func (p panickingConn) ID() string { return p.id }
func (p panickingConn) Send(hub.Payload) error { panic("send on closed channel") }

// TestBroadcastRecoversFromPanic verifies a panicking handle is counted as a
// failure instead of crashing the sender's goroutine.
func TestBroadcastRecoversFromPanic(t *testing.T) {
	h := newTestHub()
	a := testhelpers.NewRecordingConn("A")
	_ = h.OnConnect(panickingConn{id: "P"})
	_ = h.OnConnect(a)

	res := h.OnMessage("A", hub.Text("still here"))

	if res.Failed != 1 {
		t.Errorf("Expected 1 failed delivery, got %+v", res)
	}
	testhelpers.AssertReceived(t, a, "still here")
}

func TestOnConnectDuplicate(t *testing.T) {
	h := newTestHub()
	first := testhelpers.NewRecordingConn("X")
	second := testhelpers.NewRecordingConn("X")

	if err := h.OnConnect(first); err != nil {
		t.Fatal(err)
	}
	if err := h.OnConnect(second); !errors.Is(err, hub.ErrDuplicateConnection) {
		t.Fatalf("Expected ErrDuplicateConnection, got %v", err)
	}

	h.OnMessage("X", hub.Text("once"))
	testhelpers.AssertReceived(t, first, "once")
	testhelpers.AssertReceived(t, second)
}

func TestOnDisconnectUnknown(t *testing.T) {
	h := newTestHub()
	_ = h.OnConnect(testhelpers.NewRecordingConn("A"))

	h.OnDisconnect("nobody")
	h.OnDisconnect("A")
	h.OnDisconnect("A")

	if h.Count() != 0 {
		t.Errorf("Expected 0 connections, got %d", h.Count())
	}
}

// blockingConn holds up Send until released, standing in for a slow client.
type blockingConn struct {
	id      string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingConn) ID() string { return b.id }
func (b *blockingConn) Send(hub.Payload) error {
	close(b.entered)
	<-b.release
	return nil
}

// TestBroadcastDoesNotHoldRegistryLock verifies a blocked recipient cannot
// stall connects and disconnects for unrelated connections.
func TestBroadcastDoesNotHoldRegistryLock(t *testing.T) {
	h := newTestHub()
	slow := &blockingConn{id: "slow", entered: make(chan struct{}), release: make(chan struct{})}
	_ = h.OnConnect(slow)

	done := make(chan struct{})
	go func() {
		h.OnMessage("slow", hub.Text("x"))
		close(done)
	}()

	<-slow.entered

	mutated := make(chan struct{})
	go func() {
		_ = h.OnConnect(testhelpers.NewRecordingConn("other"))
		h.OnDisconnect("other")
		close(mutated)
	}()

	select {
	case <-mutated:
	case <-time.After(time.Second):
		t.Fatal("registry mutation blocked by an in-flight delivery")
	}

	close(slow.release)
	<-done
}

// TestBroadcastSnapshotUnderConcurrentChurn verifies connections that churn
// during an in-flight broadcast do not affect the recipients already chosen.
func TestBroadcastSnapshotUnderConcurrentChurn(t *testing.T) {
	h := newTestHub()
	slow := &blockingConn{id: "gate", entered: make(chan struct{}), release: make(chan struct{})}
	stable := testhelpers.NewRecordingConn("stable")
	_ = h.OnConnect(slow)
	_ = h.OnConnect(stable)

	resCh := make(chan hub.Result, 1)
	go func() {
		resCh <- h.OnMessage("stable", hub.Text("snap"))
	}()

	<-slow.entered
	late := make([]*testhelpers.RecordingConn, 10)
	for i := range late {
		late[i] = testhelpers.NewRecordingConn(fmt.Sprintf("late%d", i))
		_ = h.OnConnect(late[i])
	}
	close(slow.release)

	res := <-resCh
	if res.Attempted != 2 {
		t.Errorf("Expected snapshot of 2 recipients, got %d", res.Attempted)
	}
	testhelpers.AssertReceived(t, stable, "snap")
	for _, c := range late {
		testhelpers.AssertReceived(t, c)
	}
}

// TestConcurrentHubOperations runs connects, disconnects and broadcasts from
// many goroutines at once.
func TestConcurrentHubOperations(t *testing.T) {
	h := newTestHub()
	const workers = 10

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_ = h.OnConnect(testhelpers.NewRecordingConn(id))
				h.OnMessage(id, hub.Text("concurrent message"))
				h.OnDisconnect(id)
			}
		}(w)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent operations deadlocked")
	}

	if h.Count() != 0 {
		t.Errorf("Expected 0 connections, got %d", h.Count())
	}
}

func TestHubCloseClosesConnections(t *testing.T) {
	h := newTestHub()
	a := testhelpers.NewRecordingConn("A")
	b := testhelpers.NewRecordingConn("B")
	_ = h.OnConnect(a)
	_ = h.OnConnect(b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if !a.Closed() || !b.Closed() {
		t.Error("Close did not close every connection")
	}

	// The transport reports disconnects afterwards; late reports are no-ops.
	h.OnDisconnect("A")
	h.OnDisconnect("B")
	h.OnDisconnect("A")
	if h.Count() != 0 {
		t.Errorf("Expected 0 connections, got %d", h.Count())
	}
}
