package mesh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-mesh/api"
	"github.com/momentics/hioload-mesh/fake"
	"github.com/momentics/hioload-mesh/transport"
)

// waitUntil polls cond until it holds or the deadline expires.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMesh_EndToEnd(t *testing.T) {
	meshA := New(64, 16)
	meshB := New(64, 16)
	defer meshA.Shutdown()
	defer meshB.Shutdown()

	connA, connB := transport.Pipe(64)
	if _, err := meshA.Add(connA, "client"); err != nil {
		t.Fatalf("add client: %v", err)
	}
	if _, err := meshB.Add(connB, "server"); err != nil {
		t.Fatalf("add server: %v", err)
	}

	if err := meshA.Send(api.Envelope{ID: "client", Payload: []byte("hello")}); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	env, err := meshB.RecvTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("recv hello: %v", err)
	}
	if env.ID != "server" || !bytes.Equal(env.Payload, []byte("hello")) {
		t.Fatalf("unexpected envelope: id=%q payload=%q", env.ID, env.Payload)
	}

	// And back the other way.
	if err := meshB.Send(api.Envelope{ID: "server", Payload: []byte("world")}); err != nil {
		t.Fatalf("send world: %v", err)
	}
	env, err = meshA.RecvTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("recv world: %v", err)
	}
	if env.ID != "client" || !bytes.Equal(env.Payload, []byte("world")) {
		t.Fatalf("unexpected reply envelope: id=%q payload=%q", env.ID, env.Payload)
	}
}

func TestMesh_SendToUnknownIdentity(t *testing.T) {
	m := New(16, 4)
	defer m.Shutdown()

	err := m.Send(api.Envelope{ID: "ghost", Payload: []byte("boo")})
	if !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var se *api.SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected *api.SendError, got %T", err)
	}
	if se.Envelope.ID != "ghost" || !bytes.Equal(se.Envelope.Payload, []byte("boo")) {
		t.Fatal("send error must carry the original envelope")
	}
}

func TestMesh_CapacityBackpressure(t *testing.T) {
	m := New(16, 1)
	defer m.Shutdown()

	conn := fake.NewConn()
	conn.SetBlocked(true) // nothing drains the socket
	if _, err := m.Add(conn, "slow"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := m.Send(api.Envelope{ID: "slow", Payload: []byte("first")}); err != nil {
		t.Fatalf("first send should fit: %v", err)
	}
	err := m.Send(api.Envelope{ID: "slow", Payload: []byte("second")})
	if !errors.Is(err, api.ErrFull) {
		t.Fatalf("expected ErrFull on second send, got %v", err)
	}
	var se *api.SendError
	if !errors.As(err, &se) || !bytes.Equal(se.Envelope.Payload, []byte("second")) {
		t.Fatal("full error must carry the rejected envelope for retry")
	}
	if m.Metrics().Counter("mesh.send_full") != 1 {
		t.Fatalf("expected one recorded full rejection, got %d", m.Metrics().Counter("mesh.send_full"))
	}
}

func TestMesh_IndependentQueues(t *testing.T) {
	m := New(16, 1)
	defer m.Shutdown()

	slow := fake.NewConn()
	slow.SetBlocked(true)
	if _, err := m.Add(slow, "slow"); err != nil {
		t.Fatalf("add slow: %v", err)
	}
	fast := fake.NewConn()
	if _, err := m.Add(fast, "fast"); err != nil {
		t.Fatalf("add fast: %v", err)
	}

	// Saturate the slow peer's queue.
	_ = m.Send(api.Envelope{ID: "slow", Payload: []byte("a")})
	if err := m.Send(api.Envelope{ID: "slow", Payload: []byte("b")}); !errors.Is(err, api.ErrFull) {
		t.Fatalf("slow queue should be full, got %v", err)
	}

	// The fast peer keeps flowing.
	for i := 0; i < 20; i++ {
		payload := []byte(fmt.Sprintf("msg-%d", i))
		waitUntil(t, "fast queue accepting", func() bool {
			return m.Send(api.Envelope{ID: "fast", Payload: payload}) == nil
		})
	}
	waitUntil(t, "fast conn drained", func() bool {
		return len(fast.SentData()) == 20
	})
}

func TestMesh_AddDuplicateIdentity(t *testing.T) {
	m := New(16, 4)
	defer m.Shutdown()

	if _, err := m.Add(fake.NewConn(), "peer"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := m.Add(fake.NewConn(), "peer"); !errors.Is(err, api.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMesh_RemoveRoundTrip(t *testing.T) {
	m := New(16, 4)
	defer m.Shutdown()

	conn := fake.NewConn()
	if _, err := m.Add(conn, "x"); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := m.Remove("x")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got != conn {
		t.Fatal("remove returned a different connection handle")
	}
	if _, err := m.Remove("x"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("second remove: expected ErrNotFound, got %v", err)
	}
}

func TestMesh_DisconnectAutoCleanup(t *testing.T) {
	m := New(16, 4)
	defer m.Shutdown()

	conn := fake.NewConn()
	conn.SetRecvError(io.EOF)
	if _, err := m.Add(conn, "gone"); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitUntil(t, "auto-cleanup", conn.Closed)
	if conn.CloseCount() != 1 {
		t.Fatalf("duplicate cleanup: close called %d times", conn.CloseCount())
	}

	// The reactor already owns the cleanup; explicit removal observes it.
	if _, err := m.Remove("gone"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after auto-cleanup, got %v", err)
	}
	if _, err := m.Remove("gone"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("repeat remove must stay ErrNotFound, got %v", err)
	}
}

func TestMesh_RemoveRacesAutoCleanup(t *testing.T) {
	for i := 0; i < 40; i++ {
		m := New(16, 4)
		conn := fake.NewConn()
		if _, err := m.Add(conn, "peer"); err != nil {
			t.Fatalf("add: %v", err)
		}

		start := make(chan struct{})
		result := make(chan error, 1)
		go func() {
			<-start
			_, err := m.Remove("peer")
			result <- err
		}()

		close(start)
		conn.SetRecvError(io.EOF)

		switch err := <-result; {
		case err == nil:
			// Explicit removal won; ownership came back to the caller and
			// nothing else may have closed the handle.
			if conn.CloseCount() != 0 {
				t.Fatalf("iteration %d: removal won but close count is %d", i, conn.CloseCount())
			}
		case errors.Is(err, api.ErrNotFound):
			// Automatic cleanup won; it owns the single close.
			waitUntil(t, "auto-cleanup close", conn.Closed)
			if conn.CloseCount() != 1 {
				t.Fatalf("iteration %d: cleanup won but close count is %d", i, conn.CloseCount())
			}
		default:
			t.Fatalf("iteration %d: unexpected remove error: %v", i, err)
		}

		// Whoever lost, and any later retry, observes not-found.
		if _, err := m.Remove("peer"); !errors.Is(err, api.ErrNotFound) {
			t.Fatalf("iteration %d: repeat remove: expected ErrNotFound, got %v", i, err)
		}
		m.Shutdown()
	}
}

func TestMesh_ManyConnections(t *testing.T) {
	const n = 25
	m := New(8, 4) // inbox smaller than n: exercises reactor backpressure
	defer m.Shutdown()

	for i := 0; i < n; i++ {
		conn := fake.NewConn()
		conn.QueueRecv([]byte(fmt.Sprintf("payload-%d", i)))
		if _, err := m.Add(conn, fmt.Sprintf("peer-%d", i)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	var mu sync.Mutex
	got := make(map[string]bool)
	var received int64

	var wg sync.WaitGroup
	for c := 0; c < 3; c++ {
		clone := m.Clone()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.LoadInt64(&received) < n {
				env, err := clone.RecvTimeout(100 * time.Millisecond)
				if errors.Is(err, api.ErrTimeout) {
					continue
				}
				if err != nil {
					return
				}
				mu.Lock()
				if got[string(env.Payload)] {
					t.Errorf("payload %q delivered twice", env.Payload)
				}
				got[string(env.Payload)] = true
				mu.Unlock()
				atomic.AddInt64(&received, 1)
			}
		}()
	}
	wg.Wait()

	if len(got) != n {
		t.Fatalf("expected %d distinct payloads, got %d", n, len(got))
	}
}

func TestMesh_SendOrderPreserved(t *testing.T) {
	m := New(64, 64)
	defer m.Shutdown()

	conn := fake.NewConn()
	if _, err := m.Add(conn, "peer"); err != nil {
		t.Fatalf("add: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		payload := []byte{byte(i)}
		waitUntil(t, "queue accepting", func() bool {
			return m.Send(api.Envelope{ID: "peer", Payload: payload}) == nil
		})
	}
	waitUntil(t, "all payloads written", func() bool {
		return len(conn.SentData()) == n
	})
	for i, p := range conn.SentData() {
		if p[0] != byte(i) {
			t.Fatalf("write order broken at %d: got %d", i, p[0])
		}
	}
}

func TestMesh_IdentityFallbackOnLateDelivery(t *testing.T) {
	m := New(16, 4)
	defer m.Shutdown()

	conn := fake.NewConn()
	conn.QueueRecv([]byte("orphan"))
	if _, err := m.Add(conn, "temp"); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Wait for the payload to reach the inbox, then remove the mapping
	// before anyone receives it.
	waitUntil(t, "payload consumed by reactor", func() bool {
		return conn.PendingRecv() == 0
	})
	if _, err := m.Remove("temp"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	env, err := m.RecvTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.ID != "" {
		t.Fatalf("expected default identity for unmapped envelope, got %q", env.ID)
	}
	if !bytes.Equal(env.Payload, []byte("orphan")) {
		t.Fatalf("payload lost in fallback: %q", env.Payload)
	}
	if m.Metrics().Counter("mesh.identity_fallback") != 1 {
		t.Fatal("fallback delivery must be flagged in metrics")
	}
}

func TestMesh_SubscribeConnEvents(t *testing.T) {
	m := New(16, 4)
	defer m.Shutdown()

	events := make(chan api.ConnEvent, 4)
	if err := m.Subscribe(events); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn := fake.NewConn()
	conn.SetRecvError(io.EOF)
	id, err := m.Add(conn, "peer")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	select {
	case ev := <-events:
		if ev.NumericID != id || ev.Identity != "peer" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if !errors.Is(ev.Reason, io.EOF) {
			t.Fatalf("expected io.EOF reason, got %v", ev.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no departure event delivered")
	}
}

func TestMesh_ShutdownVisibility(t *testing.T) {
	m := New(16, 4)
	conn := fake.NewConn()
	if _, err := m.Add(conn, "peer"); err != nil {
		t.Fatalf("add: %v", err)
	}

	clone := m.Clone()
	signaler := m.ShutdownSignaler()
	if err := signaler.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := signaler.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	<-m.Done()

	// Every receiver, existing or new, observes shutdown and nothing else.
	if _, err := m.Recv(); !errors.Is(err, api.ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
	if _, err := clone.RecvTimeout(time.Second); !errors.Is(err, api.ErrShutdown) {
		t.Fatalf("clone expected ErrShutdown, got %v", err)
	}
	if _, err := m.Clone().Recv(); !errors.Is(err, api.ErrShutdown) {
		t.Fatalf("fresh clone expected ErrShutdown, got %v", err)
	}

	// Sends observe shutdown-style failures.
	if err := m.Send(api.Envelope{ID: "peer", Payload: []byte("late")}); !errors.Is(err, api.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected after shutdown, got %v", err)
	}
	if _, err := m.Add(fake.NewConn(), "another"); !errors.Is(err, api.ErrReactorDown) {
		t.Fatalf("expected ErrReactorDown after shutdown, got %v", err)
	}
}

func TestMesh_CloneSharesState(t *testing.T) {
	m := New(16, 4)
	defer m.Shutdown()

	conn := fake.NewConn()
	if _, err := m.Add(conn, "shared"); err != nil {
		t.Fatalf("add: %v", err)
	}

	clone := m.Clone()
	if err := clone.Send(api.Envelope{ID: "shared", Payload: []byte("via clone")}); err != nil {
		t.Fatalf("send via clone: %v", err)
	}
	waitUntil(t, "clone's payload written", func() bool {
		return len(conn.SentData()) == 1
	})
}
