package signal_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/televisit/internal/adapters/signal"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/dkeye/televisit/internal/signaling"
	"github.com/dkeye/televisit/internal/testutil"
	"github.com/gin-gonic/gin"
)

const wait = 3 * time.Second

func newServer(t *testing.T) (*signaling.Switchboard, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sb := signaling.NewSwitchboard(signaling.NewRegistry(), nil)
	ctl := signal.NewSignalWSController(sb, signal.Options{ReadLimit: 1 << 16, PingPeriod: time.Second})
	r := gin.New()
	r.GET("/api/ws/signal", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return sb, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

func TestWebsocketRegisterAndPing(t *testing.T) {
	_, url := newServer(t)
	conn, err := signal.Dialer(url, signal.Options{})(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(signaling.Message{Type: signaling.TypeRegister, Address: "s1:Doctor"}); err != nil {
		t.Fatalf("send register: %v", err)
	}
	msg := testutil.RequireReceive(t, conn.Receive(), wait, "registered")
	if msg.Type != signaling.TypeRegistered || msg.Address != "s1:Doctor" {
		t.Fatalf("got %+v, want registered", msg)
	}

	if err := conn.Send(signaling.Message{Type: signaling.TypePing}); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	if msg := testutil.RequireReceive(t, conn.Receive(), wait, "pong"); msg.Type != signaling.TypePong {
		t.Fatalf("got %+v, want pong", msg)
	}
}

func TestWebsocketCloseEndsReceive(t *testing.T) {
	_, url := newServer(t)
	conn, err := signal.Dialer(url, signal.Options{})(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
	conn.Close()

	select {
	case _, ok := <-conn.Receive():
		if ok {
			t.Fatal("message received after close")
		}
	case <-time.After(wait):
		t.Fatal("Receive not closed")
	}
	if err := conn.Send(signaling.Message{Type: signaling.TypePing}); !errors.Is(err, signaling.ErrConnClosed) {
		t.Fatalf("send after close = %v, want ErrConnClosed", err)
	}
}

func TestWebsocketDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := signal.Dialer("ws://127.0.0.1:1/api/ws/signal", signal.Options{})(ctx); err == nil {
		t.Fatal("expected dial error")
	}
}

// TestWebsocketCall runs a full call negotiation between two client
// transports over real websockets.
func TestWebsocketCall(t *testing.T) {
	sb, url := newServer(t)
	engine := &testutil.FakeEngine{}
	transport := signaling.NewClientTransport(signal.Dialer(url, signal.Options{PingPeriod: time.Second}), engine)

	register := func(addr domain.Address) core.Registration {
		reg, err := transport.Register(context.Background(), addr)
		if err != nil {
			t.Fatalf("register %s: %v", addr, err)
		}
		t.Cleanup(func() { reg.Close() })
		if ev := testutil.RequireReceive(t, reg.Events(), wait, "ready %s", addr); ev.Kind != core.RegistrationReady {
			t.Fatalf("registration event = %+v", ev)
		}
		return reg
	}
	doctor := register("s1:Doctor")
	patient := register("s1:Patient")

	call, err := doctor.Dial(context.Background(), "s1:Patient", testutil.NewFakeStream("doctor-cam"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	in := testutil.RequireReceive(t, patient.Incoming(), wait, "incoming")
	answered, err := in.Answer(context.Background(), testutil.NewFakeStream("patient-cam"))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if ev := testutil.RequireReceive(t, call.Events(), wait, "caller stream"); ev.Stream.ID() != "patient-cam" {
		t.Fatalf("caller event = %+v", ev)
	}
	if ev := testutil.RequireReceive(t, answered.Events(), wait, "callee stream"); ev.Stream.ID() != "doctor-cam" {
		t.Fatalf("callee event = %+v", ev)
	}
	if sb.LiveCalls() != 1 {
		t.Fatalf("live calls = %d, want 1", sb.LiveCalls())
	}

	answered.Close()
	ev := testutil.RequireReceive(t, call.Events(), wait, "hangup")
	if ev.Kind != core.CallClosed {
		t.Fatalf("caller event = %+v, want closed", ev)
	}
	testutil.Eventually(t, wait, func() bool { return sb.LiveCalls() == 0 }, "call not released")
}
