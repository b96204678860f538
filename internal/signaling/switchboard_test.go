package signaling_test

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/dkeye/televisit/internal/signaling"
	"github.com/dkeye/televisit/internal/testutil"
)

const wait = 2 * time.Second

func serve(t *testing.T, sb *signaling.Switchboard) signaling.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	client, server := signaling.Pipe()
	go sb.Serve(ctx, server)
	t.Cleanup(func() { client.Close() })
	return client
}

func send(t *testing.T, conn signaling.Conn, msg signaling.Message) {
	t.Helper()
	if err := conn.Send(msg); err != nil {
		t.Fatalf("send %s: %v", msg.Type, err)
	}
}

func expect(t *testing.T, conn signaling.Conn, typ signaling.MessageType) signaling.Message {
	t.Helper()
	msg := testutil.RequireReceive(t, conn.Receive(), wait, "waiting for %s", typ)
	if msg.Type != typ {
		t.Fatalf("got %s (%s %s), want %s", msg.Type, msg.Code, msg.Reason, typ)
	}
	return msg
}

func register(t *testing.T, sb *signaling.Switchboard, addr domain.Address) signaling.Conn {
	t.Helper()
	conn := serve(t, sb)
	send(t, conn, signaling.Message{Type: signaling.TypeRegister, Address: addr})
	expect(t, conn, signaling.TypeRegistered)
	return conn
}

func TestSwitchboardDialAnswerHangup(t *testing.T) {
	sb := signaling.NewSwitchboard(nil, nil)
	alice := register(t, sb, "s1:Doctor")
	bob := register(t, sb, "s1:Patient")

	send(t, alice, signaling.Message{Type: signaling.TypeDial, CallID: "c1", To: "s1:Patient", SDP: "offer"})
	expect(t, alice, signaling.TypeDialOK)
	in := expect(t, bob, signaling.TypeIncoming)
	if in.From != "s1:Doctor" || in.SDP != "offer" || in.CallID != "c1" {
		t.Fatalf("incoming = %+v", in)
	}

	send(t, bob, signaling.Message{Type: signaling.TypeAnswer, CallID: "c1", SDP: "answer"})
	ans := expect(t, alice, signaling.TypeAnswer)
	if ans.SDP != "answer" {
		t.Fatalf("answer sdp = %q", ans.SDP)
	}

	send(t, bob, signaling.Message{Type: signaling.TypeHangup, CallID: "c1"})
	expect(t, alice, signaling.TypeHangup)
	testutil.Eventually(t, wait, func() bool { return sb.LiveCalls() == 0 })
}

func TestSwitchboardPeerUnavailable(t *testing.T) {
	sb := signaling.NewSwitchboard(nil, nil)
	alice := register(t, sb, "s1:Doctor")

	send(t, alice, signaling.Message{Type: signaling.TypeDial, CallID: "c1", To: "s1:Patient"})
	msg := expect(t, alice, signaling.TypeError)
	if msg.Code != signaling.CodePeerUnavailable || msg.CallID != "c1" {
		t.Fatalf("error = %+v", msg)
	}
}

func TestSwitchboardRequiresRegistration(t *testing.T) {
	sb := signaling.NewSwitchboard(nil, nil)
	conn := serve(t, sb)

	send(t, conn, signaling.Message{Type: signaling.TypeDial, CallID: "c1", To: "x"})
	if msg := expect(t, conn, signaling.TypeError); msg.Code != signaling.CodeNotRegistered {
		t.Fatalf("code = %s", msg.Code)
	}

	send(t, conn, signaling.Message{Type: signaling.TypePing})
	expect(t, conn, signaling.TypePong)
}

func TestSwitchboardOneCallPerPair(t *testing.T) {
	sb := signaling.NewSwitchboard(nil, nil)
	alice := register(t, sb, "s1:Doctor")
	bob := register(t, sb, "s1:Patient")

	send(t, alice, signaling.Message{Type: signaling.TypeDial, CallID: "a", To: "s1:Patient"})
	expect(t, alice, signaling.TypeDialOK)
	expect(t, bob, signaling.TypeIncoming)

	// The crossing dial from the other side is refused.
	send(t, bob, signaling.Message{Type: signaling.TypeDial, CallID: "b", To: "s1:Doctor"})
	msg := expect(t, bob, signaling.TypeError)
	if msg.Code != signaling.CodeBusy || msg.CallID != "b" {
		t.Fatalf("error = %+v", msg)
	}
	if sb.LiveCalls() != 1 {
		t.Fatalf("live calls = %d, want 1", sb.LiveCalls())
	}
}

func TestSwitchboardRejectForwardsCode(t *testing.T) {
	sb := signaling.NewSwitchboard(nil, nil)
	alice := register(t, sb, "s1:Doctor")
	bob := register(t, sb, "s1:Patient")

	send(t, alice, signaling.Message{Type: signaling.TypeDial, CallID: "c1", To: "s1:Patient"})
	expect(t, alice, signaling.TypeDialOK)
	expect(t, bob, signaling.TypeIncoming)

	send(t, bob, signaling.Message{Type: signaling.TypeReject, CallID: "c1", Code: signaling.CodeBusy, Reason: "already connected"})
	msg := expect(t, alice, signaling.TypeError)
	if msg.Code != signaling.CodeBusy || msg.Reason != "already connected" {
		t.Fatalf("error = %+v", msg)
	}
	testutil.Eventually(t, wait, func() bool { return sb.LiveCalls() == 0 })
}

func TestSwitchboardReplacesStaleRegistration(t *testing.T) {
	registry := signaling.NewRegistry()
	sb := signaling.NewSwitchboard(registry, nil)
	old := serve(t, sb)
	send(t, old, signaling.Message{Type: signaling.TypeRegister, Address: "s1:Doctor"})
	expect(t, old, signaling.TypeRegistered)

	fresh := serve(t, sb)
	send(t, fresh, signaling.Message{Type: signaling.TypeRegister, Address: "s1:Doctor"})
	if msg := expect(t, fresh, signaling.TypeError); msg.Code != signaling.CodeAddressRegistered {
		t.Fatalf("code = %s", msg.Code)
	}
	expect(t, fresh, signaling.TypeRegistered)
	if msg := expect(t, old, signaling.TypeError); msg.Code != signaling.CodeAddressRegistered {
		t.Fatalf("old code = %s", msg.Code)
	}

	// Closing the superseded connection must not unbind the new owner.
	old.Close()
	time.Sleep(20 * time.Millisecond)
	if _, ok := registry.Lookup("s1:Doctor"); !ok {
		t.Fatal("address unbound by stale connection")
	}
}

func TestSwitchboardReplacementHangsUpStaleCalls(t *testing.T) {
	sb := signaling.NewSwitchboard(nil, nil)
	doctor := register(t, sb, "s1:Doctor")
	stale := register(t, sb, "s1:Patient")

	// The stale connection takes the dial and never answers.
	send(t, doctor, signaling.Message{Type: signaling.TypeDial, CallID: "c1", To: "s1:Patient"})
	expect(t, doctor, signaling.TypeDialOK)
	expect(t, stale, signaling.TypeIncoming)

	fresh := serve(t, sb)
	send(t, fresh, signaling.Message{Type: signaling.TypeRegister, Address: "s1:Patient"})
	expect(t, fresh, signaling.TypeError)
	expect(t, fresh, signaling.TypeRegistered)

	if msg := expect(t, doctor, signaling.TypeHangup); msg.CallID != "c1" {
		t.Fatalf("hangup call id = %q", msg.CallID)
	}
	if n := sb.LiveCalls(); n != 0 {
		t.Fatalf("live calls = %d, want 0", n)
	}

	// The pair is free again for the fresh registration.
	send(t, fresh, signaling.Message{Type: signaling.TypeDial, CallID: "c2", To: "s1:Doctor"})
	expect(t, fresh, signaling.TypeDialOK)
	if in := expect(t, doctor, signaling.TypeIncoming); in.CallID != "c2" {
		t.Fatalf("incoming call id = %q", in.CallID)
	}
}

func TestSwitchboardDisconnectHangsUpCalls(t *testing.T) {
	sb := signaling.NewSwitchboard(nil, nil)
	alice := register(t, sb, "s1:Doctor")
	bob := register(t, sb, "s1:Patient")

	send(t, alice, signaling.Message{Type: signaling.TypeDial, CallID: "c1", To: "s1:Patient"})
	expect(t, alice, signaling.TypeDialOK)
	expect(t, bob, signaling.TypeIncoming)

	alice.Close()
	if msg := expect(t, bob, signaling.TypeHangup); msg.CallID != "c1" {
		t.Fatalf("hangup call id = %q", msg.CallID)
	}
	testutil.Eventually(t, wait, func() bool { return sb.LiveCalls() == 0 })
}

func TestSwitchboardRateLimitsDials(t *testing.T) {
	sb := signaling.NewSwitchboard(nil, signaling.NewDialRateLimiter(1, time.Hour))
	alice := register(t, sb, "s1:Doctor")

	send(t, alice, signaling.Message{Type: signaling.TypeDial, CallID: "c1", To: "nobody"})
	if msg := expect(t, alice, signaling.TypeError); msg.Code != signaling.CodePeerUnavailable {
		t.Fatalf("first dial code = %s", msg.Code)
	}
	send(t, alice, signaling.Message{Type: signaling.TypeDial, CallID: "c2", To: "nobody"})
	if msg := expect(t, alice, signaling.TypeError); msg.Code != signaling.CodeRateLimited {
		t.Fatalf("second dial code = %s", msg.Code)
	}
}
