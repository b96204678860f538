package orch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/televisit/internal/app"
	"github.com/dkeye/televisit/internal/app/orch"
	"github.com/dkeye/televisit/internal/clock"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/dkeye/televisit/internal/testutil"
)

const (
	wait     = 2 * time.Second
	interval = 3 * time.Second
)

type party struct {
	session *orch.Session
	release func()
	engine  *testutil.FakeEngine
	device  *testutil.FakeDevice
	appts   *testutil.FakeAppointments
	clock   *clock.FakeClock
	relays  chan domain.RelayConfig
}

type partyOptions struct {
	device    *testutil.FakeDevice
	relay     orch.RelaySource
	transport core.SignalTransport
}

func newSwitchboard(t *testing.T) *testutil.Switchboard {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return testutil.NewSwitchboard(ctx)
}

func start(t *testing.T, sb *testutil.Switchboard, role domain.Role, opts partyOptions) *party {
	t.Helper()
	p := &party{
		engine: &testutil.FakeEngine{},
		device: opts.device,
		appts:  &testutil.FakeAppointments{},
		clock:  clock.Fake(time.Unix(1_700_000_000, 0)),
		relays: make(chan domain.RelayConfig, 4),
	}
	if p.device == nil {
		p.device = &testutil.FakeDevice{StreamID: string(role)}
	}
	deps := orch.Deps{
		Transport: func(cfg domain.RelayConfig) core.SignalTransport {
			p.relays <- cfg
			if opts.transport != nil {
				return opts.transport
			}
			return sb.Transport(p.engine)
		},
		Device:       p.device,
		Relay:        opts.relay,
		Appointments: p.appts,
		Clock:        p.clock,
		DialInterval: interval,
	}
	params := orch.Params{
		SessionID:  "s1",
		LocalName:  "local " + string(role),
		RemoteName: "remote " + string(role.Other()),
		LocalRole:  role,
	}
	p.session, p.release = orch.StartSession(context.Background(), params, deps)
	t.Cleanup(p.release)
	return p
}

func (p *party) waitPhase(t *testing.T, phase domain.Phase) {
	t.Helper()
	testutil.Eventually(t, wait, func() bool {
		return p.session.Snapshot().Phase == phase
	}, "phase %s, have %+v", phase, p.session.Snapshot())
}

func (p *party) localStream(t *testing.T) *testutil.FakeStream {
	t.Helper()
	streams := p.device.Streams()
	if len(streams) != 1 {
		t.Fatalf("device opened %d streams, want 1", len(streams))
	}
	return streams[0]
}

func connectPair(t *testing.T, sb *testutil.Switchboard) (doctor, patient *party) {
	t.Helper()
	doctor = start(t, sb, domain.RoleDoctor, partyOptions{})
	patient = start(t, sb, domain.RolePatient, partyOptions{})
	doctor.waitPhase(t, domain.PhaseConnected)
	patient.waitPhase(t, domain.PhaseConnected)
	return doctor, patient
}

func TestDualConnect(t *testing.T) {
	sb := newSwitchboard(t)

	doctor := start(t, sb, domain.RoleDoctor, partyOptions{})
	doctor.waitPhase(t, domain.PhaseWaitingForPeer)
	// The first dial fires on registration and finds nobody.
	testutil.Eventually(t, wait, func() bool {
		return doctor.engine.Offers() == 1 && doctor.engine.OpenSessions() == 0
	}, "doctor's first dial did not fail")
	if got := doctor.session.Snapshot().Status; got != orch.StatusWaiting {
		t.Fatalf("doctor status = %q", got)
	}

	patient := start(t, sb, domain.RolePatient, partyOptions{})
	doctor.waitPhase(t, domain.PhaseConnected)
	patient.waitPhase(t, domain.PhaseConnected)

	if got, want := doctor.session.RemoteStream().ID(), patient.localStream(t).ID(); got != want {
		t.Errorf("doctor bound %q, want patient's local %q", got, want)
	}
	if got, want := patient.session.RemoteStream().ID(), doctor.localStream(t).ID(); got != want {
		t.Errorf("patient bound %q, want doctor's local %q", got, want)
	}
	if n := sb.LiveCalls(); n != 1 {
		t.Errorf("live calls = %d, want 1", n)
	}

	// Connected sessions never dial again.
	doctorOffers, patientOffers := doctor.engine.Offers(), patient.engine.Offers()
	for range 5 {
		doctor.clock.Advance(interval)
		patient.clock.Advance(interval)
	}
	testutil.Eventually(t, wait, func() bool {
		return doctor.session.Snapshot().ConnectedSeconds > 0 && patient.session.Snapshot().ConnectedSeconds > 0
	})
	if doctor.engine.Offers() != doctorOffers || patient.engine.Offers() != patientOffers {
		t.Fatalf("offers after connect: doctor %d->%d, patient %d->%d",
			doctorOffers, doctor.engine.Offers(), patientOffers, patient.engine.Offers())
	}
}

func TestSimultaneousStart(t *testing.T) {
	sb := newSwitchboard(t)
	doctor, patient := connectPair(t, sb)

	if doctor.session.RemoteStream().ID() != patient.localStream(t).ID() ||
		patient.session.RemoteStream().ID() != doctor.localStream(t).ID() {
		t.Fatal("bound streams do not match the other side's local stream")
	}
	testutil.Eventually(t, wait, func() bool { return sb.LiveCalls() == 1 })
}

func TestStaleRegistrationDoesNotBlockConnect(t *testing.T) {
	sb := newSwitchboard(t)

	// A leftover Patient registration takes the doctor's dial and never
	// answers it.
	stale, err := sb.Transport(&testutil.FakeEngine{}).Register(context.Background(), "s1:Patient")
	if err != nil {
		t.Fatalf("register stale patient: %v", err)
	}
	t.Cleanup(func() { stale.Close() })
	if ev := testutil.RequireReceive(t, stale.Events(), wait, "stale ready"); ev.Kind != core.RegistrationReady {
		t.Fatalf("stale registration event = %+v", ev)
	}

	doctor := start(t, sb, domain.RoleDoctor, partyOptions{})
	testutil.RequireReceive(t, stale.Incoming(), wait, "doctor's dial at the stale registration")
	doctor.waitPhase(t, domain.PhaseConnecting)

	patient := start(t, sb, domain.RolePatient, partyOptions{})
	doctor.waitPhase(t, domain.PhaseConnected)
	patient.waitPhase(t, domain.PhaseConnected)

	if got, want := doctor.session.RemoteStream().ID(), patient.localStream(t).ID(); got != want {
		t.Fatalf("doctor bound %q, want fresh patient's %q", got, want)
	}
	testutil.Eventually(t, wait, func() bool { return sb.LiveCalls() == 1 }, "live calls")
}

func TestDurationCountsOnlyWhileConnected(t *testing.T) {
	sb := newSwitchboard(t)
	doctor, _ := connectPair(t, sb)

	testutil.Eventually(t, wait, func() bool { return doctor.clock.ActiveTickers() == 1 }, "duration timer")
	for want := 1; want <= 3; want++ {
		doctor.clock.Advance(time.Second)
		testutil.Eventually(t, wait, func() bool {
			return doctor.session.Snapshot().ConnectedSeconds == want
		}, "connected seconds %d", want)
	}

	doctor.session.End()
	if n := doctor.clock.ActiveTickers(); n != 0 {
		t.Fatalf("active tickers after end = %d", n)
	}
	doctor.clock.Advance(5 * time.Second)
	if got := doctor.session.Snapshot().ConnectedSeconds; got != 3 {
		t.Fatalf("connected seconds after end = %d, want 3", got)
	}
}

func TestRemoteHangup(t *testing.T) {
	sb := newSwitchboard(t)
	doctor, patient := connectPair(t, sb)

	patient.session.End()
	testutil.RequireClosed(t, doctor.session.Done(), wait, "doctor session did not end")

	snap := doctor.session.Snapshot()
	if snap.Phase != domain.PhaseEnded || snap.Status != orch.StatusEndedByRemote {
		t.Fatalf("doctor final state = %+v", snap)
	}
	if doctor.session.RemoteStream() != nil || snap.RemoteStream != "" {
		t.Fatal("remote stream still bound")
	}
	local := doctor.localStream(t)
	if local.Audio.Stops() != 1 || local.Video.Stops() != 1 {
		t.Fatalf("doctor tracks stopped %d/%d times", local.Audio.Stops(), local.Video.Stops())
	}
	if got := doctor.appts.Completed(); len(got) != 0 {
		t.Fatalf("remote close completed the appointment: %v", got)
	}
	if got := patient.appts.Completed(); len(got) != 1 || got[0] != "s1" {
		t.Fatalf("patient completions = %v", got)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	sb := newSwitchboard(t)
	doctor, _ := connectPair(t, sb)

	doctor.session.End()
	first := doctor.session.Snapshot()
	doctor.session.End()
	doctor.release()

	if second := doctor.session.Snapshot(); second != first {
		t.Fatalf("state changed by second end: %+v -> %+v", first, second)
	}
	if first.Phase != domain.PhaseEnded || first.Status != orch.StatusEndedByUser {
		t.Fatalf("final state = %+v", first)
	}
	local := doctor.localStream(t)
	if local.Audio.Stops() != 1 || local.Video.Stops() != 1 {
		t.Fatalf("tracks stopped %d/%d times", local.Audio.Stops(), local.Video.Stops())
	}
	if got := doctor.appts.Completed(); len(got) != 1 {
		t.Fatalf("completions = %v, want exactly one", got)
	}
}

func TestDegradedRelay(t *testing.T) {
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer hang.Close()
	relay := app.NewRelayProvider(hang.URL, 50*time.Millisecond, nil, nil)

	sb := newSwitchboard(t)
	doctor := start(t, sb, domain.RoleDoctor, partyOptions{relay: relay})
	patient := start(t, sb, domain.RolePatient, partyOptions{relay: relay})

	for _, p := range []*party{doctor, patient} {
		cfg := testutil.RequireReceive(t, p.relays, wait, "relay config")
		if !cfg.Fallback || !cfg.Usable() {
			t.Fatalf("relay config = %+v, want usable fallback", cfg)
		}
	}
	doctor.waitPhase(t, domain.PhaseConnected)
	patient.waitPhase(t, domain.PhaseConnected)
}

type gatedRelay struct {
	out chan domain.RelayConfig
}

func (g gatedRelay) FetchAsync(ctx context.Context) <-chan domain.RelayConfig { return g.out }
func (g gatedRelay) Fallback() domain.RelayConfig                             { return domain.RelayConfig{Fallback: true} }

func TestRegistrationWaitsForRelay(t *testing.T) {
	relay := gatedRelay{out: make(chan domain.RelayConfig, 1)}
	sb := newSwitchboard(t)
	doctor := start(t, sb, domain.RoleDoctor, partyOptions{relay: relay})

	// The session clock plays no part in the relay wait.
	doctor.clock.Advance(time.Minute)
	select {
	case cfg := <-doctor.relays:
		t.Fatalf("registered before the relay answered: %+v", cfg)
	case <-time.After(50 * time.Millisecond):
	}

	servers := []domain.RelayServer{{URLs: []string{"turn:relay.example:3478"}}}
	relay.out <- domain.RelayConfig{Servers: servers}
	cfg := testutil.RequireReceive(t, doctor.relays, wait, "relay config")
	if cfg.Fallback || len(cfg.Servers) != 1 || cfg.Servers[0].URLs[0] != "turn:relay.example:3478" {
		t.Fatalf("relay config = %+v", cfg)
	}
	doctor.waitPhase(t, domain.PhaseWaitingForPeer)
}

func TestPermissionDenied(t *testing.T) {
	sb := newSwitchboard(t)
	doctor := start(t, sb, domain.RoleDoctor, partyOptions{
		device: &testutil.FakeDevice{Err: domain.ErrPermissionDenied},
	})

	testutil.RequireClosed(t, doctor.session.Done(), wait, "session did not fail")
	snap := doctor.session.Snapshot()
	if snap.Phase != domain.PhaseFailed || snap.Status != orch.StatusDeviceDenied {
		t.Fatalf("final state = %+v", snap)
	}
	if len(doctor.relays) != 0 {
		t.Fatal("signaling was started after a device error")
	}
	if doctor.clock.ActiveTickers() != 0 || doctor.engine.Offers() != 0 {
		t.Fatal("dial loop ran after a device error")
	}
	if len(doctor.appts.Completed()) != 0 {
		t.Fatal("device failure completed the appointment")
	}
}

type failingTransport struct{}

func (failingTransport) Register(ctx context.Context, addr domain.Address) (core.Registration, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestRegistrationFailure(t *testing.T) {
	sb := newSwitchboard(t)
	doctor := start(t, sb, domain.RoleDoctor, partyOptions{transport: failingTransport{}})

	testutil.RequireClosed(t, doctor.session.Done(), wait, "session did not fail")
	snap := doctor.session.Snapshot()
	if snap.Phase != domain.PhaseFailed || snap.Status != orch.StatusSignalFailed {
		t.Fatalf("final state = %+v", snap)
	}
	if doctor.localStream(t).Audio.Stops() != 1 {
		t.Fatal("media not released on registration failure")
	}
}

func TestReleaseBeforeConnect(t *testing.T) {
	sb := newSwitchboard(t)
	doctor := start(t, sb, domain.RoleDoctor, partyOptions{})
	doctor.waitPhase(t, domain.PhaseWaitingForPeer)

	doctor.release()
	doctor.release()

	snap := doctor.session.Snapshot()
	if snap.Phase != domain.PhaseEnded || snap.Status != orch.StatusClosed {
		t.Fatalf("final state = %+v", snap)
	}
	if len(doctor.appts.Completed()) != 0 {
		t.Fatal("release completed the appointment")
	}
	if doctor.localStream(t).Video.Stops() != 1 {
		t.Fatal("media not released")
	}
	if doctor.clock.ActiveTickers() != 0 {
		t.Fatal("dial loop still scheduled")
	}
}

func TestToggleMedia(t *testing.T) {
	sb := newSwitchboard(t)
	doctor := start(t, sb, domain.RoleDoctor, partyOptions{})
	doctor.waitPhase(t, domain.PhaseWaitingForPeer)

	st := doctor.session.SetAudioEnabled(false)
	if st.AudioEnabled || !st.VideoEnabled {
		t.Fatalf("state = %+v", st)
	}
	if doctor.localStream(t).Audio.Enabled() {
		t.Fatal("audio track still enabled")
	}
	snap := doctor.session.Snapshot()
	if snap.AudioEnabled || !snap.VideoEnabled {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Phase != domain.PhaseWaitingForPeer {
		t.Fatalf("toggle changed phase to %s", snap.Phase)
	}
}

func TestInvalidRoleFails(t *testing.T) {
	sb := newSwitchboard(t)
	p := start(t, sb, domain.Role("Nurse"), partyOptions{})
	testutil.RequireClosed(t, p.session.Done(), wait, "session did not fail")
	if snap := p.session.Snapshot(); snap.Phase != domain.PhaseFailed {
		t.Fatalf("final state = %+v", snap)
	}
}
