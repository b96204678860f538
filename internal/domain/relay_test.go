package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRelayServerURLForms(t *testing.T) {
	var body struct {
		IceServers []RelayServer `json:"iceServers"`
	}
	data := `{"iceServers":[
		{"urls":"stun:a.example:3478"},
		{"urls":["turn:b.example:3478","turns:b.example:5349"],"username":"u","credential":"c"}
	]}`
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.IceServers) != 2 {
		t.Fatalf("servers = %d", len(body.IceServers))
	}
	if got := body.IceServers[0].URLs; len(got) != 1 || got[0] != "stun:a.example:3478" {
		t.Fatalf("single url = %v", got)
	}
	second := body.IceServers[1]
	if len(second.URLs) != 2 || second.Username != "u" || second.Credential != "c" {
		t.Fatalf("list form = %+v", second)
	}

	var bad RelayServer
	if err := json.Unmarshal([]byte(`{"urls":42}`), &bad); err == nil {
		t.Fatal("numeric urls accepted")
	}
}

func TestRelayConfigUsable(t *testing.T) {
	if (RelayConfig{}).Usable() {
		t.Fatal("empty config reported usable")
	}
	if (RelayConfig{Servers: []RelayServer{{}}}).Usable() {
		t.Fatal("server without urls reported usable")
	}
	if !(RelayConfig{Servers: DefaultRelayServers()}).Usable() {
		t.Fatal("default servers not usable")
	}
}

func TestDeviceErrorsClassify(t *testing.T) {
	for _, err := range []error{ErrPermissionDenied, ErrNoDevice} {
		if !errors.Is(err, ErrDevice) {
			t.Errorf("%v does not match ErrDevice", err)
		}
	}
	if !errors.Is(ErrBusy, ErrNegotiation) {
		t.Error("ErrBusy does not match ErrNegotiation")
	}
}
