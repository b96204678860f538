package rtc

import (
	"github.com/dkeye/televisit/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Configuration converts the session's relay config into a pion
// configuration. An unusable config falls back to the public defaults.
func Configuration(relay domain.RelayConfig) webrtc.Configuration {
	servers := relay.Servers
	if !relay.Usable() {
		servers = domain.DefaultRelayServers()
	}
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		ice := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
		if s.Username != "" || s.Credential != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
		}
		cfg.ICEServers = append(cfg.ICEServers, ice)
	}
	return cfg
}
