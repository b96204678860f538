package domain

import (
	"encoding/json"
	"errors"
)

// RelayServer describes one STUN/TURN helper. The credential endpoint may
// send urls either as a single string or as a list.
type RelayServer struct {
	URLs       []string `json:"urls" mapstructure:"urls"`
	Username   string   `json:"username,omitempty" mapstructure:"username"`
	Credential string   `json:"credential,omitempty" mapstructure:"credential"`
}

func (s *RelayServer) UnmarshalJSON(data []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Username = raw.Username
	s.Credential = raw.Credential
	s.URLs = nil
	if len(raw.URLs) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw.URLs, &one); err == nil {
		if one != "" {
			s.URLs = []string{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw.URLs, &many); err != nil {
		return errors.New("urls must be a string or a list of strings")
	}
	for _, u := range many {
		if u != "" {
			s.URLs = append(s.URLs, u)
		}
	}
	return nil
}

// RelayConfig is fetched once per session and never mutated afterwards.
type RelayConfig struct {
	Servers  []RelayServer
	Fallback bool
}

// DefaultRelayServers are public reflection servers used when the
// credential service is unavailable.
func DefaultRelayServers() []RelayServer {
	return []RelayServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
}

// Usable reports whether at least one server carries a URL.
func (c RelayConfig) Usable() bool {
	for _, s := range c.Servers {
		if len(s.URLs) > 0 {
			return true
		}
	}
	return false
}
