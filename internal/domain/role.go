// Package domain contains entities of a call session, just meta-data and
// the few pure rules on top of it.
package domain

import (
	"errors"
	"strings"
)

var ErrUnknownRole = errors.New("unknown role")

// Role is the side a participant takes in an appointment.
type Role string

const (
	RoleDoctor  Role = "Doctor"
	RolePatient Role = "Patient"
)

// Other returns the counterpart role. Every session has exactly one of each.
func (r Role) Other() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// ParseRole accepts the role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "doctor":
		return RoleDoctor, nil
	case "patient":
		return RolePatient, nil
	}
	return "", ErrUnknownRole
}

// Participant is the display meta of one side of the call.
type Participant struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}
