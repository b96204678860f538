package core

import (
	"context"

	"github.com/dkeye/televisit/internal/domain"
)

// AppointmentService is the host application's appointment backend.
type AppointmentService interface {
	MarkSessionComplete(ctx context.Context, id domain.SessionID) error
}
