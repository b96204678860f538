package testutil

import (
	"context"
	"sync"

	"github.com/dkeye/televisit/internal/domain"
)

// FakeAppointments records MarkSessionComplete calls.
type FakeAppointments struct {
	Err error

	mu        sync.Mutex
	completed []domain.SessionID
}

func (f *FakeAppointments) MarkSessionComplete(ctx context.Context, id domain.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return f.Err
}

func (f *FakeAppointments) Completed() []domain.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionID(nil), f.completed...)
}
