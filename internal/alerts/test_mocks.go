package alerts

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/technosupport/ts-guardian/internal/data"
)

type MockAlertRepo struct {
	mock.Mock
}

func (m *MockAlertRepo) Insert(ctx context.Context, a *data.Alert) error {
	args := m.Called(ctx, a)
	if args.Error(0) == nil {
		// Mirror data.AlertModel.Insert, which assigns the status after a
		// successful DB round trip.
		a.Status = data.AlertStatusActive
	}
	return args.Error(0)
}

func (m *MockAlertRepo) Get(ctx context.Context, id uuid.UUID) (*data.Alert, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*data.Alert), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAlertRepo) Terminate(ctx context.Context, id uuid.UUID, to data.AlertStatus, actor string, auto bool) (bool, error) {
	args := m.Called(ctx, id, to, actor, auto)
	return args.Bool(0), args.Error(1)
}

func (m *MockAlertRepo) Acknowledge(ctx context.Context, id uuid.UUID, identity string) error {
	args := m.Called(ctx, id, identity)
	return args.Error(0)
}

func (m *MockAlertRepo) ListExpiredActive(ctx context.Context, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, limit)
	if ids := args.Get(0); ids != nil {
		return ids.([]uuid.UUID), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAlertRepo) ListByStatus(ctx context.Context, status data.AlertStatus, limit int) ([]data.Alert, error) {
	args := m.Called(ctx, status, limit)
	if out := args.Get(0); out != nil {
		return out.([]data.Alert), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, alertID uuid.UUID, kind data.EventKind, payload any) (*data.AlertEvent, error) {
	args := m.Called(ctx, alertID, kind, payload)
	if ev := args.Get(0); ev != nil {
		return ev.(*data.AlertEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSirens struct {
	mock.Mock
}

func (m *MockSirens) Start(ctx context.Context, alertID uuid.UUID, identity string) error {
	args := m.Called(ctx, alertID, identity)
	return args.Error(0)
}

func (m *MockSirens) Stop(ctx context.Context, alertID uuid.UUID, identity string) error {
	args := m.Called(ctx, alertID, identity)
	return args.Error(0)
}

type MockMessages struct {
	mock.Mock
}

func (m *MockMessages) Insert(ctx context.Context, msg *data.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
