package api

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/sigstate/internal/account"
	"github.com/matheus3301/sigstate/internal/bus"
	"github.com/matheus3301/sigstate/internal/receiver"
	sigstatus "github.com/matheus3301/sigstate/internal/status"
)

// Receiver is the part of the receive loop the control service drives.
type Receiver interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// ControlService implements ControlServer for one account.
type ControlService struct {
	manager   *account.Manager
	receiver  Receiver
	machine   *sigstatus.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	startedAt time.Time
	// loopCtx parents loops started over RPC, so they outlive the request.
	loopCtx context.Context
}

// NewControlService creates the control service. loopCtx bounds receive
// loops started through StartReceiving.
func NewControlService(loopCtx context.Context, m *account.Manager, r Receiver, machine *sigstatus.Machine, b *bus.Bus, logger *zap.Logger) *ControlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlService{
		manager:   m,
		receiver:  r,
		machine:   machine,
		bus:       b,
		logger:    logger,
		startedAt: time.Now(),
		loopCtx:   loopCtx,
	}
}

func (s *ControlService) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.snapshot()
}

func (s *ControlService) StartReceiving(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	err := s.receiver.Start(s.loopCtx)
	switch {
	case errors.Is(err, receiver.ErrNoPoller):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, receiver.ErrAlreadyRunning):
		return nil, status.Error(codes.AlreadyExists, err.Error())
	case err != nil:
		return nil, status.Errorf(codes.Internal, "start receiving: %v", err)
	}
	s.logger.Info("receive loop started over control socket")
	return s.snapshot()
}

func (s *ControlService) StopReceiving(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.receiver.Stop()
	s.logger.Info("receive loop stopped over control socket")
	return s.snapshot()
}

func (s *ControlService) Save(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.manager.Save(); err != nil {
		var perr *account.PersistenceError
		if errors.As(err, &perr) && perr.Op == "encode" {
			return nil, status.Errorf(codes.Internal, "save account: %v", err)
		}
		return nil, status.Errorf(codes.Unavailable, "save account: %v", err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.NewEvent(bus.KindStateSaved, s.manager.Handle()))
	}
	return s.snapshot()
}

func (s *ControlService) snapshot() (*structpb.Struct, error) {
	fields := map[string]any{
		"running":   s.receiver.Running(),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	if s.machine != nil {
		fields["state"] = string(s.machine.Current())
	}
	s.manager.View(func(st *account.State) {
		fields["account"] = st.Handle
		fields["registered"] = st.Registered
		fields["device_id"] = st.DeviceID
		fields["recipients"] = st.Recipients.Len()
		fields["contacts"] = len(st.Contacts.Contacts)
		fields["groups"] = len(st.Groups.Groups)
		fields["pre_key_id_offset"] = st.PreKeyIDOffset
		fields["next_signed_pre_key_id"] = st.NextSignedPreKeyID
		if st.StableID.Valid {
			fields["uuid"] = st.StableID.UUID.String()
		}
	})
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}
