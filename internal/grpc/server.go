package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/go-rockfall-alerts/internal/apperr"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

// AlertManager is the slice of the alert lifecycle the gRPC surface exposes.
type AlertManager interface {
	Get(id string) (*models.Alert, error)
	Active() []models.Alert
	Acknowledge(ctx context.Context, id, actor string) (*models.Alert, error)
}

type Server struct {
	alerts      AlertManager
	broadcaster *Broadcaster
	grpcServer  *grpc.Server
}

func NewServer(alerts AlertManager, broadcaster *Broadcaster) *Server {
	s := &Server{
		alerts:      alerts,
		broadcaster: broadcaster,
		grpcServer:  grpc.NewServer(),
	}
	RegisterAlertServiceServer(s.grpcServer, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop waits for in-flight RPCs. Close the broadcaster first so open streams return.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) GetAlert(ctx context.Context, req *GetAlertRequest) (*models.Alert, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	alert, err := s.alerts.Get(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return alert, nil
}

func (s *Server) ListActiveAlerts(ctx context.Context, req *ListActiveAlertsRequest) (*ListActiveAlertsResponse, error) {
	floor, err := minSeverity(req.MinSeverity)
	if err != nil {
		return nil, err
	}

	resp := &ListActiveAlertsResponse{Alerts: []models.Alert{}}
	for _, a := range s.alerts.Active() {
		if a.Severity.Rank() >= floor {
			resp.Alerts = append(resp.Alerts, a)
		}
	}
	return resp, nil
}

func (s *Server) AcknowledgeAlert(ctx context.Context, req *AcknowledgeAlertRequest) (*models.Alert, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	alert, err := s.alerts.Acknowledge(ctx, req.ID, req.Actor)
	if err != nil {
		return nil, toStatus(err)
	}
	return alert, nil
}

func (s *Server) StreamAlerts(req *StreamAlertsRequest, stream AlertService_StreamAlertsServer) error {
	floor, err := minSeverity(req.MinSeverity)
	if err != nil {
		return err
	}

	id, ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	slog.Info("client subscribed to alert stream", "subscriber_id", id, "min_severity", req.MinSeverity)

	for {
		select {
		case <-stream.Context().Done():
			slog.Info("client disconnected from alert stream", "subscriber_id", id)
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.Alert == nil || e.Alert.Severity.Rank() < floor {
				continue
			}
			if err := stream.Send(e); err != nil {
				slog.Error("failed to send alert event to stream", "error", err, "subscriber_id", id)
				return err
			}
		}
	}
}

func minSeverity(s models.Severity) (int, error) {
	if s == "" {
		return 0, nil
	}
	sev, err := models.ParseSeverity(string(s))
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid min_severity: %s", s)
	}
	return sev.Rank(), nil
}

func toStatus(err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, apperr.ErrAlertNotFound):
		return status.Error(codes.NotFound, msg)
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrEscalationLimit):
		return status.Error(codes.FailedPrecondition, msg)
	case errors.Is(err, apperr.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
