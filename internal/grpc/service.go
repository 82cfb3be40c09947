package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

const serviceName = "rockfall.alerts.v1.AlertService"

const (
	methodGetAlert         = "/" + serviceName + "/GetAlert"
	methodListActiveAlerts = "/" + serviceName + "/ListActiveAlerts"
	methodAcknowledgeAlert = "/" + serviceName + "/AcknowledgeAlert"
	methodStreamAlerts     = "/" + serviceName + "/StreamAlerts"
)

type GetAlertRequest struct {
	ID string `json:"id"`
}

type ListActiveAlertsRequest struct {
	MinSeverity models.Severity `json:"min_severity,omitempty"`
}

type ListActiveAlertsResponse struct {
	Alerts []models.Alert `json:"alerts"`
}

type AcknowledgeAlertRequest struct {
	ID    string `json:"id"`
	Actor string `json:"actor,omitempty"`
}

type StreamAlertsRequest struct {
	MinSeverity models.Severity `json:"min_severity,omitempty"`
}

// AlertServiceServer is the server API for the alert service.
type AlertServiceServer interface {
	GetAlert(context.Context, *GetAlertRequest) (*models.Alert, error)
	ListActiveAlerts(context.Context, *ListActiveAlertsRequest) (*ListActiveAlertsResponse, error)
	AcknowledgeAlert(context.Context, *AcknowledgeAlertRequest) (*models.Alert, error)
	StreamAlerts(*StreamAlertsRequest, AlertService_StreamAlertsServer) error
}

type AlertService_StreamAlertsServer interface {
	Send(*models.AlertEvent) error
	grpc.ServerStream
}

type streamAlertsServer struct {
	grpc.ServerStream
}

func (x *streamAlertsServer) Send(e *models.AlertEvent) error {
	return x.ServerStream.SendMsg(e)
}

func RegisterAlertServiceServer(s grpc.ServiceRegistrar, srv AlertServiceServer) {
	s.RegisterService(&alertServiceDesc, srv)
}

func getAlertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAlertRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).GetAlert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetAlert}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlertServiceServer).GetAlert(ctx, req.(*GetAlertRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listActiveAlertsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListActiveAlertsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).ListActiveAlerts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListActiveAlerts}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlertServiceServer).ListActiveAlerts(ctx, req.(*ListActiveAlertsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func acknowledgeAlertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AcknowledgeAlertRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).AcknowledgeAlert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAcknowledgeAlert}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlertServiceServer).AcknowledgeAlert(ctx, req.(*AcknowledgeAlertRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamAlertsHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamAlertsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AlertServiceServer).StreamAlerts(in, &streamAlertsServer{stream})
}

var alertServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AlertServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAlert", Handler: getAlertHandler},
		{MethodName: "ListActiveAlerts", Handler: listActiveAlertsHandler},
		{MethodName: "AcknowledgeAlert", Handler: acknowledgeAlertHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamAlerts", Handler: streamAlertsHandler, ServerStreams: true},
	},
	Metadata: "rockfall/alerts/v1/alerts.proto",
}

// Client is a thin client for the alert service using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	out := new(models.Alert)
	if err := c.cc.Invoke(ctx, methodGetAlert, &GetAlertRequest{ID: id}, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListActiveAlerts(ctx context.Context, minSeverity models.Severity) ([]models.Alert, error) {
	out := new(ListActiveAlertsResponse)
	in := &ListActiveAlertsRequest{MinSeverity: minSeverity}
	if err := c.cc.Invoke(ctx, methodListActiveAlerts, in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

func (c *Client) AcknowledgeAlert(ctx context.Context, id, actor string) (*models.Alert, error) {
	out := new(models.Alert)
	in := &AcknowledgeAlertRequest{ID: id, Actor: actor}
	if err := c.cc.Invoke(ctx, methodAcknowledgeAlert, in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamAlerts opens the event stream. Recv returns io.EOF when the server ends it.
func (c *Client) StreamAlerts(ctx context.Context, minSeverity models.Severity) (*AlertStream, error) {
	stream, err := c.cc.NewStream(ctx, &alertServiceDesc.Streams[0], methodStreamAlerts, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&StreamAlertsRequest{MinSeverity: minSeverity}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &AlertStream{stream: stream}, nil
}

type AlertStream struct {
	stream grpc.ClientStream
}

func (s *AlertStream) Recv() (*models.AlertEvent, error) {
	e := new(models.AlertEvent)
	if err := s.stream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}
