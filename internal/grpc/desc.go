package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Сервис описан вручную поверх well-known типов protobuf:
// модели дашборда динамические, отдельная .proto схема для них не нужна.
const (
	ServiceName = "dashboard.v1.DashboardService"

	MethodGetView    = "/" + ServiceName + "/GetView"
	MethodListTopics = "/" + ServiceName + "/ListTopics"
	MethodGetStatus  = "/" + ServiceName + "/GetStatus"
	MethodWatchView  = "/" + ServiceName + "/WatchView"
)

// DashboardServer серверная часть dashboard.v1.DashboardService
type DashboardServer interface {
	GetView(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	ListTopics(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
	GetStatus(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error)
	WatchView(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DashboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetView", Handler: getViewHandler},
		{MethodName: "ListTopics", Handler: listTopicsHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchView", Handler: watchViewHandler, ServerStreams: true},
	},
	Metadata: "dashboard/v1/dashboard.proto",
}

// RegisterDashboardServer регистрирует реализацию на gRPC сервере
func RegisterDashboardServer(s grpc.ServiceRegistrar, srv DashboardServer) {
	s.RegisterService(&serviceDesc, srv)
}

func getViewHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DashboardServer).GetView(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetView}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DashboardServer).GetView(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listTopicsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DashboardServer).ListTopics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListTopics}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DashboardServer).ListTopics(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DashboardServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetStatus}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DashboardServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchViewHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DashboardServer).WatchView(in, stream)
}

// Client клиент dashboard.v1.DashboardService
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetView(ctx context.Context, topic string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetView, wrapperspb.String(topic), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListTopics(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, MethodListTopics, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetStatus(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, MethodGetStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// WatchView открывает поток моделей топика; поток закрывается отменой ctx
func (c *Client) WatchView(ctx context.Context, topic string, opts ...grpc.CallOption) (*ViewStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], MethodWatchView, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(topic)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ViewStream{stream: stream}, nil
}

type ViewStream struct {
	stream grpc.ClientStream
}

func (s *ViewStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}
