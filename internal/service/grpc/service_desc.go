package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса команд.
const ServiceName = "ordering.v1.OrderingCommands"

// Имена методов.
const (
	MethodCreateOrderDraft            = "CreateOrderDraft"
	MethodCancelOrder                 = "CancelOrder"
	MethodSetStockRejectedOrderStatus = "SetStockRejectedOrderStatus"
	MethodShipOrder                   = "ShipOrder"
	MethodGetOrder                    = "GetOrder"
	MethodListOrders                  = "ListOrders"
)

// OrderingCommandsServer — серверная сторона. Сообщения передаются как google.protobuf.Struct.
type OrderingCommandsServer interface {
	CreateOrderDraft(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetStockRejectedOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ShipOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(OrderingCommandsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderingCommandsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderingCommandsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod возвращает путь метода для Invoke и интерсепторов.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc описывает сервис для grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderingCommandsServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodCreateOrderDraft, OrderingCommandsServer.CreateOrderDraft),
		unaryHandler(MethodCancelOrder, OrderingCommandsServer.CancelOrder),
		unaryHandler(MethodSetStockRejectedOrderStatus, OrderingCommandsServer.SetStockRejectedOrderStatus),
		unaryHandler(MethodShipOrder, OrderingCommandsServer.ShipOrder),
		unaryHandler(MethodGetOrder, OrderingCommandsServer.GetOrder),
		unaryHandler(MethodListOrders, OrderingCommandsServer.ListOrders),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ordering/v1/ordering.proto",
}

// Register регистрирует реализацию на сервере.
func Register(s grpc.ServiceRegistrar, srv OrderingCommandsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client — клиент сервиса команд.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call вызывает метод method с запросом in.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
