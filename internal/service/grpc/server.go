package grpcsvc

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/ordering"
)

// RequestIDHeader — metadata с идентификатором запроса для идемпотентности команд.
const RequestIDHeader = "x-requestid"

const projectionNoShipping = "noshipping"

type addressDTO struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	ZipCode string `json:"zipCode"`
}

type itemDTO struct {
	ProductID      int64  `json:"productId"`
	ProductName    string `json:"productName"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	Units          int32  `json:"units"`
	PictureURL     string `json:"pictureUrl"`
}

type createOrderDraftRequest struct {
	BuyerID    string     `json:"buyerId"`
	PaymentRef string     `json:"paymentRef"`
	Address    addressDTO `json:"address"`
	Items      []itemDTO  `json:"items"`
}

type orderRequest struct {
	OrderID    int64  `json:"orderId"`
	Projection string `json:"projection"`
}

type stockRejectedRequest struct {
	OrderNumber     int64   `json:"orderNumber"`
	RejectedItemIDs []int64 `json:"rejectedItemIds"`
}

type listOrdersRequest struct {
	BuyerID  string `json:"buyerId"`
	PageSize int    `json:"pageSize"`
}

type listOrdersResponse struct {
	Orders []ordering.OrderView `json:"orders"`
}

// Server реализует OrderingCommandsServer поверх сервиса команд.
type Server struct {
	svc    *ordering.Service
	logger *log.Entry
}

// NewServer создаёт gRPC-адаптер.
func NewServer(svc *ordering.Service, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc-ordering")
	}
	return &Server{svc: svc, logger: logger}
}

func (s *Server) CreateOrderDraft(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createOrderDraftRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	requestID, err := requestIDFrom(ctx)
	if err != nil {
		return nil, err
	}

	cmd := ordering.CreateOrderCommand{
		BuyerID:    req.BuyerID,
		PaymentRef: req.PaymentRef,
		Address: domain.Address{
			Street:  req.Address.Street,
			City:    req.Address.City,
			State:   req.Address.State,
			Country: req.Address.Country,
			ZipCode: req.Address.ZipCode,
		},
		Items: make([]ordering.ItemInput, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, ordering.ItemInput(item))
	}

	order, err := s.svc.CreateOrderDraft(ctx, requestID, cmd)
	if err != nil {
		return nil, s.toStatus(MethodCreateOrderDraft, err)
	}
	return encode(ordering.NewOrderView(order, nil, true))
}

func (s *Server) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, MethodCancelOrder, s.svc.CancelOrder)
}

func (s *Server) ShipOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, MethodShipOrder, s.svc.ShipOrder)
}

func (s *Server) SetStockRejectedOrderStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req stockRejectedRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	requestID, err := requestIDFrom(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.svc.SetStockRejectedOrderStatus(ctx, requestID, req.OrderNumber, req.RejectedItemIDs)
	if err != nil {
		return nil, s.toStatus(MethodSetStockRejectedOrderStatus, err)
	}
	return encode(ordering.NewOrderView(order, nil, true))
}

// GetOrder возвращает заказ вместе с историей статусов.
func (s *Server) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req orderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	order, err := s.svc.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(MethodGetOrder, err)
	}
	history, err := s.svc.History(ctx, req.OrderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", req.OrderID).Warn("failed to load order history")
		history = nil
	}
	return encode(ordering.NewOrderView(order, history, req.Projection != projectionNoShipping))
}

func (s *Server) ListOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listOrdersRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	orders, err := s.svc.ListOrders(ctx, req.BuyerID, req.PageSize)
	if err != nil {
		return nil, s.toStatus(MethodListOrders, err)
	}
	resp := listOrdersResponse{Orders: make([]ordering.OrderView, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, ordering.NewOrderView(order, nil, true))
	}
	return encode(resp)
}

type orderCommandFunc func(ctx context.Context, requestID string, orderID int64) (domain.Order, error)

func (s *Server) orderCommand(ctx context.Context, in *structpb.Struct, method string, fn orderCommandFunc) (*structpb.Struct, error) {
	var req orderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	requestID, err := requestIDFrom(ctx)
	if err != nil {
		return nil, err
	}

	order, err := fn(ctx, requestID, req.OrderID)
	if err != nil {
		return nil, s.toStatus(method, err)
	}
	return encode(ordering.NewOrderView(order, nil, true))
}

// toStatus переводит доменную ошибку в gRPC status по её классу.
func (s *Server) toStatus(method string, err error) error {
	code := CodeFor(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"method": method,
		"kind":   domain.Kind(err),
	})
	if code == codes.Internal || code == codes.Unavailable {
		entry.Error("command failed")
	} else {
		entry.Debug("command rejected")
	}
	return status.Error(code, err.Error())
}

// CodeFor сопоставляет класс доменной ошибки с кодом gRPC.
func CodeFor(err error) codes.Code {
	switch domain.Kind(err) {
	case "ok":
		return codes.OK
	case "validation":
		return codes.InvalidArgument
	case "invalid_transition":
		return codes.FailedPrecondition
	case "duplicate_request":
		return codes.AlreadyExists
	case "unknown_order":
		return codes.NotFound
	case "version_conflict":
		return codes.Aborted
	case "persistence_unavailable", "publish_failure":
		return codes.Unavailable
	case "canceled":
		return codes.Canceled
	case "timeout":
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func requestIDFrom(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(RequestIDHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, RequestIDHeader+" metadata is required")
}

func decode(in *structpb.Struct, into any) error {
	if in == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

var _ OrderingCommandsServer = (*Server)(nil)
