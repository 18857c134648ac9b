package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordersaga/internal/app"
	grpcsvc "github.com/vladislavdragonenkov/ordersaga/internal/service/grpc"
)

const (
	declineAboveMinor = 100_000
	sagaTimeout       = 5 * time.Second
)

// OrderLifecycleTestSuite поднимает сервис целиком и проходит сагу через gRPC и HTTP.
type OrderLifecycleTestSuite struct {
	suite.Suite

	cancel   context.CancelFunc
	runErr   chan error
	conn     *grpc.ClientConn
	client   *grpcsvc.Client
	httpAddr string
	seq      int
}

func TestOrderLifecycleSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func (s *OrderLifecycleTestSuite) SetupSuite() {
	cfg := app.DefaultConfig()
	cfg.GRPCAddr = freeAddr(s.T())
	cfg.HTTPAddr = freeAddr(s.T())
	cfg.GracePeriod = 300 * time.Millisecond
	cfg.GraceCheckInterval = 20 * time.Millisecond
	cfg.PublishInitialDelay = time.Millisecond
	cfg.PaymentDeclineAbove = declineAboveMinor
	s.httpAddr = cfg.HTTPAddr

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runErr = make(chan error, 1)
	go func() { s.runErr <- app.Run(ctx, cfg) }()

	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err)
	s.conn = conn
	s.client = grpcsvc.NewClient(conn)

	health := healthpb.NewHealthClient(conn)
	s.Require().Eventually(func() bool {
		callCtx, callCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer callCancel()
		resp, err := health.Check(callCtx, &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, sagaTimeout, 20*time.Millisecond, "service did not become ready")
}

func (s *OrderLifecycleTestSuite) TearDownSuite() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.cancel()
	select {
	case err := <-s.runErr:
		s.Require().NoError(err)
	case <-time.After(10 * time.Second):
		s.Fail("service did not stop")
	}
}

func (s *OrderLifecycleTestSuite) requestID() context.Context {
	s.seq++
	return metadata.AppendToOutgoingContext(context.Background(), grpcsvc.RequestIDHeader, fmt.Sprintf("it-%d-%d", time.Now().UnixNano(), s.seq))
}

func (s *OrderLifecycleTestSuite) mustStruct(m map[string]any) *structpb.Struct {
	st, err := structpb.NewStruct(m)
	s.Require().NoError(err)
	return st
}

func (s *OrderLifecycleTestSuite) draftRequest(productID int64, units int, priceMinor int64) *structpb.Struct {
	return s.mustStruct(map[string]any{
		"buyerId":    "buyer-it",
		"paymentRef": "card-4242",
		"address":    map[string]any{"street": "Main 1", "city": "Riga", "country": "LV", "zipCode": "1010"},
		"items": []any{map[string]any{
			"productId":      productID,
			"productName":    "Mug",
			"unitPriceMinor": priceMinor,
			"units":          units,
		}},
	})
}

func (s *OrderLifecycleTestSuite) createOrder(ctx context.Context, productID int64, units int, priceMinor int64) int64 {
	resp, err := s.client.Call(ctx, grpcsvc.MethodCreateOrderDraft, s.draftRequest(productID, units, priceMinor))
	s.Require().NoError(err)
	s.Require().Equal("submitted", resp.GetFields()["status"].GetStringValue())
	id := int64(resp.GetFields()["orderId"].GetNumberValue())
	s.Require().Positive(id)
	return id
}

func (s *OrderLifecycleTestSuite) getOrder(id int64) *structpb.Struct {
	resp, err := s.client.Call(context.Background(), grpcsvc.MethodGetOrder, s.mustStruct(map[string]any{"orderId": id}))
	s.Require().NoError(err)
	return resp
}

func (s *OrderLifecycleTestSuite) waitForStatus(id int64, want string) *structpb.Struct {
	var last *structpb.Struct
	s.Require().Eventually(func() bool {
		last = s.getOrder(id)
		return last.GetFields()["status"].GetStringValue() == want
	}, sagaTimeout, 20*time.Millisecond, "order %d did not reach %s", id, want)
	return last
}

func timelineStatuses(order *structpb.Struct) []string {
	var out []string
	for _, v := range order.GetFields()["timeline"].GetListValue().GetValues() {
		out = append(out, v.GetStructValue().GetFields()["to"].GetStringValue())
	}
	return out
}

func (s *OrderLifecycleTestSuite) TestHappyPathCompletes() {
	id := s.createOrder(s.requestID(), 1, 2, 1500)

	order := s.waitForStatus(id, "completed")
	s.Equal(
		[]string{"submitted", "awaiting_validation", "stock_confirmed", "paid", "shipped", "completed"},
		timelineStatuses(order),
	)
	s.Equal(float64(3000), order.GetFields()["totalMinor"].GetNumberValue())
}

func (s *OrderLifecycleTestSuite) TestInsufficientStockCancels() {
	id := s.createOrder(s.requestID(), 3, 500, 100)

	order := s.waitForStatus(id, "cancelled")
	s.Contains(order.GetFields()["description"].GetStringValue(), "insufficient stock")
}

func (s *OrderLifecycleTestSuite) TestPaymentDeclineCancels() {
	id := s.createOrder(s.requestID(), 2, 10, declineAboveMinor)

	order := s.waitForStatus(id, "cancelled")
	s.Contains(timelineStatuses(order), "stock_confirmed")
	s.NotContains(timelineStatuses(order), "paid")
}

func (s *OrderLifecycleTestSuite) TestBuyerCancelsDuringGracePeriod() {
	id := s.createOrder(s.requestID(), 1, 1, 1500)

	resp, err := s.client.Call(s.requestID(), grpcsvc.MethodCancelOrder, s.mustStruct(map[string]any{"orderId": id}))
	s.Require().NoError(err)
	s.Equal("cancelled", resp.GetFields()["status"].GetStringValue())

	// После истечения grace period заказ остаётся отменённым.
	time.Sleep(400 * time.Millisecond)
	s.Equal("cancelled", s.getOrder(id).GetFields()["status"].GetStringValue())
}

func (s *OrderLifecycleTestSuite) TestDuplicateRequestIsRejected() {
	ctx := s.requestID()
	s.createOrder(ctx, 1, 1, 1500)

	_, err := s.client.Call(ctx, grpcsvc.MethodCreateOrderDraft, s.draftRequest(1, 1, 1500))
	s.Equal(codes.AlreadyExists, status.Code(err))
}

func (s *OrderLifecycleTestSuite) TestUnknownOrderNotFound() {
	_, err := s.client.Call(context.Background(), grpcsvc.MethodGetOrder, s.mustStruct(map[string]any{"orderId": 987654}))
	s.Equal(codes.NotFound, status.Code(err))
}

func (s *OrderLifecycleTestSuite) TestHTTPQueryMatchesGRPC() {
	id := s.createOrder(s.requestID(), 1, 1, 1500)
	s.waitForStatus(id, "completed")

	resp, err := http.Get("http://" + s.httpAddr + "/orders/" + strconv.FormatInt(id, 10) + "?projection=noshipping")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		ID     int64  `json:"orderId"`
		Status string `json:"status"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Equal(id, body.ID)
	s.Equal("completed", body.Status)

	ready, err := http.Get("http://" + s.httpAddr + "/readyz")
	s.Require().NoError(err)
	_ = ready.Body.Close()
	s.Equal(http.StatusOK, ready.StatusCode)
}
