package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/canteen/internal/core/service"
)

func newGRPCClient(t *testing.T, svc *service.OrderService) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewGRPCHandler(svc).Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), "/"+canteenServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPC_OrderFlow(t *testing.T) {
	conn := newGRPCClient(t, newTestService(t, service.QueueConfig{}))

	menu, err := invoke(t, conn, "ListMenu", nil)
	require.NoError(t, err)
	assert.Len(t, menu.GetFields()["items"].GetListValue().GetValues(), 2)

	order, err := invoke(t, conn, "SubmitOrder", map[string]any{
		"lines": []any{map[string]any{"item_id": "veg-biryani", "quantity": 2}},
	})
	require.NoError(t, err)
	orderID := order.GetFields()["id"].GetStringValue()
	assert.Equal(t, "reserved", order.GetFields()["status"].GetStringValue())
	assert.Equal(t, "120.00", order.GetFields()["total"].GetStringValue())

	_, err = invoke(t, conn, "ConfirmOrder", map[string]any{"order_id": orderID})
	require.NoError(t, err)

	ticket, err := invoke(t, conn, "StationDequeue", map[string]any{"station_id": "counter"})
	require.NoError(t, err)
	assert.False(t, ticket.GetFields()["empty"].GetBoolValue())
	assert.Equal(t, orderID, ticket.GetFields()["order_id"].GetStringValue())

	_, err = invoke(t, conn, "StationMarkFulfilled", map[string]any{"order_id": orderID})
	require.NoError(t, err)

	st, err := invoke(t, conn, "GetOrderStatus", map[string]any{"order_id": orderID})
	require.NoError(t, err)
	assert.Equal(t, "fulfilled", st.GetFields()["status"].GetStringValue())

	empty, err := invoke(t, conn, "StationDequeue", map[string]any{"station_id": "counter"})
	require.NoError(t, err)
	assert.True(t, empty.GetFields()["empty"].GetBoolValue())
}

func TestGRPC_ErrorCodes(t *testing.T) {
	conn := newGRPCClient(t, newTestService(t, service.QueueConfig{}))

	_, err := invoke(t, conn, "SubmitOrder", map[string]any{
		"lines": []any{map[string]any{"item_id": "veg-biryani", "quantity": 9}},
	})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	_, err = invoke(t, conn, "CancelOrder", map[string]any{"order_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = invoke(t, conn, "SubmitOrder", map[string]any{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, "Restock", map[string]any{"item_id": "samosa", "quantity": 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	item, err := invoke(t, conn, "Restock", map[string]any{"item_id": "samosa", "quantity": 5})
	require.NoError(t, err)
	assert.Equal(t, float64(15), item.GetFields()["available"].GetNumberValue())
}
