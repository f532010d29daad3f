package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/core/service"
)

const canteenServiceName = "canteen.v1.Canteen"

// CanteenServer is the gRPC surface. Messages are google.protobuf.Struct so
// clients need no generated stubs.
type CanteenServer interface {
	SubmitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMenu(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Restock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StationDequeue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StationMarkFulfilled(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var CanteenServiceDesc = grpc.ServiceDesc{
	ServiceName: canteenServiceName,
	HandlerType: (*CanteenServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitOrder", CanteenServer.SubmitOrder),
		unary("ConfirmOrder", CanteenServer.ConfirmOrder),
		unary("CancelOrder", CanteenServer.CancelOrder),
		unary("GetOrderStatus", CanteenServer.GetOrderStatus),
		unary("ListMenu", CanteenServer.ListMenu),
		unary("Restock", CanteenServer.Restock),
		unary("StationDequeue", CanteenServer.StationDequeue),
		unary("StationMarkFulfilled", CanteenServer.StationMarkFulfilled),
	},
	Metadata: "canteen/v1/canteen.proto",
}

type unaryCall func(CanteenServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CanteenServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fmt.Sprintf("/%s/%s", canteenServiceName, name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CanteenServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type GRPCHandler struct {
	orderService *service.OrderService
}

func NewGRPCHandler(orderService *service.OrderService) *GRPCHandler {
	return &GRPCHandler{orderService: orderService}
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&CanteenServiceDesc, h)
}

func (h *GRPCHandler) SubmitOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var lines []domain.OrderLine
	for _, v := range req.GetFields()["lines"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		lines = append(lines, domain.OrderLine{
			ItemID:   f["item_id"].GetStringValue(),
			Quantity: int(f["quantity"].GetNumberValue()),
		})
	}

	order, err := h.orderService.SubmitOrder(ctx, stringField(req, "idempotency_key"), lines)
	if err != nil {
		return nil, grpcError(err)
	}
	return orderStruct(order)
}

func (h *GRPCHandler) ConfirmOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	order, err := h.orderService.ConfirmOrder(ctx, stringField(req, "order_id"))
	if err != nil {
		return nil, grpcError(err)
	}
	return orderStruct(order)
}

func (h *GRPCHandler) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	order, err := h.orderService.CancelOrder(ctx, stringField(req, "order_id"))
	if err != nil {
		return nil, grpcError(err)
	}
	return orderStruct(order)
}

func (h *GRPCHandler) GetOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := stringField(req, "order_id")
	st, err := h.orderService.GetOrderStatus(ctx, orderID)
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{"order_id": orderID, "status": string(st)})
}

func (h *GRPCHandler) ListMenu(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	items, err := h.orderService.ListMenu(ctx)
	if err != nil {
		return nil, grpcError(err)
	}

	list := make([]any, 0, len(items))
	for _, it := range items {
		list = append(list, menuItemMap(it))
	}
	return structpb.NewStruct(map[string]any{"items": list})
}

func (h *GRPCHandler) Restock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	quantity := int(req.GetFields()["quantity"].GetNumberValue())
	item, err := h.orderService.Restock(ctx, stringField(req, "item_id"), quantity)
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(menuItemMap(item))
}

func (h *GRPCHandler) StationDequeue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ticket, ok, err := h.orderService.StationDequeue(ctx, stringField(req, "station_id"))
	if err != nil {
		return nil, grpcError(err)
	}
	if !ok {
		return structpb.NewStruct(map[string]any{"empty": true})
	}
	return structpb.NewStruct(map[string]any{
		"empty":       false,
		"order_id":    ticket.OrderID,
		"station_id":  ticket.StationID,
		"token":       ticket.Token,
		"enqueued_at": ticket.EnqueuedAt.Format(time.RFC3339Nano),
	})
}

func (h *GRPCHandler) StationMarkFulfilled(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	order, err := h.orderService.StationMarkFulfilled(ctx, stringField(req, "order_id"))
	if err != nil {
		return nil, grpcError(err)
	}
	return orderStruct(order)
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func orderStruct(o domain.Order) (*structpb.Struct, error) {
	lines := make([]any, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, map[string]any{"item_id": l.ItemID, "quantity": l.Quantity})
	}
	return structpb.NewStruct(map[string]any{
		"id":         o.ID,
		"status":     string(o.Status),
		"token":      o.Token,
		"total":      formatCents(o.TotalCents),
		"station_id": o.StationID,
		"lines":      lines,
	})
}

func menuItemMap(it domain.MenuItem) map[string]any {
	return map[string]any{
		"id":        it.ID,
		"name":      it.Name,
		"price":     formatCents(it.PriceCents),
		"category":  it.Category,
		"station":   it.StationOrDefault(),
		"available": it.Available,
		"active":    it.Active,
	}
}

func grpcError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		code = codes.ResourceExhausted
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrItemInactive):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrBackpressure):
		code = codes.Unavailable
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidItem):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrDuplicateRequest), errors.Is(err, domain.ErrAlreadyReserved):
		code = codes.Aborted
	}
	return status.Error(code, err.Error())
}
