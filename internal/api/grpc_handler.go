package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"kings-storefront/internal/logger"
	"kings-storefront/internal/pos"
	"kings-storefront/internal/store"
)

// PointOfSaleServer is the gRPC surface of the sales counter. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
type PointOfSaleServer interface {
	Quote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetProduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler implements PointOfSaleServer.
type GRPCHandler struct {
	catalog CatalogReader
	pricing pos.Pricing // counter pricing
}

// NewGRPCHandler creates a new GRPCHandler.
func NewGRPCHandler(catalog CatalogReader, pricing pos.Pricing) *GRPCHandler {
	return &GRPCHandler{catalog: catalog, pricing: pricing}
}

// --- Helper: Error Mapping ---
func mapStoreErrorToGrpcStatus(err error, resourceName string, resourceID interface{}) error {
	if err == nil {
		return nil
	}
	logger.WithModule("grpc").WithError(err).Errorf("store operation for %s %v failed", resourceName, resourceID)

	switch {
	case errors.Is(err, store.ErrCategoryNotFound), errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrReceiptNotFound):
		return status.Errorf(codes.NotFound, "%s with ID %v not found", resourceName, resourceID)
	case errors.Is(err, store.ErrReceiptExists):
		return status.Errorf(codes.AlreadyExists, "A %s with the given key already exists", resourceName)
	default:
		return status.Errorf(codes.Internal, "Failed to process request for %s ID %v: %v", resourceName, resourceID, err)
	}
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// toStruct encodes v into a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Point of Sale gRPC Methods Implementation ---

func (s *GRPCHandler) Quote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var input QuoteInput
	if err := fromStruct(req, &input); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed quote request: %v", err)
	}
	if len(input.Lines) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one line is required")
	}

	q, err := pos.Price(input.Lines, input.Pricing(s.pricing), input.AmountReceived)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out, err := toStruct(q)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding quote: %v", err)
	}
	return out, nil
}

func (s *GRPCHandler) GetProduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "Product ID is required")
	}

	product, err := s.catalog.GetProductByID(ctx, id)
	if err != nil {
		return nil, mapStoreErrorToGrpcStatus(err, "Product", id)
	}

	out, err := toStruct(product)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding product: %v", err)
	}
	return out, nil
}

// --- Service registration ---

const pointOfSaleServiceName = "kings.pos.v1.PointOfSale"

func unaryStructHandler(method string, call func(PointOfSaleServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := fmt.Sprintf("/%s/%s", pointOfSaleServiceName, method)
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PointOfSaleServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PointOfSaleServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// PointOfSaleServiceDesc describes the service for grpc.Server.RegisterService.
var PointOfSaleServiceDesc = grpc.ServiceDesc{
	ServiceName: pointOfSaleServiceName,
	HandlerType: (*PointOfSaleServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Quote",
			Handler: unaryStructHandler("Quote", func(s PointOfSaleServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Quote(ctx, in)
			}),
		},
		{
			MethodName: "GetProduct",
			Handler: unaryStructHandler("GetProduct", func(s PointOfSaleServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.GetProduct(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterPointOfSaleServer registers srv with s.
func RegisterPointOfSaleServer(s grpc.ServiceRegistrar, srv PointOfSaleServer) {
	s.RegisterService(&PointOfSaleServiceDesc, srv)
}
