package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"weinstein/internal/dashboard"
	"weinstein/internal/history"
	"weinstein/internal/store"
)

// StageServiceName is the fully qualified gRPC service name.
const StageServiceName = "weinstein.v1.StageService"

const (
	methodGetStockDetail  = "/" + StageServiceName + "/GetStockDetail"
	methodListTransitions = "/" + StageServiceName + "/ListTransitions"
)

// StageServer is the server API of weinstein.v1.StageService. Requests and
// responses are free-form structs carrying the same JSON shapes as the REST
// API.
type StageServer interface {
	GetStockDetail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListTransitions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// StageServiceDesc describes weinstein.v1.StageService for grpc.Server.
var StageServiceDesc = grpc.ServiceDesc{
	ServiceName: StageServiceName,
	HandlerType: (*StageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStockDetail", Handler: unaryHandler(methodGetStockDetail, StageServer.GetStockDetail)},
		{MethodName: "ListTransitions", Handler: unaryHandler(methodListTransitions, StageServer.ListTransitions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "weinstein/v1/stage.proto",
}

func unaryHandler(fullMethod string, call func(StageServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StageServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StageServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// StageService serves stage history over gRPC.
type StageService struct {
	svc          *dashboard.Service
	defaultWeeks int
	log          *slog.Logger
}

var _ StageServer = (*StageService)(nil)

// NewStageService creates a StageService backed by the dashboard service.
func NewStageService(svc *dashboard.Service, defaultWeeks int, log *slog.Logger) *StageService {
	if log == nil {
		log = slog.Default()
	}
	return &StageService{svc: svc, defaultWeeks: defaultWeeks, log: log}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *StageService) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&StageServiceDesc, s)
}

// GetStockDetail takes {"ticker", "weeks"} and returns the stock detail
// payload.
func (s *StageService) GetStockDetail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ticker, weeks, err := s.tickerAndWeeks(req)
	if err != nil {
		return nil, err
	}
	d, err := s.svc.StockDetail(ctx, ticker, weeks)
	if err != nil {
		return nil, s.grpcError(methodGetStockDetail, err)
	}
	return toStruct(d)
}

// ListTransitions takes {"ticker", "weeks", "limit"} and returns
// {"ticker", "weeks", "transitions"}, most recent first.
func (s *StageService) ListTransitions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ticker, weeks, err := s.tickerAndWeeks(req)
	if err != nil {
		return nil, err
	}
	limit := dashboard.RecentTransitionCount
	if v, ok := req.GetFields()["limit"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != float64(int(n)) {
			return nil, status.Errorf(codes.InvalidArgument, "invalid limit %v", n)
		}
		limit = int(n)
	}
	ts, err := s.svc.Transitions(ctx, ticker, weeks, limit)
	if err != nil {
		return nil, s.grpcError(methodListTransitions, err)
	}
	if ts == nil {
		ts = []history.Transition{}
	}
	return toStruct(map[string]any{"ticker": ticker, "weeks": weeks, "transitions": ts})
}

func (s *StageService) tickerAndWeeks(req *structpb.Struct) (string, int, error) {
	f := req.GetFields()
	ticker := f["ticker"].GetStringValue()
	if ticker == "" {
		return "", 0, status.Error(codes.InvalidArgument, "ticker is required")
	}
	weeks := s.defaultWeeks
	if v, ok := f["weeks"]; ok {
		switch k := v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			if k.NumberValue < 0 || k.NumberValue != float64(int(k.NumberValue)) {
				return "", 0, status.Errorf(codes.InvalidArgument, "invalid weeks %v", k.NumberValue)
			}
			weeks = int(k.NumberValue)
		case *structpb.Value_StringValue:
			n, ok := history.ParsePeriod(k.StringValue)
			if !ok {
				return "", 0, status.Errorf(codes.InvalidArgument, "invalid weeks %q", k.StringValue)
			}
			weeks = n
		}
	}
	return ticker, weeks, nil
}

func (s *StageService) grpcError(method string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, dashboard.ErrNoHistory):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.log.Error("grpc call failed", "method", method, "error", err)
	return status.Error(codes.Internal, "internal error")
}

// toStruct converts a JSON-encodable value into a structpb.Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return st, nil
}

// fromStruct decodes a structpb.Struct into v through its JSON form.
func fromStruct(st *structpb.Struct, v any) error {
	b, err := json.Marshal(st.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// StageClient calls weinstein.v1.StageService.
type StageClient struct {
	cc grpc.ClientConnInterface
}

// NewStageClient wraps an established connection.
func NewStageClient(cc grpc.ClientConnInterface) *StageClient {
	return &StageClient{cc: cc}
}

// StockDetail fetches the detail payload for ticker over a window of weeks
// (0 for all).
func (c *StageClient) StockDetail(ctx context.Context, ticker string, weeks int) (*dashboard.StockDetail, error) {
	in, err := structpb.NewStruct(map[string]any{"ticker": ticker, "weeks": weeks})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetStockDetail, in, out); err != nil {
		return nil, err
	}
	var d dashboard.StockDetail
	if err := fromStruct(out, &d); err != nil {
		return nil, fmt.Errorf("decoding stock detail: %w", err)
	}
	return &d, nil
}

// Transitions fetches up to limit recent stage changes, most recent first.
func (c *StageClient) Transitions(ctx context.Context, ticker string, weeks, limit int) ([]history.Transition, error) {
	in, err := structpb.NewStruct(map[string]any{"ticker": ticker, "weeks": weeks, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListTransitions, in, out); err != nil {
		return nil, err
	}
	var resp struct {
		Transitions []history.Transition `json:"transitions"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decoding transitions: %w", err)
	}
	return resp.Transitions, nil
}
