// Package server exposes the orchestrator over gRPC and HTTP.
//
// The gRPC service reconciler.v1.Reconciler is declared by hand on top of the
// protobuf well-known types, so no generated code is needed:
//
//	Submit(google.protobuf.Struct)      returns (google.protobuf.StringValue)
//	Get(google.protobuf.StringValue)    returns (google.protobuf.Struct)
//	Cancel(google.protobuf.StringValue) returns (google.protobuf.Struct)
//	Reset(google.protobuf.Empty)        returns (google.protobuf.ListValue)
//
// Structs carry the JSON form of orchestrator.JobRequest and
// types.ProcessState.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/JPcasado88/ebay-order-processor-demo/internal/jobmanager"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/orchestrator"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/processstore"
	"github.com/JPcasado88/ebay-order-processor-demo/internal/worker"
	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "reconciler.v1.Reconciler"

// Service is what the transports need from the orchestrator.
type Service interface {
	Submit(ctx context.Context, req orchestrator.JobRequest) (types.ProcessID, error)
	Get(ctx context.Context, id types.ProcessID) (types.ProcessState, error)
	Cancel(ctx context.Context, id types.ProcessID) (types.ProcessState, error)
	Reset(ctx context.Context) ([]types.ProcessID, error)
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// reconcilerServer is the handler type registered with grpc.
type reconcilerServer interface {
	Submit(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Get(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Cancel(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Reset(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// Server implements reconciler.v1.Reconciler.
type Server struct {
	svc Service
	log *slog.Logger
}

// NewServer wraps svc. A nil logger means slog.Default().
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, log: logger}
}

// Register adds the service to a grpc server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// Submit handles job submission. It returns as soon as the job is queued.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	var req orchestrator.JobRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid job request: %v", err)
	}
	id, err := s.svc.Submit(ctx, req)
	if err != nil {
		s.log.Warn("Submit rejected", "error", err)
		return nil, toStatus(err)
	}
	return wrapperspb.String(string(id)), nil
}

// Get returns the current state of a process.
func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	state, err := s.svc.Get(ctx, types.ProcessID(in.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	return stateStruct(state)
}

// Cancel requests cancellation and returns the state observed afterwards.
func (s *Server) Cancel(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	state, err := s.svc.Cancel(ctx, types.ProcessID(in.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	return stateStruct(state)
}

// Reset force-cancels every non-terminal process.
func (s *Server) Reset(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	ids, err := s.svc.Reset(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = string(id)
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return list, nil
}

// ============================================================================
// Service descriptor
// ============================================================================

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*reconcilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unary("Submit", reconcilerServer.Submit)},
		{MethodName: "Get", Handler: unary("Get", reconcilerServer.Get)},
		{MethodName: "Cancel", Handler: unary("Cancel", reconcilerServer.Cancel)},
		{MethodName: "Reset", Handler: unary("Reset", reconcilerServer.Reset)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reconciler/v1/reconciler.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds a grpc.MethodHandler the way protoc-gen-go-grpc does.
func unary[Req, Resp any](name string, call func(reconcilerServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(reconcilerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(reconcilerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ============================================================================
// Conversions
// ============================================================================

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return errors.New("empty message")
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func stateStruct(state types.ProcessState) (*structpb.Struct, error) {
	out, err := toStruct(state)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode state: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC codes.
func toStatus(err error) error {
	return status.Error(grpcCode(err), err.Error())
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest), errors.Is(err, processstore.ErrInvalidID):
		return codes.InvalidArgument
	case errors.Is(err, processstore.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, processstore.ErrTerminal):
		return codes.FailedPrecondition
	case errors.Is(err, jobmanager.ErrAlreadyRunning):
		return codes.AlreadyExists
	case errors.Is(err, worker.ErrQueueFull):
		return codes.ResourceExhausted
	case errors.Is(err, orchestrator.ErrStopped), errors.Is(err, orchestrator.ErrNotStarted):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// ============================================================================
// Client
// ============================================================================

// Client calls a remote reconciler.v1.Reconciler service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an open connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Submit queues a job and returns its process id.
func (c *Client) Submit(ctx context.Context, req orchestrator.JobRequest) (types.ProcessID, error) {
	in, err := toStruct(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, fullMethod("Submit"), in, out); err != nil {
		return "", err
	}
	return types.ProcessID(out.GetValue()), nil
}

// Get polls a process.
func (c *Client) Get(ctx context.Context, id types.ProcessID) (types.ProcessState, error) {
	return c.stateCall(ctx, "Get", id)
}

// Cancel requests cancellation of a process.
func (c *Client) Cancel(ctx context.Context, id types.ProcessID) (types.ProcessState, error) {
	return c.stateCall(ctx, "Cancel", id)
}

// Reset force-cancels every non-terminal process on the server.
func (c *Client) Reset(ctx context.Context) ([]types.ProcessID, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, fullMethod("Reset"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	ids := make([]types.ProcessID, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		ids = append(ids, types.ProcessID(v.GetStringValue()))
	}
	return ids, nil
}

func (c *Client) stateCall(ctx context.Context, method string, id types.ProcessID) (types.ProcessState, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), wrapperspb.String(string(id)), out); err != nil {
		return types.ProcessState{}, err
	}
	var state types.ProcessState
	if err := fromStruct(out, &state); err != nil {
		return types.ProcessState{}, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

var _ Service = (*Client)(nil)
