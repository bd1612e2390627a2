package connectors

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Методы мостового сервиса перед кластером оркестратора. Сообщения: google.protobuf.Struct.
const (
	startWorkflowMethod    = "/cplane.bridge.v1.WorkflowBridge/StartWorkflow"
	describeWorkflowMethod = "/cplane.bridge.v1.WorkflowBridge/DescribeWorkflow"
	cancelWorkflowMethod   = "/cplane.bridge.v1.WorkflowBridge/CancelWorkflow"
)

// Ключи метаданных gRPC (в нижнем регистре).
const (
	MDToken          = "x-cplane-token"
	MDIdempotencyKey = "x-idempotency-key"
	MDTriggerID      = "x-trigger-id"
)

type submitCtxKey struct{}

func withSubmitOptions(ctx context.Context, opts SubmitOptions) context.Context {
	return context.WithValue(ctx, submitCtxKey{}, opts)
}

// UnaryCredentialsInterceptor кладет токен и ключ идемпотентности из контекста в исходящие метаданные.
func UnaryCredentialsInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		if opts, ok := ctx.Value(submitCtxKey{}).(SubmitOptions); ok {
			pairs := []string{}
			if opts.Token != "" {
				pairs = append(pairs, MDToken, opts.Token)
			}
			if opts.IdempotencyKey != "" {
				pairs = append(pairs, MDIdempotencyKey, opts.IdempotencyKey)
			}
			if opts.TriggerID != "" {
				pairs = append(pairs, MDTriggerID, opts.TriggerID)
			}
			if len(pairs) > 0 {
				ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
			}
		}
		return invoker(ctx, method, req, reply, cc, callOpts...)
	}
}

// TemporalBackend отправляет запуск через gRPC-мост.
type TemporalBackend struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// DialTemporal создает клиентское соединение; реальный коннект ленивый.
func DialTemporal(addr string, extra ...grpc.DialOption) (*TemporalBackend, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(UnaryCredentialsInterceptor()),
	}, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("temporal: dial %s: %w", addr, err)
	}
	return NewTemporalBackend(conn), nil
}

func NewTemporalBackend(conn *grpc.ClientConn) *TemporalBackend {
	return &TemporalBackend{conn: conn, health: healthpb.NewHealthClient(conn)}
}

func (t *TemporalBackend) Name() string { return "temporal" }

func (t *TemporalBackend) Submit(ctx context.Context, workflow string, args map[string]any, opts SubmitOptions) (*Handle, error) {
	req, err := structpb.NewStruct(map[string]any{
		"workflow":        workflow,
		"workflow_id":     opts.IdempotencyKey,
		"args":            normalize(args),
		"idempotency_key": opts.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal: build request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := t.conn.Invoke(withSubmitOptions(ctx, opts), startWorkflowMethod, req, resp); err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			return nil, &ThrottleError{RetryAfter: time.Second, Cause: err}
		}
		return nil, fmt.Errorf("temporal: start workflow: %w", err)
	}

	out := resp.AsMap()
	out["workflow_id"] = opts.IdempotencyKey
	h := &Handle{Backend: t.Name(), Workflow: workflow, Status: "started", Details: out}
	if runID, ok := out["run_id"].(string); ok {
		h.RunID = runID
	}
	if st, ok := out["status"].(string); ok && st != "" {
		h.Status = st
	}
	return h, nil
}

func (t *TemporalBackend) Status(ctx context.Context, h *Handle) (*Handle, error) {
	resp := &structpb.Struct{}
	if err := t.invokeRun(ctx, describeWorkflowMethod, h, resp); err != nil {
		return nil, fmt.Errorf("temporal: describe workflow: %w", err)
	}
	out := *h
	if st, ok := resp.AsMap()["status"].(string); ok && st != "" {
		out.Status = st
	}
	return &out, nil
}

func (t *TemporalBackend) Cancel(ctx context.Context, h *Handle) error {
	if err := t.invokeRun(ctx, cancelWorkflowMethod, h, &structpb.Struct{}); err != nil {
		return fmt.Errorf("temporal: cancel workflow: %w", err)
	}
	return nil
}

// invokeRun адресует запуск парой workflow_id/run_id.
func (t *TemporalBackend) invokeRun(ctx context.Context, method string, h *Handle, resp *structpb.Struct) error {
	workflowID, _ := h.Details["workflow_id"].(string)
	req, err := structpb.NewStruct(map[string]any{
		"workflow_id": workflowID,
		"run_id":      h.RunID,
	})
	if err != nil {
		return err
	}
	err = t.conn.Invoke(ctx, method, req, resp)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrRunNotFound, h.RunID)
	}
	return err
}

func (t *TemporalBackend) Health(ctx context.Context) error {
	resp, err := t.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("temporal: health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("temporal: health status %s", resp.GetStatus())
	}
	return nil
}

func (t *TemporalBackend) Close() error {
	return t.conn.Close()
}

// normalize приводит значения к виду, который принимает structpb (числа: float64, срезы: []any).
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = val
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = val
		}
		return out
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case uint:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	}
	return v
}
