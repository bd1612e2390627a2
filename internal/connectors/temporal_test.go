package connectors

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type bridgeCall struct {
	method string
	md     metadata.MD
	req    map[string]any
}

func startBridge(t *testing.T, calls chan<- bridgeCall) *TemporalBackend {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		md, _ := metadata.FromIncomingContext(stream.Context())
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		calls <- bridgeCall{method: method, md: md, req: req.AsMap()}
		resp, _ := structpb.NewStruct(map[string]any{"run_id": "run-42", "status": "running"})
		return stream.SendMsg(resp)
	}))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	backend, err := DialTemporal("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestTemporalBackend_SubmitCarriesMetadata(t *testing.T) {
	calls := make(chan bridgeCall, 1)
	b := startBridge(t, calls)

	h, err := b.Submit(context.Background(), "OrderSync", map[string]any{"n": 3, "tags": []string{"a"}},
		SubmitOptions{Token: "jwt-value", IdempotencyKey: "idem-1", TriggerID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "run-42", h.RunID)
	assert.Equal(t, "running", h.Status)
	assert.Equal(t, "temporal", h.Backend)

	call := <-calls
	assert.Equal(t, startWorkflowMethod, call.method)
	assert.Equal(t, []string{"jwt-value"}, call.md.Get(MDToken))
	assert.Equal(t, []string{"idem-1"}, call.md.Get(MDIdempotencyKey))
	assert.Equal(t, []string{"t1"}, call.md.Get(MDTriggerID))
	assert.Equal(t, "OrderSync", call.req["workflow"])
	assert.Equal(t, "idem-1", call.req["workflow_id"])
	args := call.req["args"].(map[string]any)
	assert.Equal(t, 3.0, args["n"])
}

func TestTemporalBackend_Health(t *testing.T) {
	b := startBridge(t, make(chan bridgeCall, 1))
	assert.NoError(t, b.Health(context.Background()))
}

func TestTemporalBackend_StatusAndCancel(t *testing.T) {
	calls := make(chan bridgeCall, 3)
	b := startBridge(t, calls)
	ctx := context.Background()

	h, err := b.Submit(ctx, "OrderSync", nil, SubmitOptions{IdempotencyKey: "idem-2"})
	require.NoError(t, err)
	<-calls

	st, err := b.Status(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	call := <-calls
	assert.Equal(t, describeWorkflowMethod, call.method)
	assert.Equal(t, "idem-2", call.req["workflow_id"])
	assert.Equal(t, "run-42", call.req["run_id"])

	require.NoError(t, b.Cancel(ctx, h))
	assert.Equal(t, cancelWorkflowMethod, (<-calls).method)
}
