package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"dinehub.org/internal/auth"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Shutdown()
		_ = listener.Close()
	})
	return conn
}

func TestGRPCHealthNeedsNoToken(t *testing.T) {
	h := newHarness(t, nil)
	srv := NewGRPCServer(h.tokens, nil, zerolog.Nop())
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPCReadinessFailure(t *testing.T) {
	h := newHarness(t, nil)
	failing := map[string]ReadyProbe{"db": pingFunc(func(context.Context) error { return errors.New("boom") })}
	srv := NewGRPCServer(h.tokens, failing, zerolog.Nop())
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, srv.CheckReadiness(ctx))

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestUnaryAuthInterceptor(t *testing.T) {
	h := newHarness(t, nil)
	h.seedUser(tenantA, "cashier-1", "cashier")
	pair := h.login(tenantA, "cashier-1")
	intercept := UnaryAuthInterceptor(h.tokens, zerolog.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: "/dinehub.orders.v1.Orders/Create"}

	var seen *auth.Claims
	handler := func(ctx context.Context, _ any) (any, error) {
		seen, _ = auth.ClaimsFromContext(ctx)
		return "ok", RequirePermission(ctx, "orders.create")
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+pair.AccessToken))
	out, err := intercept(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	require.NotNil(t, seen)
	assert.Equal(t, "cashier-1", seen.Subject)

	denied := func(ctx context.Context, _ any) (any, error) {
		return nil, RequirePermission(ctx, "billing.refund")
	}
	_, err = intercept(ctx, nil, info, denied)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	for _, md := range []metadata.MD{
		nil,
		metadata.Pairs("authorization", "Bearer "+pair.RefreshToken),
		metadata.Pairs("authorization", "Basic abc"),
	} {
		ctx := context.Background()
		if md != nil {
			ctx = metadata.NewIncomingContext(ctx, md)
		}
		_, err := intercept(ctx, nil, info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	}
}

func TestUnaryAuthInterceptorSkipsHealth(t *testing.T) {
	intercept := UnaryAuthInterceptor(nil, zerolog.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	out, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) { return "up", nil })
	require.NoError(t, err)
	assert.Equal(t, "up", out)
}
