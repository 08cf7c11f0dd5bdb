package httpapi

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"dinehub.org/internal/auth"
	"dinehub.org/internal/obs"
)

// TokenValidator validates access tokens for the gRPC interceptors.
type TokenValidator interface {
	ValidateAccess(ctx context.Context, signed string) (*auth.Validated, error)
}

// healthPrefix marks methods that never require a token.
const healthPrefix = "/grpc.health.v1.Health/"

// GRPCServer bundles the gRPC server with its health service.
type GRPCServer struct {
	*grpc.Server
	health *health.Server
	probes map[string]ReadyProbe
	log    zerolog.Logger
}

// NewGRPCServer builds a server whose every call except health checks requires a valid access token.
func NewGRPCServer(tokens TokenValidator, probes map[string]ReadyProbe, log zerolog.Logger, opts ...grpc.ServerOption) *GRPCServer {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(tokens, log)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(tokens, log)),
	)
	s := &GRPCServer{
		Server: grpc.NewServer(opts...),
		health: health.NewServer(),
		probes: probes,
		log:    log,
	}
	healthpb.RegisterHealthServer(s.Server, s.health)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// CheckReadiness pings every probe and publishes the result through the health service.
func (s *GRPCServer) CheckReadiness(ctx context.Context) error {
	var errs []error
	for name, p := range s.probes {
		if err := p.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Str("probe", name).Msg("grpc readiness check failed")
			errs = append(errs, err)
		}
	}
	st := healthpb.HealthCheckResponse_SERVING
	if len(errs) > 0 {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
	obs.SetReady(len(errs) == 0)
	return errors.Join(errs...)
}

// Shutdown marks the service as not serving and stops gracefully.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
	s.GracefulStop()
}

// UnaryAuthInterceptor validates "authorization: Bearer <token>" metadata and stores the claims in the context.
func UnaryAuthInterceptor(tokens TokenValidator, log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}
		ctx, err := authenticateGRPC(ctx, tokens, log, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is the streaming counterpart of UnaryAuthInterceptor.
func StreamAuthInterceptor(tokens TokenValidator, log zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(srv, ss)
		}
		ctx, err := authenticateGRPC(ss.Context(), tokens, log, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func authenticateGRPC(ctx context.Context, tokens TokenValidator, log zerolog.Logger, method string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if vals := md.Get("authorization"); len(vals) > 0 {
		header = vals[0]
	}
	token, err := extractBearerToken(header)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	v, err := tokens.ValidateAccess(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		log.Error().Err(err).Str("method", method).Msg("grpc authentication failed")
		return nil, status.Error(codes.Internal, "internal error")
	}
	ctx = auth.ContextWithClaims(ctx, v.Claims)
	return auth.ContextWithToken(ctx, token), nil
}

// RequirePermission checks the caller's snapshot inside a gRPC handler.
func RequirePermission(ctx context.Context, perm string) error {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	if err := auth.Authorize(claims, perm); err != nil {
		return status.Error(codes.PermissionDenied, "permission denied")
	}
	return nil
}
