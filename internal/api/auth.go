package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"loft/internal/config"
	"loft/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	clientKeyUnknown    = "unknown"
	anonymousActor      = "anonymous"
)

var (
	errMissingAPIKey = errors.New("missing api key")
	errInvalidAPIKey = errors.New("invalid api key")
)

type actorKey struct{}

// WithActor stores the authenticated caller in ctx.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.Actor)
	return actor, ok
}

// Authenticator resolves API keys to actors and rate limits callers.
// It is shared by the HTTP and gRPC transports.
type Authenticator struct {
	cfg         *config.APIConfig
	clients     []config.APIClientKey
	defaultRole models.Role
	limiter     *rateLimiter
}

func NewAuthenticator(cfg *config.APIConfig) *Authenticator {
	role, err := models.ParseRole(cfg.Auth.DefaultRole)
	if err != nil {
		role = models.RoleGuest
	}

	return &Authenticator{
		cfg:         cfg,
		clients:     cfg.Auth.APIKeys,
		defaultRole: role,
		limiter:     newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
}

// HeaderName is the lower-cased header (or gRPC metadata key) carrying the API key.
func (a *Authenticator) HeaderName() string {
	h := strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

// Resolve maps an API key to an actor. With auth disabled, callers without a
// known key act as anonymous with the default role.
func (a *Authenticator) Resolve(apiKey string) (models.Actor, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" {
		if client, ok := a.lookup(apiKey); ok {
			role, err := models.ParseRole(client.Role)
			if err != nil {
				return models.Actor{}, errInvalidAPIKey
			}
			name := client.Name
			if name == "" {
				name = "client"
			}
			return models.Actor{Name: name, Role: role, OwnerID: client.OwnerID}, nil
		}
		if a.cfg.Auth.Enabled {
			return models.Actor{}, errInvalidAPIKey
		}
	}

	if a.cfg.Auth.Enabled {
		return models.Actor{}, errMissingAPIKey
	}
	return models.Actor{Name: anonymousActor, Role: a.defaultRole}, nil
}

func (a *Authenticator) lookup(apiKey string) (config.APIClientKey, bool) {
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			return c, true
		}
	}
	return config.APIClientKey{}, false
}

// Allow reports whether the caller identified by key is within its rate.
func (a *Authenticator) Allow(key string) bool {
	return a.limiter.allow(key)
}

// AuthInterceptor authenticates gRPC calls and puts the actor in the context.
type AuthInterceptor struct {
	auth *Authenticator
}

func NewAuthInterceptor(auth *Authenticator) *AuthInterceptor {
	return &AuthInterceptor{auth: auth}
}

func (i *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := first(md.Get(i.auth.HeaderName()))

		actor, err := i.auth.Resolve(apiKey)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		if !i.auth.Allow(grpcClientKey(ctx, apiKey)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(WithActor(ctx, actor), req)
	}
}

func grpcClientKey(ctx context.Context, apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		dur := time.Since(start)

		code := codes.OK
		if err != nil {
			code = status.Code(err)
		}

		remote := clientKeyUnknown
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remote).
			Str("code", code.String()).
			Dur("duration", dur).
			Msg("grpc request")

		return resp, err
	}
}

const requestIDMetadataKey = "x-request-id"

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
			if id := strings.TrimSpace(vals[0]); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}
