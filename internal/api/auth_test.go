package api

import (
	"context"
	"testing"

	"loft/internal/config"
	"loft/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestAuthenticatorResolve(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: append([]config.APIClientKey{{Key: "broken", Name: "x", Role: "janitor"}}, testKeys...),
		},
	}
	auth := NewAuthenticator(&cfg)

	actor, err := auth.Resolve("owner-key")
	require.NoError(t, err)
	assert.Equal(t, models.Actor{Name: "owner-10", Role: models.RoleOwner, OwnerID: 10}, actor)

	_, err = auth.Resolve("")
	assert.ErrorIs(t, err, errMissingAPIKey)

	_, err = auth.Resolve("nope")
	assert.ErrorIs(t, err, errInvalidAPIKey)

	_, err = auth.Resolve("broken")
	assert.ErrorIs(t, err, errInvalidAPIKey)

	assert.Equal(t, apiKeyHeaderDefault, auth.HeaderName())
}

func TestAuthenticatorDisabled(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{DefaultRole: "owner", HeaderAPIKey: " X-Loft-Key ", APIKeys: testKeys},
	}
	auth := NewAuthenticator(&cfg)

	actor, err := auth.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, anonymousActor, actor.Name)
	assert.Equal(t, models.RoleOwner, actor.Role)

	actor, err = auth.Resolve("unknown")
	require.NoError(t, err)
	assert.Equal(t, anonymousActor, actor.Name)

	actor, err = auth.Resolve("admin-key")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, actor.Role)

	assert.Equal(t, "x-loft-key", auth.HeaderName())

	// unknown default role falls back to guest
	auth = NewAuthenticator(&config.APIConfig{Auth: config.APIAuthConfig{DefaultRole: "root"}})
	actor, err = auth.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, models.RoleGuest, actor.Role)
}

func TestAuthInterceptor(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys:      testKeys,
		},
		RateLimit: config.APIRateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
	}

	interceptor := NewAuthInterceptor(NewAuthenticator(&cfg)).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: MethodCheckAvailability}

	var seen models.Actor
	handler := func(ctx context.Context, req any) (any, error) {
		seen, _ = ActorFromContext(ctx)
		return "ok", nil
	}

	t.Run("Success", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", "guest-key")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		resp, err := interceptor(ctx, "req", info, handler)
		assert.NoError(t, err)
		assert.Equal(t, "ok", resp)
		assert.Equal(t, models.RoleGuest, seen.Role)
		assert.Equal(t, "guest-1", seen.Name)
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), "req", info, handler)
		assert.Error(t, err)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidKey", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", "invalid")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		_, err := interceptor(ctx, "req", info, handler)
		assert.Error(t, err)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestAuthInterceptor_RateLimit(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		Auth:    config.APIAuthConfig{Enabled: false},
		RateLimit: config.APIRateLimitConfig{
			RPS:   1,
			Burst: 1,
		},
	}

	interceptor := NewAuthInterceptor(NewAuthenticator(&cfg)).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: "test"}
	handler := func(_ context.Context, req any) (any, error) { return "ok", nil }

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "key1"))

	// First request - ok
	_, err := interceptor(ctx, "req", info, handler)
	assert.NoError(t, err)

	// Second request - blocked
	_, err = interceptor(ctx, "req", info, handler)
	assert.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestRateLimiterDisabled(t *testing.T) {
	l := newRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.allow("k"))
	}
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(nil)
	handler := func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "test"}

	resp, err := interceptor(context.Background(), "req", info, handler)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestRequestIDFromMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-1"))
	assert.Equal(t, "req-1", requestIDFromMetadata(ctx))
	assert.NotEmpty(t, requestIDFromMetadata(context.Background()))
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	interceptor := RecoveryUnaryInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: "test"}

	_, err := interceptor(context.Background(), "req", info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestChainUnaryInterceptors(t *testing.T) {
	var order []string
	mk := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			order = append(order, name)
			return handler(ctx, req)
		}
	}

	chain := ChainUnaryInterceptors(mk("first"), mk("second"))
	resp, err := chain(context.Background(), "req", &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		order = append(order, "handler")
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}
