package api

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"loft/internal/config"
	"loft/internal/domain"
	"loft/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestGRPC(t *testing.T, cfg config.APIConfig) *ReservationClient {
	t.Helper()
	svc, _ := newTestService(t)

	lis := bufconn.Listen(1 << 20)
	logger := zerolog.New(io.Discard)
	srv, err := newGRPCServer(&cfg, svc, nil, &logger, lis)
	require.NoError(t, err)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewReservationClient(conn)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func errorDetail(t *testing.T, err error) map[string]any {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok)
	for _, d := range st.Details() {
		if s, ok := d.(*structpb.Struct); ok {
			return s.AsMap()
		}
	}
	t.Fatalf("no struct detail in %v", err)
	return nil
}

func TestGRPCReservationFlow(t *testing.T) {
	client := newTestGRPC(t, config.APIConfig{Auth: config.APIAuthConfig{DefaultRole: "guest"}})
	ctx := context.Background()

	stay := map[string]any{"property_id": 1, "check_in": "2030-02-01", "check_out": "2030-02-04"}

	avail, err := client.CheckAvailability(ctx, mustStruct(t, stay))
	require.NoError(t, err)
	assert.True(t, avail.GetFields()["available"].GetBoolValue())

	quote, err := client.Quote(ctx, mustStruct(t, map[string]any{
		"property_id": 1, "check_in": "2030-02-01", "check_out": "2030-02-04", "guests": 2,
	}))
	require.NoError(t, err)
	breakdown := quote.GetFields()["breakdown"].GetStructValue()
	assert.Equal(t, float64(39485), breakdown.GetFields()["total"].GetNumberValue())

	req := mustStruct(t, map[string]any{
		"property_id": 1,
		"check_in":    "2030-02-01",
		"check_out":   "2030-02-04",
		"guests":      2,
		"guest_name":  "Amina Benali",
	})
	created, err := client.CreateReservation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, float64(39485), created.GetFields()["total_price"].GetNumberValue())
	assert.Equal(t, "pending", created.GetFields()["status"].GetStringValue())
	assert.NotZero(t, created.GetFields()["booking_id"].GetNumberValue())

	_, err = client.CreateReservation(ctx, req)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, service.CodeUnavailable, errorDetail(t, err)["code"])

	avail, err = client.CheckAvailability(ctx, mustStruct(t, stay))
	require.NoError(t, err)
	assert.False(t, avail.GetFields()["available"].GetBoolValue())
	assert.NotEmpty(t, avail.GetFields()["conflicts"].GetListValue().GetValues())
}

func TestGRPCErrors(t *testing.T) {
	client := newTestGRPC(t, config.APIConfig{Auth: config.APIAuthConfig{DefaultRole: "guest"}})
	ctx := context.Background()

	t.Run("InvalidRange", func(t *testing.T) {
		_, err := client.CheckAvailability(ctx, mustStruct(t, map[string]any{
			"property_id": 1, "check_in": "2030-02-04", "check_out": "2030-02-01",
		}))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Equal(t, service.CodeValidation, errorDetail(t, err)["code"])
	})

	t.Run("UnknownProperty", func(t *testing.T) {
		_, err := client.CheckAvailability(ctx, mustStruct(t, map[string]any{
			"property_id": 404, "check_in": "2030-02-01", "check_out": "2030-02-04",
		}))
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("MalformedField", func(t *testing.T) {
		_, err := client.CreateReservation(ctx, mustStruct(t, map[string]any{"property_id": "one"}))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Validation", func(t *testing.T) {
		_, err := client.CreateReservation(ctx, mustStruct(t, map[string]any{"property_id": 1}))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		fields, ok := errorDetail(t, err)["fields"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, fields, "guest_name")
	})
}

func TestGRPCAuth(t *testing.T) {
	client := newTestGRPC(t, config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: true, HeaderAPIKey: "x-api-key", APIKeys: testKeys},
	})
	stay := mustStruct(t, map[string]any{"property_id": 1, "check_in": "2030-02-01", "check_out": "2030-02-04"})

	_, err := client.CheckAvailability(context.Background(), stay)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "guest-key")
	var header metadata.MD
	_, err = client.CheckAvailability(ctx, stay, grpc.Header(&header))
	require.NoError(t, err)
	assert.NotEmpty(t, header.Get(requestIDMetadataKey))
}

func TestGRPCErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
		msg  string
	}{
		{"validation", domain.NewValidationError("guests", "is required"), codes.InvalidArgument, ""},
		{"unavailable", &domain.UnavailableError{PropertyID: 1}, codes.FailedPrecondition, ""},
		{"lock conflict", &domain.LockConflictError{PropertyID: 1}, codes.Aborted, ""},
		{"forbidden", &domain.PermissionError{Actor: "x", Permission: "manage:blocks"}, codes.PermissionDenied, ""},
		{"transition", &domain.InvalidTransitionError{From: "cancelled", To: "confirmed"}, codes.FailedPrecondition, ""},
		{"stale version", &domain.ConcurrentModificationError{BookingID: 1}, codes.Aborted, ""},
		{"persistence", &domain.PersistenceError{Op: "create booking", Err: errors.New("disk I/O error")}, codes.Internal, "storage failure"},
		{"unknown", context.Canceled, codes.Internal, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := grpcError(tt.err)
			assert.Equal(t, tt.want, status.Code(err))
			if tt.msg != "" {
				assert.Equal(t, tt.msg, status.Convert(err).Message())
			}
		})
	}
}

func TestBuildTLSConfig(t *testing.T) {
	_, err := buildTLSConfig(config.APITLSConfig{Enabled: true})
	assert.Error(t, err)

	_, err = buildTLSConfig(config.APITLSConfig{Enabled: true, CertFile: "missing.crt", KeyFile: "missing.key"})
	assert.Error(t, err)

	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)

	t.Run("ServerOnly", func(t *testing.T) {
		tlsCfg, err := buildTLSConfig(config.APITLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile})
		require.NoError(t, err)
		assert.Equal(t, tls.NoClientCert, tlsCfg.ClientAuth)
		assert.Nil(t, tlsCfg.ClientCAs)
	})

	t.Run("ClientCertWithoutCA", func(t *testing.T) {
		_, err := buildTLSConfig(config.APITLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, RequireClientCert: true})
		assert.ErrorContains(t, err, "client_ca_file")
	})

	t.Run("ClientCAWithoutCerts", func(t *testing.T) {
		bad := filepath.Join(dir, "bad-ca.pem")
		require.NoError(t, os.WriteFile(bad, []byte("not a pem"), 0o600))

		_, err := buildTLSConfig(config.APITLSConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			RequireClientCert: true, ClientCAFile: bad,
		})
		assert.ErrorContains(t, err, "no certificates")
	})

	t.Run("MutualTLS", func(t *testing.T) {
		tlsCfg, err := buildTLSConfig(config.APITLSConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			RequireClientCert: true, ClientCAFile: certFile,
		})
		require.NoError(t, err)
		assert.Equal(t, tls.RequireAndVerifyClientCert, tlsCfg.ClientAuth)
		assert.NotNil(t, tlsCfg.ClientCAs)
	})
}

func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "loft-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}
