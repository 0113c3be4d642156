package health

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipbridge/relay/internal/config"
)

func writeKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "private.key")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))
	return path
}

func readyConfig(t *testing.T, restURL string) config.Config {
	var cfg config.Config
	cfg.Server.PublicURL = "https://relay.example.com"
	cfg.Video.APIKey = "4700"
	cfg.Video.APISecret = "0123456789abcdef0123456789abcdef01234567"
	cfg.Voice.APIKey = "key"
	cfg.Voice.APISecret = "secret"
	cfg.Voice.AppID = "app-1"
	cfg.Voice.ConferenceNumber = "15550001000"
	cfg.Voice.PrivateKeyPath = writeKey(t)
	cfg.Voice.RestBaseURL = restURL
	return cfg
}

func TestCheckAllReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account/get-balance", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"value":10.5}`))
	}))
	defer srv.Close()

	status := CheckAll(context.Background(), readyConfig(t, srv.URL), srv.Client())
	assert.True(t, status.OK, status.String())
	assert.Len(t, status.Checks, 4)
}

func TestCheckAllReportsEachFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := readyConfig(t, srv.URL)
	cfg.Server.PublicURL = ""
	cfg.Video.APISecret = "short"
	cfg.Voice.PrivateKeyPath = filepath.Join(t.TempDir(), "missing.key")

	status := CheckAll(context.Background(), cfg, srv.Client())
	require.False(t, status.OK)
	for _, c := range status.Checks {
		assert.False(t, c.OK, c.Name)
		assert.NotEmpty(t, c.Error, c.Name)
	}
	assert.Contains(t, status.String(), "FAIL")
}

func TestCheckVoiceAccountMissingCredentials(t *testing.T) {
	var cfg config.Config
	res := checkVoiceAccount(context.Background(), cfg, http.DefaultClient)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "VONAGE_API_KEY")
}
