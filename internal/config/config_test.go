package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "CONFIG_FILE", "PUBLIC_URL", "VONAGE_SIP_DOMAIN", "BRIDGE_CALLER_ID", "HTTP_TIMEOUT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	c := Load()

	require.Equal(t, "3000", c.Server.Port)
	require.Equal(t, "info", c.Server.LogLevel)
	require.Equal(t, 10*time.Second, c.Server.HTTPTimeout)
	require.Equal(t, "sip.nexmo.com", c.Voice.SIPDomain)
	require.Equal(t, "0000000000", c.Voice.BridgeCallerID)
	require.Equal(t, "https://api.opentok.com", c.Video.BaseURL)
	require.Equal(t, 4096, c.Server.SnapshotCacheSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("PUBLIC_URL", "https://relay.example.com/")
	t.Setenv("CONFERENCE_NUMBER", "+1 (415) 555-2671")
	t.Setenv("OPENTOK_API_KEY", "4700")

	c := Load()

	require.Equal(t, "8081", c.Server.Port)
	require.Equal(t, "https://relay.example.com", c.Server.PublicURL)
	require.Equal(t, "https://relay.example.com/nexmo-dtmf", c.DTMFURL())
	require.Equal(t, "14155552671", c.Voice.ConferenceNumber)
	require.Equal(t, "4700", c.Video.APIKey)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	body := "video:\n  api_key: \"4711\"\n  api_secret: s3cr3t\nvoice:\n  app_id: app-1\n  conference_number: \"442079460958\"\n"
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))
	t.Setenv("CONFIG_FILE", file)
	os.Unsetenv("OPENTOK_API_KEY")
	os.Unsetenv("CONFERENCE_NUMBER")

	c := Load()

	require.Equal(t, "4711", c.Video.APIKey)
	require.Equal(t, "s3cr3t", c.Video.APISecret)
	require.Equal(t, "app-1", c.Voice.AppID)
	require.Equal(t, "442079460958", c.Voice.ConferenceNumber)
}

func TestNormalizeNumber(t *testing.T) {
	cases := []struct {
		in, region, want string
	}{
		{"+1 415 555 2671", "", "14155552671"},
		{"14155552671", "", "14155552671"},
		{"020 7946 0958", "GB", "442079460958"},
		{"not-a-number", "US", "not-a-number"},
		{"  ", "US", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeNumber(tc.in, tc.region), "input %q", tc.in)
	}
}
