package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sipbridge/relay/internal/auth"
	"sipbridge/relay/internal/config"
	"sipbridge/relay/internal/vonage"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// CheckAll runs all readiness checks and returns combined status
func CheckAll(ctx context.Context, cfg config.Config, hc *http.Client) HealthStatus {
	if hc == nil {
		hc = http.DefaultClient
	}
	checks := []CheckResult{
		checkPublicURL(cfg),
		checkVideo(cfg),
		checkVoiceApplication(cfg),
		checkVoiceAccount(ctx, cfg, hc),
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func checkPublicURL(cfg config.Config) CheckResult {
	result := CheckResult{Name: "public_url"}
	u, err := url.Parse(cfg.Server.PublicURL)
	switch {
	case cfg.Server.PublicURL == "":
		result.Error = "PUBLIC_URL not set and no tunnel found"
	case err != nil || u.Host == "":
		result.Error = fmt.Sprintf("invalid public url %q", cfg.Server.PublicURL)
	default:
		result.OK = true
	}
	return result
}

// checkVideo signs a REST token locally; the provider has no cheap
// unauthenticated probe.
func checkVideo(cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "video"}

	switch {
	case cfg.Video.APIKey == "" || cfg.Video.APISecret == "":
		result.Error = "OPENTOK_API_KEY or OPENTOK_API_SECRET not set"
	default:
		if _, err := auth.ProjectJWT(cfg.Video.APIKey, cfg.Video.APISecret, time.Now(), time.Minute); err != nil {
			result.Error = fmt.Sprintf("cannot sign project token: %v", err)
		} else {
			result.OK = true
		}
	}
	result.Latency = time.Since(start)
	return result
}

func checkVoiceApplication(cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "voice_application"}

	switch {
	case cfg.Voice.AppID == "":
		result.Error = "VONAGE_APP_ID not set"
	case cfg.Voice.ConferenceNumber == "":
		result.Error = "CONFERENCE_NUMBER not set"
	case cfg.Voice.PrivateKeyPath == "":
		result.Error = "VONAGE_PRIVATE_KEY_PATH not set"
	default:
		if _, err := vonage.LoadPrivateKey(cfg.Voice.PrivateKeyPath); err != nil {
			result.Error = err.Error()
		} else {
			result.OK = true
		}
	}
	result.Latency = time.Since(start)
	return result
}

// checkVoiceAccount verifies the account credentials with a balance lookup.
func checkVoiceAccount(ctx context.Context, cfg config.Config, hc *http.Client) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "voice_account"}

	if cfg.Voice.APIKey == "" || cfg.Voice.APISecret == "" {
		result.Error = "VONAGE_API_KEY or VONAGE_API_SECRET not set"
		result.Latency = time.Since(start)
		return result
	}

	q := url.Values{}
	q.Set("api_key", cfg.Voice.APIKey)
	q.Set("api_secret", cfg.Voice.APISecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Voice.RestBaseURL+"/account/get-balance?"+q.Encode(), nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}

	resp, err := hc.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == http.StatusUnauthorized {
		result.Error = "invalid API credentials (401)"
		return result
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}

	result.OK = true
	return result
}
