// Package tunnel finds the public base URL the providers should call back on.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrNoTunnel = errors.New("no https tunnel found")

type tunnelList struct {
	Tunnels []struct {
		Name      string `json:"name"`
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
	} `json:"tunnels"`
}

// Resolve returns publicURL when set, otherwise the first https tunnel the
// local tunnel agent at apiURL reports.
func Resolve(ctx context.Context, hc *http.Client, publicURL, apiURL string) (string, error) {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/"), nil
	}
	if apiURL == "" {
		return "", ErrNoTunnel
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/api/tunnels", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("tunnel agent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("tunnel agent: %s: %s", resp.Status, string(b))
	}
	var list tunnelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", fmt.Errorf("tunnel agent: decode: %w", err)
	}
	for _, t := range list.Tunnels {
		if t.Proto == "https" || strings.HasPrefix(t.PublicURL, "https://") {
			return strings.TrimRight(t.PublicURL, "/"), nil
		}
	}
	return "", ErrNoTunnel
}
