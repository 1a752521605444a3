package bankapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HealthProbe asks the bank's admin endpoint whether it is serving customers.
type HealthProbe struct {
	URL    string
	Client *http.Client
}

// Ready returns nil when the endpoint answers 200.
func (p HealthProbe) Ready(ctx context.Context) error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("bank health url is empty")
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("bank health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("bank not ready: %s %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
