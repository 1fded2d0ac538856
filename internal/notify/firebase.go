// Package notify delivers push payloads to devices through a firebase-style
// HTTP gateway. Delivery failures are distinct from configuration errors so
// the caller can keep the pending challenge valid for a retry.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"credential-server/backend/internal/gateway/domain"
)

const defaultTimeout = 15 * time.Second

const defaultAPIURL = "https://fcm.googleapis.com/fcm/send"

// ErrDelivery marks retryable delivery failures (network, non-200 responses).
var ErrDelivery = errors.New("notify: delivery failed")

// ErrConfig marks gateway misconfiguration (missing API key). Not retryable.
var ErrConfig = errors.New("notify: gateway not configured")

// Sender dispatches a data payload to a device push address.
type Sender interface {
	Send(ctx context.Context, address string, payload map[string]string, gw *domain.Gateway) error
}

// FirebaseClient sends push messages via the firebase legacy HTTP API (or a
// compatible relay configured through the gateway's api_url option).
type FirebaseClient struct {
	HTTPClient *http.Client
}

// NewFirebaseClient returns a client with the default timeout.
func NewFirebaseClient() *FirebaseClient {
	return &FirebaseClient{HTTPClient: &http.Client{Timeout: defaultTimeout}}
}

// Send posts the payload to the gateway's delivery endpoint addressed to the
// device push token. Does not log payload contents.
func (c *FirebaseClient) Send(ctx context.Context, address string, payload map[string]string, gw *domain.Gateway) error {
	apiKey := gw.Option(domain.OptionAPIKey)
	if apiKey == "" {
		return fmt.Errorf("%w: gateway %q has no %s", ErrConfig, gw.Name, domain.OptionAPIKey)
	}
	url := gw.Option(domain.OptionAPIURL)
	if url == "" {
		url = defaultAPIURL
	}
	body := map[string]interface{}{
		"to":   address,
		"data": payload,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+apiKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status=%d body=%s", ErrDelivery, resp.StatusCode, string(b))
	}
	return nil
}
