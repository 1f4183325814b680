package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const smsTimeout = 15 * time.Second

// SMSGateway sends OTP messages through a bulk SMS HTTP API (route=otp).
type SMSGateway struct {
	apiKey  string
	baseURL string
	sender  string
	client  *http.Client
}

// NewSMSGateway returns a gateway client. The code is never logged.
func NewSMSGateway(apiKey, baseURL, sender string) *SMSGateway {
	return &SMSGateway{
		apiKey:  apiKey,
		baseURL: baseURL,
		sender:  sender,
		client:  &http.Client{Timeout: smsTimeout},
	}
}

type smsRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables_values"`
	SenderID  string `json:"sender_id,omitempty"`
}

// Send posts message.Code to the gateway. Destination may carry a leading +.
func (g *SMSGateway) Send(ctx context.Context, message Message) error {
	if g.apiKey == "" {
		return fmt.Errorf("sms: API key not configured")
	}
	raw, err := json.Marshal(smsRequest{
		Route:     "otp",
		Numbers:   strings.TrimPrefix(message.Destination, "+"),
		Variables: message.Code,
		SenderID:  g.sender,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
