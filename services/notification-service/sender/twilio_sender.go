package sender

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// BaseURL overrides the Twilio API host.
	BaseURL string
}

type TwilioSender struct {
	cfg        TwilioConfig
	httpClient *http.Client
}

func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("TWILIO_ACCOUNT_SID not set")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("TWILIO_AUTH_TOKEN not set")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("TWILIO_FROM_NUMBER not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioBaseURL
	}

	return &TwilioSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *TwilioSender) SendSMS(ctx context.Context, to, msg string) (SendResult, error) {
	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.cfg.BaseURL, t.cfg.AccountSID)

	formData := url.Values{}
	formData.Set("To", to)
	formData.Set("From", t.cfg.FromNumber)
	formData.Set("Body", msg)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		strings.NewReader(formData.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return SendResult{}, fmt.Errorf("twilio error %s: %s", resp.Status, string(respBody))
	}

	return SendResult{
		MessageID: fmt.Sprintf("twilio-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}
