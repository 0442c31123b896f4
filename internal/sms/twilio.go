package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TwilioSender dispatches messages through the Twilio REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	fromNumber string
	httpClient *http.Client
}

// NewTwilioSender builds a sender from TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioSender() (*TwilioSender, error) {
	sid := os.Getenv("TWILIO_ACCOUNT_SID")
	token := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_FROM_NUMBER")

	if sid == "" || token == "" || from == "" {
		return nil, fmt.Errorf("twilio credentials not configured")
	}

	return &TwilioSender{
		accountSID: sid,
		authToken:  token,
		fromNumber: from,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *TwilioSender) SendSms(ctx context.Context, phone, message string) (Result, error) {
	apiURL := fmt.Sprintf(
		"https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json",
		t.accountSID,
	)

	formData := url.Values{}
	formData.Set("To", phone)
	formData.Set("From", t.fromNumber)
	formData.Set("Body", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		strings.NewReader(formData.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("twilio error %s: %s", resp.Status, string(respBody))
	}

	return Result{
		MessageID: fmt.Sprintf("twilio-%d", time.Now().UnixNano()),
	}, nil
}

// ConsoleSender logs messages instead of dispatching them. Used in
// development when no provider is configured. The message body is not
// logged since it contains the passcode.
type ConsoleSender struct{}

func (ConsoleSender) SendSms(_ context.Context, phone, _ string) (Result, error) {
	log.Info().Str("phone", phone).Msg("sms dispatch skipped (console sender)")
	return Result{
		MessageID: fmt.Sprintf("console-%d", time.Now().UnixNano()),
	}, nil
}

// SenderFromEnv returns a TwilioSender when credentials are configured
// and falls back to the ConsoleSender otherwise.
func SenderFromEnv() Sender {
	sender, err := NewTwilioSender()
	if err != nil {
		log.Warn().Err(err).Msg("falling back to console sms sender")
		return ConsoleSender{}
	}
	return sender
}
