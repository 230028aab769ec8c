// Package sms delivers one-time codes to phone numbers.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mealtime/server/internal/logging"
)

// Message is a one-time code addressed to a phone number
type Message struct {
	// Mobile is the dialable number, country code first without a plus sign
	Mobile string
	Name   string
	Code   string
}

// Sender delivers a one-time code out of band
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes codes to the log instead of sending them. Used in development.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the code at info level
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("otp issued",
		logging.Phone(msg.Mobile),
		zap.String("name", msg.Name),
		zap.String("code", msg.Code),
	)
	return nil
}

// MSG91Sender sends codes through the MSG91 flow API
type MSG91Sender struct {
	client     *http.Client
	baseURL    string
	authKey    string
	templateID string
}

// NewMSG91Sender creates a sender for the given flow endpoint and template
func NewMSG91Sender(baseURL, authKey, templateID string) *MSG91Sender {
	return &MSG91Sender{
		client:     &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		authKey:    authKey,
		templateID: templateID,
	}
}

type flowRecipient struct {
	Mobiles string `json:"mobiles"`
	Name    string `json:"name"`
	Code    string `json:"code"`
}

type flowRequest struct {
	TemplateID string          `json:"template_id"`
	ShortURL   string          `json:"short_url"`
	Recipients []flowRecipient `json:"recipients"`
}

// Send posts the code to the flow endpoint. Any non-2xx response is an error.
func (s *MSG91Sender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(flowRequest{
		TemplateID: s.templateID,
		ShortURL:   "0",
		Recipients: []flowRecipient{{Mobiles: msg.Mobile, Name: msg.Name, Code: msg.Code}},
	})
	if err != nil {
		return fmt.Errorf("encode sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("authkey", s.authKey)
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
