// Package apiclient talks to the remote backend that sends codes, verifies
// them and stores user profiles.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/config"
	"github.com/healthtrack/healthtrack/internal/models"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

func NewClient(cfg *config.APIConfig, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type contactRequest struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	OTP   string `json:"otp,omitempty"`
}

func newContactRequest(c models.Contact) contactRequest {
	if c.IsPhone() {
		return contactRequest{Phone: c.Value}
	}
	return contactRequest{Email: c.Value}
}

type envelope struct {
	Success *bool               `json:"success"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

type ProfileResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	User    *models.User `json:"user"`
}

// SendCode asks the backend to deliver a new code over the contact's
// channel and returns the backend's confirmation message.
func (c *Client) SendCode(ctx context.Context, contact models.Contact) (string, error) {
	var resp envelope
	if err := c.post(ctx, "/auth/send-otp", "", newContactRequest(contact), &resp); err != nil {
		return "", err
	}
	c.logger.WithFields(logrus.Fields{
		"contact": contact.Masked(),
		"channel": contact.Channel,
	}).Info("Verification code requested")
	return resp.Message, nil
}

func (c *Client) VerifyCode(ctx context.Context, contact models.Contact, code string) (*models.VerifyResult, error) {
	req := newContactRequest(contact)
	req.OTP = code

	var resp models.VerifyResult
	if err := c.post(ctx, "/auth/verify-otp", "", req, &resp); err != nil {
		return nil, err
	}
	resp.Success = true
	return &resp, nil
}

func (c *Client) CompleteProfile(ctx context.Context, profile models.Profile, token string) (*ProfileResponse, error) {
	if errs := profile.Validate(); errs != nil {
		return nil, &APIError{Status: http.StatusUnprocessableEntity, Fields: errs}
	}

	var resp ProfileResponse
	if err := c.post(ctx, "/auth/complete-profile", token, profile, &resp); err != nil {
		return nil, err
	}
	resp.Success = true
	return &resp, nil
}

// post sends body as JSON and decodes the answer into out. Non-2xx
// statuses and bodies with "success": false become *APIError.
func (c *Client) post(ctx context.Context, path, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log := c.logger.WithField("path", path)
	res, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Error("Backend request failed")
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if res.StatusCode < 200 || res.StatusCode >= 300 || (decodeErr == nil && env.Success != nil && !*env.Success) {
		apiErr := &APIError{Status: res.StatusCode, Message: env.Message, Fields: env.Errors}
		log.WithFields(logrus.Fields{
			"status":  res.StatusCode,
			"message": apiErr.UserMessage(),
		}).Warn("Backend rejected request")
		return apiErr
	}

	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
