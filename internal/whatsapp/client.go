// Package whatsapp sends outbound messages through the Gupshup WhatsApp
// API.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultAPIURL = "https://api.gupshup.io/sm/api/v1/msg"

type Client struct {
	httpClient *http.Client
	apiURL     string
	appName    string
	apiKey     string
	source     string
	log        *zap.Logger
}

func NewClient(appName, apiKey, source string, log *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiURL:     defaultAPIURL,
		appName:    appName,
		apiKey:     apiKey,
		source:     source,
		log:        log,
	}
}

// Configured reports whether outbound sending is set up. An unconfigured
// client is normal in development; callers skip sending.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.source != "" && c.appName != ""
}

// SendText delivers a plain text message to the destination number.
func (c *Client) SendText(ctx context.Context, destination, text string) error {
	message, err := json.Marshal(map[string]string{
		"type": "text",
		"text": text,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	form := url.Values{}
	form.Set("channel", "whatsapp")
	form.Set("source", c.source)
	form.Set("destination", destination)
	form.Set("message", string(message))
	form.Set("src.name", c.appName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gupshup returned %d: %s", resp.StatusCode, string(body))
	}

	c.log.Debug("whatsapp message sent",
		zap.String("destination", destination),
		zap.Int("status", resp.StatusCode))
	return nil
}
