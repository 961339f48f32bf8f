// Package whatsapp calls the external WhatsApp bridge that hosts one
// instance per subscriber phone.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/She20222w/AGILIZAP-ONLINE/app/config"
	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

var (
	ErrNotConfigured    = errors.New("whatsapp bridge not configured")
	ErrAlreadyConnected = errors.New("whatsapp already connected")
	ErrNoQRCode         = errors.New("bridge response had no qr code")
)

type httpError struct {
	Status int
	Body   string
}

func (e httpError) Error() string { return fmt.Sprintf("bridge http %d: %s", e.Status, e.Body) }

type Client struct {
	cfg   config.WhatsAppConfig
	httpc *http.Client
}

func NewClient(cfg config.WhatsAppConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{cfg: cfg, httpc: &http.Client{Timeout: timeout}}
}

// InstanceResult is whatever the bridge reports after creating an instance.
type InstanceResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CreateInstance provisions the bridge instance for phone.
func (c *Client) CreateInstance(ctx context.Context, phone string) (InstanceResult, error) {
	const op = "whatsapp.CreateInstance"
	var out InstanceResult
	if err := c.postJSON(ctx, c.cfg.CreateInstanceURL, map[string]string{"phoneNumber": phone}, &out); err != nil {
		return InstanceResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// GenerateQRCode asks the bridge for a pairing code and returns it as a
// data:image/png;base64 URI.
func (c *Client) GenerateQRCode(ctx context.Context, phone string, service models.ServiceType) (string, error) {
	const op = "whatsapp.GenerateQRCode"
	var out struct {
		Success           *bool  `json:"success"`
		QRCodeImageBase64 string `json:"qrCodeImageBase64"`
	}
	body := map[string]string{"phoneNumber": phone}
	if service != "" {
		body["service"] = string(service)
	}
	if err := c.postJSON(ctx, c.cfg.QRCodeURL, body, &out); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if out.Success != nil && !*out.Success {
		return "", fmt.Errorf("%s: %w", op, ErrAlreadyConnected)
	}
	if out.QRCodeImageBase64 == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNoQRCode)
	}
	img := out.QRCodeImageBase64
	if !strings.HasPrefix(img, "data:") {
		img = "data:image/png;base64," + img
	}
	return img, nil
}

type Status struct {
	Connected bool   `json:"connected"`
	State     string `json:"state,omitempty"`
}

// CheckStatus reports whether phone's instance is paired.
func (c *Client) CheckStatus(ctx context.Context, phone string) (Status, error) {
	const op = "whatsapp.CheckStatus"
	var out map[string]any
	if err := c.postJSON(ctx, c.cfg.StatusURL, map[string]string{"phone": phone}, &out); err != nil {
		return Status{}, fmt.Errorf("%s: %w", op, err)
	}
	return parseStatus(out), nil
}

// parseStatus accepts the shapes the bridge has used: a boolean
// "connected"/"success" flag or an Evolution style "state":"open".
func parseStatus(m map[string]any) Status {
	var s Status
	if st, ok := m["state"].(string); ok {
		s.State = st
		s.Connected = strings.EqualFold(st, "open") || strings.EqualFold(st, "connected")
	}
	if inst, ok := m["instance"].(map[string]any); ok {
		if st, ok := inst["state"].(string); ok {
			s.State = st
			s.Connected = strings.EqualFold(st, "open") || strings.EqualFold(st, "connected")
		}
	}
	for _, k := range []string{"connected", "success"} {
		if v, ok := m[k].(bool); ok {
			s.Connected = v
			break
		}
	}
	return s
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	if url == "" {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var msg struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&msg)
		text := msg.Error
		if text == "" {
			text = msg.Message
		}
		return httpError{Status: res.StatusCode, Body: text}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode bridge response: %w", err)
	}
	return nil
}
