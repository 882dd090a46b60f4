// Package messenger is the Lark (Feishu) client used for the daily push
// and for QA replies. It caches the tenant access token and refreshes it
// ahead of expiry.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"secbrief/internal/config"
)

const defaultBaseURL = "https://open.feishu.cn/open-apis"

// tokenSafetyMargin refreshes the cached token this long before expiry.
const tokenSafetyMargin = 5 * time.Minute

// ReceiverType selects the receive_id_type for outgoing messages.
type ReceiverType string

const (
	ReceiverChat ReceiverType = "chat_id"
	ReceiverUser ReceiverType = "open_id"
)

// PostParagraph is one line of a rich-post message: a sequence of inline
// elements (text runs and links).
type PostParagraph []PostElement

// PostElement is one inline element in a rich-post paragraph.
type PostElement struct {
	Tag  string `json:"tag"` // "text" or "a"
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// Client talks to the Lark open API.
type Client struct {
	appID     string
	appSecret string
	baseURL   string
	http      *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient builds a Lark client from config.
func NewClient(cfg config.Messenger) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("messenger app_id and app_secret are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		baseURL:   baseURL,
		http:      &http.Client{Timeout: config.Duration(cfg.Timeout, 15*time.Second)},
	}, nil
}

// tenantTokenResponse mirrors the auth endpoint.
type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"` // seconds
}

// accessToken returns a valid tenant access token, refreshing if the
// cached one is absent or near expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSafetyMargin)) {
		return c.token, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch tenant token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	var token tenantTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.Code != 0 {
		return "", fmt.Errorf("token request rejected: code %d: %s", token.Code, token.Msg)
	}

	c.token = token.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.Expire) * time.Second)
	return c.token, nil
}

// apiResponse is the common Lark response envelope.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// sendMessage posts one message of the given type to a receiver.
func (c *Client) sendMessage(ctx context.Context, receiver ReceiverType, receiveID, msgType string, content any) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode message content: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"receive_id": receiveID,
		"msg_type":   msgType,
		"content":    string(contentJSON),
	})

	endpoint := fmt.Sprintf("%s/im/v1/messages?receive_id_type=%s",
		c.baseURL, url.QueryEscape(string(receiver)))
	return c.post(ctx, endpoint, payload)
}

// post performs one authenticated API call and checks the envelope code.
func (c *Client) post(ctx context.Context, endpoint string, payload []byte) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("message rejected: code %d: %s", envelope.Code, envelope.Msg)
	}
	return nil
}

// SendText sends a plain-text message to a chat or user.
func (c *Client) SendText(ctx context.Context, receiver ReceiverType, receiveID, text string) error {
	return c.sendMessage(ctx, receiver, receiveID, "text", map[string]string{"text": text})
}

// SendPost sends a rich-post message with a title and paragraphs.
func (c *Client) SendPost(ctx context.Context, receiver ReceiverType, receiveID, title string, paragraphs []PostParagraph) error {
	content := map[string]any{
		"zh_cn": map[string]any{
			"title":   title,
			"content": paragraphs,
		},
	}
	return c.sendMessage(ctx, receiver, receiveID, "post", content)
}

// SendCard sends an interactive card. card is the raw card JSON object.
func (c *Client) SendCard(ctx context.Context, receiver ReceiverType, receiveID string, card json.RawMessage) error {
	return c.sendMessage(ctx, receiver, receiveID, "interactive", card)
}

// Reply answers an existing message in its thread.
func (c *Client) Reply(ctx context.Context, messageID, text string) error {
	contentJSON, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode reply content: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"msg_type": "text",
		"content":  string(contentJSON),
	})

	endpoint := fmt.Sprintf("%s/im/v1/messages/%s/reply", c.baseURL, url.PathEscape(messageID))
	return c.post(ctx, endpoint, payload)
}
