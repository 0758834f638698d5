// Package pulse provides a client for the fitpulse realtime API.
package pulse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// CallerHeader carries the caller's user id on every request.
const CallerHeader = "X-Caller-ID"

// Client is a fitpulse realtime API client acting as one user.
type Client struct {
	BaseURL    string
	CallerID   string
	HTTPClient *http.Client
}

// NewClient creates a client that acts as callerID.
func NewClient(baseURL, callerID string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		CallerID:   callerID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pulse error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether err is an APIError worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// do sends a request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.CallerID != "" {
		req.Header.Set(CallerHeader, c.CallerID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(s) * time.Second
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func withLimit(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return path + "?limit=" + strconv.Itoa(limit)
}

// Message is a chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessagesResponse lists messages oldest first.
type MessagesResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Source         string    `json:"source"`
}

// SendMessage posts a message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages",
		map[string]string{"content": content}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns up to limit recent messages, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) (*MessagesResponse, error) {
	var resp MessagesResponse
	path := withLimit("/conversations/"+url.PathEscape(conversationID)+"/messages", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TypingSignal is another party's live typing state.
type TypingSignal struct {
	ActorID   string `json:"actor_id"`
	IsTyping  bool   `json:"is_typing"`
	Timestamp int64  `json:"ts"`
}

// TypingEvent is one typing transition.
type TypingEvent struct {
	Topic     string `json:"topic"`
	ActorID   string `json:"actor_id"`
	IsTyping  bool   `json:"is_typing"`
	Timestamp int64  `json:"ts"`
}

// SetTyping starts or stops the caller's typing signal.
func (c *Client) SetTyping(ctx context.Context, conversationID string, isTyping bool) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/typing",
		map[string]bool{"is_typing": isTyping}, nil)
}

// GetTyping returns the other party's typing signal, or nil.
func (c *Client) GetTyping(ctx context.Context, conversationID string) (*TypingSignal, error) {
	var resp struct {
		Typing *TypingSignal `json:"typing"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/typing", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Typing, nil
}

// TypingEvents returns recent typing transitions, newest first.
func (c *Client) TypingEvents(ctx context.Context, conversationID string, limit int) ([]TypingEvent, error) {
	var resp struct {
		Events []TypingEvent `json:"events"`
	}
	path := withLimit("/conversations/"+url.PathEscape(conversationID)+"/typing/events", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Notification is a user-facing notification.
type Notification struct {
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifications returns the user's recent notifications, newest first.
func (c *Client) Notifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	var resp struct {
		Notifications []Notification `json:"notifications"`
	}
	path := withLimit("/users/"+url.PathEscape(userID)+"/notifications", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// Notify appends a notification to userID's feed.
func (c *Client) Notify(ctx context.Context, userID string, n Notification) error {
	req := map[string]string{
		"category": n.Category,
		"title":    n.Title,
		"body":     n.Body,
		"link":     n.Link,
	}
	return c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/notifications", req, nil)
}

// HistoryPoint is one day of a series.
type HistoryPoint struct {
	Day   string  `json:"day"`
	Value float64 `json:"value"`
}

// LogWater sets the user's water total for day (YYYY-MM-DD).
func (c *Client) LogWater(ctx context.Context, userID, day string, totalML float64) error {
	req := map[string]interface{}{"day": day, "total_ml": totalML}
	return c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/water", req, nil)
}

// WaterHistory returns the user's daily water totals, oldest first.
func (c *Client) WaterHistory(ctx context.Context, userID string) ([]HistoryPoint, error) {
	return c.history(ctx, "/users/"+url.PathEscape(userID)+"/water")
}

// WorkoutHistory returns the user's daily workout minutes, oldest first.
func (c *Client) WorkoutHistory(ctx context.Context, userID string) ([]HistoryPoint, error) {
	return c.history(ctx, "/users/"+url.PathEscape(userID)+"/workouts")
}

func (c *Client) history(ctx context.Context, path string) ([]HistoryPoint, error) {
	var resp struct {
		Points []HistoryPoint `json:"points"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Points, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server still returns its report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		resp.Status = "degraded"
		return &resp, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
