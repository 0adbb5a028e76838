// Package client provides a GraphQL client for a running patrol agent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/service"
)

// Client is a GraphQL client for the patrol agent.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client. If endpoint is empty, uses PATROL_SERVER_URL or
// defaults to localhost:8585. An endpoint without a path gets /query.
// PATROL_CLIENT_TIMEOUT overrides the 30s timeout.
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("PATROL_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8585/query"
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/query") {
		endpoint += "/query"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("PATROL_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type graphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Error is the first error of a GraphQL response. Code is the agent's
// error code, e.g. NETWORK_UNAVAILABLE.
type Error struct {
	Message string
	Code    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return "graphql error: " + e.Message
	}
	return fmt.Sprintf("graphql error (%s): %s", e.Code, e.Message)
}

func toError(errs []graphQLError) *Error {
	e := &Error{Message: errs[0].Message}
	e.Code, _ = errs[0].Extensions["code"].(string)
	return e
}

// Execute sends a GraphQL query or mutation and decodes its data into result.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return toError(gqlResp.Errors)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error: %s", resp.Status)
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return nil
}

// =============================================================================
// TYPES (matching GraphQL schema)
// =============================================================================

type activeRound struct {
	RoundID          string `json:"roundId"`
	TemplateName     string `json:"templateName"`
	Scanned          int    `json:"scanned"`
	Total            int    `json:"total"`
	ElapsedSeconds   int    `json:"elapsedSeconds"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

type passResult struct {
	Reason     string    `json:"reason"`
	Skipped    bool      `json:"skipped"`
	SkipReason *string   `json:"skipReason"`
	Total      int       `json:"total"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Discarded  int       `json:"discarded"`
	Repaired   int       `json:"repaired"`
	At         time.Time `json:"at"`
}

func (p passResult) toService() service.PassResult {
	out := service.PassResult{
		Reason:    p.Reason,
		Skipped:   p.Skipped,
		Total:     p.Total,
		Synced:    p.Synced,
		Failed:    p.Failed,
		Discarded: p.Discarded,
		Repaired:  p.Repaired,
		At:        p.At,
	}
	if p.SkipReason != nil {
		out.SkipReason = *p.SkipReason
	}
	return out
}

type status struct {
	Online      bool         `json:"online"`
	QueueDepth  int          `json:"queueDepth"`
	ActiveRound *activeRound `json:"activeRound"`
	LastPass    *passResult  `json:"lastPass"`
	At          time.Time    `json:"at"`
}

func (s status) toService() service.Status {
	out := service.Status{
		Online:     s.Online,
		QueueDepth: s.QueueDepth,
		At:         s.At,
	}
	if a := s.ActiveRound; a != nil {
		out.ActiveRound = &service.ActiveInfo{
			RoundID:      a.RoundID,
			TemplateName: a.TemplateName,
			Scanned:      a.Scanned,
			Total:        a.Total,
			Elapsed:      time.Duration(a.ElapsedSeconds) * time.Second,
			Remaining:    time.Duration(a.RemainingSeconds) * time.Second,
		}
	}
	if s.LastPass != nil {
		p := s.LastPass.toService()
		out.LastPass = &p
	}
	return out
}

const (
	passFields   = `reason skipped skipReason total synced failed discarded repaired at`
	statusFields = `online queueDepth at
		activeRound { roundId templateName scanned total elapsedSeconds remainingSeconds }
		lastPass { ` + passFields + ` }`
)

// =============================================================================
// OPERATIONS
// =============================================================================

// Status returns the agent's current status.
func (c *Client) Status(ctx context.Context) (*service.Status, error) {
	var result struct {
		Status status `json:"status"`
	}
	if err := c.Execute(ctx, `query { status { `+statusFields+` } }`, nil, &result); err != nil {
		return nil, err
	}
	st := result.Status.toService()
	return &st, nil
}

// Stats returns the agent's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	const query = `
		query {
			stats {
				uptimeSeconds
				operations { name count failures totalTimeMs avgTimeMs minTimeMs maxTimeMs }
			}
		}
	`
	var result struct {
		Stats struct {
			UptimeSeconds float64 `json:"uptimeSeconds"`
			Operations    []struct {
				Name        string  `json:"name"`
				Count       int64   `json:"count"`
				Failures    int64   `json:"failures"`
				TotalTimeMs int64   `json:"totalTimeMs"`
				AvgTimeMs   float64 `json:"avgTimeMs"`
				MinTimeMs   int64   `json:"minTimeMs"`
				MaxTimeMs   int64   `json:"maxTimeMs"`
			} `json:"operations"`
		} `json:"stats"`
	}
	if err := c.Execute(ctx, query, nil, &result); err != nil {
		return nil, err
	}

	snap := &metrics.Snapshot{UptimeSeconds: result.Stats.UptimeSeconds}
	for _, op := range result.Stats.Operations {
		snap.Operations = append(snap.Operations, metrics.OperationSnapshot{
			Name:        op.Name,
			Count:       op.Count,
			Failures:    op.Failures,
			TotalTimeMs: op.TotalTimeMs,
			AvgTimeMs:   op.AvgTimeMs,
			MinTimeMs:   op.MinTimeMs,
			MaxTimeMs:   op.MaxTimeMs,
		})
	}
	return snap, nil
}

// Sync asks the agent to run a reconciliation pass now.
func (c *Client) Sync(ctx context.Context) (*service.PassResult, error) {
	var result struct {
		Sync passResult `json:"sync"`
	}
	if err := c.Execute(ctx, `mutation { sync { `+passFields+` } }`, nil, &result); err != nil {
		return nil, err
	}
	res := result.Sync.toService()
	return &res, nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// graphql-transport-ws protocol message types
const (
	gqlConnectionInit      = "connection_init"
	gqlConnectionAck       = "connection_ack"
	gqlSubscribe           = "subscribe"
	gqlNext                = "next"
	gqlError               = "error"
	gqlComplete            = "complete"
	gqlPing                = "ping"
	gqlPong                = "pong"
	gqlConnectionKeepAlive = "ka"
)

// wsMessage represents a graphql-transport-ws protocol message.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe messages.
type wsSubscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// WatchStatus subscribes to status updates until ctx is done, the agent
// completes the subscription, or onStatus returns an error.
func (c *Client) WatchStatus(ctx context.Context, onStatus func(service.Status) error) error {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"graphql-transport-ws"},
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	if err := conn.WriteJSON(wsMessage{Type: gqlConnectionInit}); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}
	var ackMsg wsMessage
	if err := conn.ReadJSON(&ackMsg); err != nil {
		return fmt.Errorf("read connection_ack: %w", err)
	}
	if ackMsg.Type != gqlConnectionAck {
		return fmt.Errorf("expected connection_ack, got %s", ackMsg.Type)
	}

	subscriptionID := uuid.New().String()
	payload, _ := json.Marshal(wsSubscribePayload{
		Query: `subscription { status { ` + statusFields + ` } }`,
	})
	if err := conn.WriteJSON(wsMessage{ID: subscriptionID, Type: gqlSubscribe, Payload: payload}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case gqlNext:
			var data struct {
				Data struct {
					Status status `json:"status"`
				} `json:"data"`
				Errors []graphQLError `json:"errors"`
			}
			if err := json.Unmarshal(msg.Payload, &data); err != nil {
				return fmt.Errorf("unmarshal next payload: %w", err)
			}
			if len(data.Errors) > 0 {
				return toError(data.Errors)
			}
			if err := onStatus(data.Data.Status.toService()); err != nil {
				return err
			}

		case gqlError:
			var errs []graphQLError
			if err := json.Unmarshal(msg.Payload, &errs); err != nil || len(errs) == 0 {
				return fmt.Errorf("subscription error: %s", string(msg.Payload))
			}
			return toError(errs)

		case gqlComplete:
			return nil

		case gqlPing:
			if err := conn.WriteJSON(wsMessage{Type: gqlPong}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}

		case gqlConnectionKeepAlive:
			continue
		}
	}
}
