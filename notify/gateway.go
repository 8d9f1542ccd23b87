// notify/gateway.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// GatewayDispatcher posts JSON messages to the platform gateway.
type GatewayDispatcher struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

func NewGatewayDispatcher(baseURL, token string, client *http.Client, perSecond float64, burst int) *GatewayDispatcher {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &GatewayDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (g *GatewayDispatcher) DeliverClaim(ctx context.Context, d ClaimDelivery) error {
	return g.post(ctx, "/dm/claims", d)
}

func (g *GatewayDispatcher) Prompt(ctx context.Context, p Prompt) error {
	return g.post(ctx, "/dm/prompts", p)
}

func (g *GatewayDispatcher) Notify(ctx context.Context, n Notice) error {
	return g.post(ctx, "/dm/notices", n)
}

func (g *GatewayDispatcher) Log(ctx context.Context, communityID, message string) error {
	return g.post(ctx, "/channels/log", map[string]string{
		"community_id": communityID,
		"message":      message,
	})
}

func (g *GatewayDispatcher) post(ctx context.Context, path string, payload any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %s returned %d: %s", ErrDeliveryFailed, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("gateway %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// LogDispatcher writes every message to the process log. It is used when no
// gateway URL is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{logger: slog.Default().With("component", "dispatcher")}
}

func (l *LogDispatcher) DeliverClaim(_ context.Context, d ClaimDelivery) error {
	l.logger.Info("claim delivery", "user_id", d.UserID, "claim_id", d.ClaimID, "item_type", d.ItemType, "unit", d.Attachment.Name)
	return nil
}

func (l *LogDispatcher) Prompt(_ context.Context, p Prompt) error {
	l.logger.Info("feedback prompt", "user_id", p.UserID, "claim_id", p.ClaimID, "kind", p.Kind)
	return nil
}

func (l *LogDispatcher) Notify(_ context.Context, n Notice) error {
	l.logger.Info("notice", "user_id", n.UserID, "title", n.Title)
	return nil
}

func (l *LogDispatcher) Log(_ context.Context, communityID, message string) error {
	l.logger.Info("community log", "community_id", communityID, "message", message)
	return nil
}
