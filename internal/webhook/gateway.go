// Package webhook receives ingest-server lifecycle notifications and turns
// them into session manager commands. The upstream convention is fire and
// forget: the gateway answers 200 no matter what, does the mapping work
// asynchronously, and tolerates duplicate deliveries.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/splicecast/splicecast/internal/config"
	"github.com/splicecast/splicecast/internal/observability"
)

// SessionHooks is the slice of the session manager the gateway drives.
type SessionHooks interface {
	IngestStarted(ctx context.Context, streamKey string) bool
	IngestStopped(ctx context.Context, streamKey string) bool
	ViewerJoined(ctx context.Context, streamKey string) bool
	ViewerLeft(ctx context.Context, streamKey string) bool
}

// Gateway handles the ingest server's webhook callbacks.
type Gateway struct {
	hooks     SessionHooks
	metrics   *observability.Metrics
	logger    *slog.Logger
	keyPrefix string
	timeout   time.Duration
}

// New creates the webhook gateway.
func New(cfg config.WebhookConfig, hooks SessionHooks, metrics *observability.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		hooks:     hooks,
		metrics:   metrics,
		logger:    logger.With("component", "webhook"),
		keyPrefix: cfg.KeyPrefix,
		timeout:   5 * time.Second,
	}
}

// Routes mounts the webhook endpoints on a chi router.
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/on-publish", g.handle("publish", g.hooks.IngestStarted))
	r.Post("/on-publish-done", g.handle("publish-done", g.hooks.IngestStopped))
	r.Post("/on-play", g.handle("play", g.hooks.ViewerJoined))
	r.Post("/on-play-done", g.handle("play-done", g.hooks.ViewerLeft))
	return r
}

// notification is the webhook payload. Ingest servers disagree on the field
// name for the stream key, so several are accepted.
type notification struct {
	StreamKey string `json:"streamKey"`
	Stream    string `json:"stream"`
	Name      string `json:"name"`
	Key       string `json:"key"`
}

func (n *notification) key() string {
	for _, v := range []string{n.StreamKey, n.Stream, n.Name, n.Key} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (g *Gateway) handle(event string, fn func(context.Context, string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.metrics.WebhooksReceived.WithLabelValues(event).Inc()

		key := g.extractKey(r)
		// always 200, even for garbage: the ingest server treats any
		// other status as permission to drop the publisher
		w.WriteHeader(http.StatusOK)

		if key == "" {
			g.logger.Warn("webhook without stream key", "event", event)
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
			defer cancel()
			if !fn(ctx, key) {
				g.logger.Debug("webhook for unknown stream key",
					"event", event, "key", key)
			}
		}()
	}
}

// extractKey pulls the stream key from a JSON or form-encoded body and
// strips the configured application prefix.
func (g *Gateway) extractKey(r *http.Request) string {
	var key string

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var n notification
		if err := json.NewDecoder(r.Body).Decode(&n); err == nil {
			key = n.key()
		}
	} else {
		if err := r.ParseForm(); err == nil {
			for _, field := range []string{"streamKey", "stream", "name", "key"} {
				if v := r.PostForm.Get(field); v != "" {
					key = v
					break
				}
			}
		}
	}

	if g.keyPrefix != "" {
		key = strings.TrimPrefix(key, g.keyPrefix)
	}
	return key
}
