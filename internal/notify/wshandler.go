package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"smartop/internal/identity"
	"smartop/internal/policy"
	id "smartop/pkg/domain"
	"smartop/pkg/requestcontext"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 15 * time.Second
)

// WSHandler upgrades authenticated requests onto the tenant's broadcast
// channel. Membership is policy-checked: a principal may only subscribe to
// its own tenant's channel unless it is an admin.
type WSHandler struct {
	hub      *Hub
	policies *policy.Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *Hub, policies *policy.Engine, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		policies: policies,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := identity.Principal{
		ID:       requestcontext.PrincipalID(ctx),
		TenantID: requestcontext.TenantID(ctx),
		Role:     requestcontext.Role(ctx),
	}

	tenantID := actor.TenantID
	if requested := r.URL.Query().Get("tenant_id"); requested != "" {
		parsed, err := id.ParseTenantID(requested)
		if err != nil {
			http.Error(w, "invalid tenant_id", http.StatusBadRequest)
			return
		}
		tenantID = parsed
	}

	decision := h.policies.Decide(actor, policy.ActionSubscribe, policy.Resource{
		Kind:     policy.KindChannel,
		TenantID: tenantID,
	})
	if !decision.Allowed {
		http.Error(w, decision.Reason, http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	channel := "tenant:" + tenantID.String()
	sub := h.hub.Subscribe(channel)
	defer sub.Close()

	// Reader goroutine notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.DebugContext(ctx, "websocket write failed", "channel", channel, "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
