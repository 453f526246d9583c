// Package web is the HTTP and WebSocket edge: routing, the upgrade
// handshake, and the per-connection read/write pumps. Everything behind
// the upgrade is the session package's concern.
package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"questweaver/server/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type Handlers struct {
	registry *session.Registry
}

func NewHandlers(registry *session.Registry) *Handlers {
	return &Handlers{registry: registry}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"service":     "questweaver",
		"adventures":  h.registry.Count(),
		"connections": h.registry.LiveConnections(),
	})
}

// AdventureSocket upgrades the connection and hands it to the
// adventure's session controller. The connection ceiling is enforced
// before the upgrade so over-capacity requests fail as plain HTTP.
func (h *Handlers) AdventureSocket(w http.ResponseWriter, r *http.Request) {
	adventureID := chi.URLParam(r, "adventureID")

	if !h.registry.AcquireSlot() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "server is at connection capacity",
			"code":  "CAPACITY_EXCEEDED",
		})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.registry.ReleaseSlot()
		log.Printf("[Web] Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	client := &Client{
		ID:      generateClientID(),
		Conn:    conn,
		out:     make(chan []byte, sendBufferSize),
		release: h.registry.ReleaseSlot,
	}

	client.ctrl = h.registry.Connect(adventureID, client)
	log.Printf("[Web] Client %s connected (adventure=%q)", client.ID, adventureID)

	go client.writePump()
	go client.readPump()
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewRouter(registry *session.Registry) *chi.Mux {
	r := chi.NewRouter()

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			log.Printf("REQUEST: %s %s", req.Method, req.URL.Path)
			next.ServeHTTP(w, req)
		})
	})
	r.Use(corsMiddleware)

	handlers := NewHandlers(registry)

	r.Get("/health", handlers.HealthCheck)
	r.Get("/ws/adventure", handlers.AdventureSocket)
	r.Get("/ws/adventure/{adventureID}", handlers.AdventureSocket)

	return r
}

// generateClientID generates a unique connection id for logging.
func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
