package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // any origin is accepted; the CORS middleware only sets response headers
	},
}

// Hub maintains the set of active dashboard websocket clients and fans out
// DP/collision events to them over GET /api/v1/stream.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades GET /api/v1/stream to a websocket and registers the
// client to receive "dp_received" and "collision" event broadcasts.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mutex.Unlock()
	log.Printf("[WS] client connected, total=%d", n)

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			n := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("[WS] client disconnected, total=%d", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[WS] read error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast pushes a raw JSON payload to every connected client.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// BroadcastDP announces the DPs newly stored by one submission; "total" is
// how many that submission added.
func (h *Hub) BroadcastDP(username string, count int64) {
	payload, _ := json.Marshal(gin.H{
		"type":     "dp_received",
		"username": username,
		"total":    count,
	})
	h.Broadcast(payload)
}

// BroadcastCollision announces a detected pre-collision. Grounded on the
// teacher's BroadcastCoinJoinAlert wiring pattern (alertFunc callback into
// the Hub), generalized from a block-scanner alert to a dp collision event.
func (h *Hub) BroadcastCollision(dpHex, startAHex, startBHex string) {
	payload, _ := json.Marshal(gin.H{
		"type":   "collision",
		"dp":     dpHex,
		"startA": startAHex,
		"startB": startBHex,
	})
	h.Broadcast(payload)
	log.Printf("[COLLISION] dp=%s startA=%s startB=%s", dpHex, startAHex, startBHex)
}
