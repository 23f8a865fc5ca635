// Transcript Viewer - live view of voice dialogue turns and interruptions.
// Consumes the dialogue Kafka topics and relays events to browsers over
// WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

//go:embed static/*
var staticFiles embed.FS

// DialogueEvent is the union of turn and interruption events.
type DialogueEvent struct {
	EventType      string  `json:"eventType"`
	SessionID      string  `json:"sessionId"`
	ConversationID string  `json:"conversationId,omitempty"`
	TurnID         string  `json:"turnId,omitempty"`
	Role           string  `json:"role,omitempty"`
	Text           string  `json:"text,omitempty"`
	LatencyMs      float64 `json:"latencyMs,omitempty"`
	Source         string  `json:"source,omitempty"`
	Timestamp      int64   `json:"timestamp"`
}

// Hub fans events out to connected WebSocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Client connected. Total: %d", n)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		_ = conn.Close()
		log.Printf("Client disconnected. Total: %d", n)
	}
}

// Broadcast writes ev to every client, dropping clients that fail.
func (h *Hub) Broadcast(ev DialogueEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("Write error: %v", err)
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dev only
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.add(conn)

		// Reads only detect disconnects.
		go func() {
			defer hub.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic string, since time.Duration) {
	// Partition reader without a consumer group works through port-forwards.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("Failed to seek %s: %v", topic, err)
	}
	log.Printf("Consuming from Kafka topic: %s partition 0 (last %s)", topic, since)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var ev DialogueEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("JSON unmarshal error: %v", err)
			continue
		}

		log.Printf("Received %s session=%s %s", ev.EventType, ev.SessionID, truncate(ev.Text, 40))
		hub.Broadcast(ev)
	}
}

func newMux(hub *Hub) http.Handler {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("static files: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))
	return mux
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTurns := flag.String("topic-turns", "dialogue.turns", "Turn event topic")
	topicControl := flag.String("topic-control", "dialogue.control", "Interruption event topic")
	since := flag.Duration("since", time.Hour, "how far back to replay events")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	brokerList := strings.Split(*brokers, ",")
	go consumeKafka(ctx, hub, brokerList, *topicTurns, *since)
	go consumeKafka(ctx, hub, brokerList, *topicControl, *since)

	srv := &http.Server{Addr: ":" + *port, Handler: newMux(hub), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Transcript Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topics: %s, %s", *topicTurns, *topicControl)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
