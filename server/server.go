// Package server exposes the question-answering pipeline over a
// websocket: index and delete messages mutate the store, query messages
// stream assembler events (token, sources, error) back to the client.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the client-to-server frame.
type Message struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	DocumentID  int    `json:"document_id,omitempty"`
	DocumentIDs []int  `json:"document_ids,omitempty"`
	Title       string `json:"title,omitempty"`
	K           int    `json:"k,omitempty"`
	MMR         bool   `json:"mmr,omitempty"`
}

// Reply is the server-to-client frame. Token/sources/error mirror the
// assembler events; status, indexed and scores report on mutations and
// grading.
type Reply struct {
	Type          string                 `json:"type"`
	Content       string                 `json:"content,omitempty"`
	Sources       []models.RetrievalHit  `json:"sources,omitempty"`
	ChunksIndexed int                    `json:"chunks_indexed,omitempty"`
	Removed       int                    `json:"removed,omitempty"`
	Scores        map[string]interface{} `json:"scores,omitempty"`
}

type Config struct {
	Port string
}

type WSServer struct {
	config  Config
	service *pipeline.Service
}

func NewWSServer(config Config, service *pipeline.Service) *WSServer {
	if config.Port == "" {
		config.Port = "8080"
	}
	return &WSServer{
		config:  config,
		service: service,
	}
}

// Handler returns the mux serving the websocket and health endpoints.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe blocks serving the websocket and health endpoints.
func (s *WSServer) ListenAndServe() error {
	log.Printf("Starting WebSocket server on port %s", s.config.Port)
	return http.ListenAndServe(":"+s.config.Port, s.Handler())
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Client disconnect cancels any in-flight generation.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Error reading message: %v", err)
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		s.handleMessage(ctx, conn, msg)
	}
}

func (s *WSServer) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	switch msg.Type {
	case "index":
		s.handleIndex(ctx, conn, msg)
	case "delete":
		s.handleDelete(conn, msg)
	case "query":
		s.handleQuery(ctx, conn, msg)
	default:
		s.send(conn, Reply{Type: "error", Content: fmt.Sprintf("unknown message type: %s", msg.Type)})
	}
}

func (s *WSServer) handleIndex(ctx context.Context, conn *websocket.Conn, msg Message) {
	count, err := s.service.UpdateDocument(ctx, models.Document{
		ID:      msg.DocumentID,
		Title:   msg.Title,
		Content: msg.Content,
	})
	if err != nil {
		s.send(conn, Reply{Type: "error", Content: err.Error()})
		return
	}
	s.send(conn, Reply{Type: "indexed", ChunksIndexed: count})
}

func (s *WSServer) handleDelete(conn *websocket.Conn, msg Message) {
	result := <-s.service.ScheduleDelete(msg.DocumentID)
	if result.Err != nil {
		s.send(conn, Reply{Type: "error", Content: result.Err.Error()})
		return
	}
	s.send(conn, Reply{Type: "deleted", Removed: result.Removed})
}

func (s *WSServer) handleQuery(ctx context.Context, conn *websocket.Conn, msg Message) {
	events, err := s.service.AnswerStream(ctx, msg.Content, msg.SessionID, pipeline.AnswerOptions{
		K:                  msg.K,
		AllowedDocumentIDs: msg.DocumentIDs,
		UseMMR:             msg.MMR,
	})
	if err != nil {
		s.send(conn, Reply{Type: "error", Content: err.Error()})
		return
	}

	// Grading runs on the assembler's post-processed final text from
	// the terminal event, not on a re-concatenation of the tokens.
	var answer string
	var sources []models.RetrievalHit
	for ev := range events {
		switch ev.Type {
		case stream.EventToken:
			s.send(conn, Reply{Type: "token", Content: ev.Token})
		case stream.EventSources:
			answer = ev.Answer
			sources = ev.Sources
			s.send(conn, Reply{Type: "sources", Sources: ev.Sources})
		case stream.EventError:
			s.send(conn, Reply{Type: "error", Content: ev.Err})
			return
		}
	}

	result, err := s.service.Grade(ctx, answer, sources)
	if err != nil {
		log.Printf("Error grading answer: %v", err)
		return
	}
	s.send(conn, Reply{Type: "scores", Scores: map[string]interface{}{
		"confidence":          result.Confidence,
		"hallucination_score": result.Hallucination.HallucinationScore,
		"risk_level":          result.Hallucination.Details.RiskLevel,
	}})
}

func (s *WSServer) send(conn *websocket.Conn, reply Reply) {
	if err := conn.WriteJSON(reply); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
