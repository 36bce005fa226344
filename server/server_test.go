package server_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/chunker"
	"github.com/xhad/docqa/pkg/index"
	"github.com/xhad/docqa/pkg/memory"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/retriever"
	"github.com/xhad/docqa/server"
)

const testDim = 4

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, testDim)
		for j, r := range text {
			v[j%testDim] += float32(r%31) / 31
		}
		out[i] = v
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return testDim }

type stubGenerator struct {
	answer string
}

func (g *stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	return g.answer, nil
}

func (g *stubGenerator) GenerateStream(_ context.Context, _ string) (<-chan types.StreamChunk, error) {
	out := make(chan types.StreamChunk, len(g.answer))
	for _, word := range strings.SplitAfter(g.answer, " ") {
		out <- types.StreamChunk{Content: word}
	}
	close(out)
	return out, nil
}

func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()

	embedder := stubEmbedder{}
	store, err := index.NewWithConfig(index.IndexConfig{
		Dimension: testDim,
		DataDir:   t.TempDir(),
		Embedder:  embedder,
	})
	require.NoError(t, err)

	split := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 200, ChunkOverlap: 40})
	ret := retriever.NewWithConfig(retriever.RetrieverConfig{}, embedder, store)
	service := pipeline.NewService(pipeline.ServiceConfig{},
		&split, embedder, store, ret, &stubGenerator{answer: "The grounded answer."}, memory.NewStore())
	t.Cleanup(service.Close)

	ws := server.NewWSServer(server.Config{}, service)
	ts := httptest.NewServer(ws.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) server.Reply {
	t.Helper()
	var reply server.Reply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestWebSocket_IndexQueryDelete(t *testing.T) {
	conn := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(server.Message{
		Type:       "index",
		DocumentID: 1,
		Title:      "manual",
		Content:    "Support hours are nine to five on weekdays.",
	}))
	reply := readReply(t, conn)
	assert.Equal(t, "indexed", reply.Type)
	assert.Equal(t, 1, reply.ChunksIndexed)

	require.NoError(t, conn.WriteJSON(server.Message{
		Type:      "query",
		Content:   "When is support available?",
		SessionID: "ws-test",
	}))

	var answer string
	var sawSources, sawScores bool
	for !sawScores {
		reply := readReply(t, conn)
		switch reply.Type {
		case "token":
			answer += reply.Content
		case "sources":
			sawSources = true
			assert.NotEmpty(t, reply.Sources)
		case "scores":
			sawScores = true
			assert.Contains(t, reply.Scores, "confidence")
			assert.Contains(t, reply.Scores, "risk_level")
		default:
			t.Fatalf("unexpected reply type %q", reply.Type)
		}
	}
	assert.True(t, sawSources)
	assert.Equal(t, "The grounded answer.", answer)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "delete", DocumentID: 1}))
	reply = readReply(t, conn)
	assert.Equal(t, "deleted", reply.Type)
	assert.Equal(t, 1, reply.Removed)
}

func TestWebSocket_UnknownMessageType(t *testing.T) {
	conn := dialTestServer(t)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "bogus"}))
	reply := readReply(t, conn)
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Content, "unknown message type")
}

func TestHealthEndpoint(t *testing.T) {
	ws := server.NewWSServer(server.Config{}, nil)
	ts := httptest.NewServer(ws.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
