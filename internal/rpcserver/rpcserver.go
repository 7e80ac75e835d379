// Package rpcserver exposes the embedder-service wire protocol of §6
// (search, quickSearch, ping, stats, shutdown) over TCP loopback,
// backed by the in-process Retriever and Store. This is the server
// side the §6 client-facing action set never had a concrete home for
// in the narrower §4.2 embed-only gateway contract: cmd/memoryd binds
// it so other local processes can reach the Retriever without an
// engine-internal import.
//
// One goroutine per accepted connection; internal/wireproto handles
// the line framing.
package rpcserver

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marrowdepot/memoryd/internal/retriever"
	"github.com/marrowdepot/memoryd/internal/store"
	"github.com/marrowdepot/memoryd/internal/wireproto"
)

type request struct {
	Action  string         `json:"action"`
	Query   string         `json:"query"`
	Limit   int            `json:"limit"`
	Options map[string]any `json:"options"`
}

type searchResultDTO struct {
	ID                int64   `json:"id"`
	Content           string  `json:"content"`
	RawContent        string  `json:"rawContent"`
	StructuredContent string  `json:"structuredContent"`
	Summary           string  `json:"summary"`
	Type              string  `json:"type"`
	Domain            string  `json:"domain"`
	Confidence        float64 `json:"confidence"`
	Tags              string  `json:"tags"`
	CreatedAt         int64   `json:"createdAt"`
	Date              string  `json:"date"`
	BM25Score         float64 `json:"bm25Score"`
	VectorSimilarity  float64 `json:"vectorSimilarity"`
	VectorDistance    float64 `json:"vectorDistance"`
	CombinedScore     float64 `json:"combinedScore"`
}

type searchResponse struct {
	Success bool              `json:"success"`
	Results []searchResultDTO `json:"results,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type pingResponse struct {
	Success bool `json:"success"`
	Ready   bool `json:"ready"`
}

type statsResponse struct {
	Success bool           `json:"success"`
	Stats   map[string]any `json:"stats,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type shutdownResponse struct {
	Success bool `json:"success"`
}

// Stats is the callback the server uses to answer {action:"stats"}.
type Stats func() (map[string]any, error)

// Server accepts connections and dispatches each request line.
type Server struct {
	retriever *retriever.Retriever
	log       zerolog.Logger
	stats     Stats

	mu       sync.Mutex
	listener net.Listener
}

func New(r *retriever.Retriever, statsFn Stats, log zerolog.Logger) *Server {
	return &Server{retriever: r, stats: statsFn, log: log}
}

// ListenAndServe binds addr and serves until the listener is closed or
// a "shutdown" request is received.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Msg("rpcserver: listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()
	conn := wireproto.NewConn(c)
	for {
		line, ok := conn.ReadLine()
		if !ok {
			return
		}
		shutdown := s.dispatch(conn, line)
		if shutdown {
			go s.Close()
			return
		}
	}
}

func (s *Server) dispatch(conn *wireproto.Conn, line []byte) (shutdown bool) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		_ = conn.WriteJSON(searchResponse{Success: false, Error: "malformed request"})
		return false
	}

	correlationID := uuid.NewString()
	log := s.log.With().Str("correlation_id", correlationID).Str("action", req.Action).Logger()
	start := time.Now()
	defer func() { log.Info().Dur("elapsed", time.Since(start)).Msg("rpcserver: request handled") }()

	switch req.Action {
	case "search":
		s.handleSearch(conn, req, true)
	case "quickSearch":
		s.handleSearch(conn, req, false)
	case "ping":
		_ = conn.WriteJSON(pingResponse{Success: true, Ready: true})
	case "stats":
		s.handleStats(conn)
	case "shutdown":
		log.Info().Msg("rpcserver: shutdown requested")
		_ = conn.WriteJSON(shutdownResponse{Success: true})
		return true
	default:
		_ = conn.WriteJSON(searchResponse{Success: false, Error: "unknown action: " + req.Action})
	}
	return false
}

func (s *Server) handleSearch(conn *wireproto.Conn, req request, hybrid bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 1000*time.Millisecond)
	defer cancel()

	limit := req.Limit
	if limit <= 0 {
		limit = 3
	}

	var results []retriever.Result
	var err error
	if hybrid {
		results, err = s.retriever.Search(ctx, req.Query, limit, retriever.Filters{})
	} else {
		results, err = s.retriever.SearchLexical(ctx, req.Query, limit, retriever.Filters{})
	}
	if err != nil {
		_ = conn.WriteJSON(searchResponse{Success: false, Error: err.Error()})
		return
	}

	out := make([]searchResultDTO, len(results))
	for i, r := range results {
		out[i] = searchResultDTO{
			ID:                r.Record.ID,
			Content:           r.Content,
			RawContent:        r.RawContent,
			StructuredContent: r.Record.Structured,
			Summary:           r.Record.Summary,
			Type:              string(r.Record.Type),
			Domain:            r.Record.Domain,
			Confidence:        r.Record.Confidence,
			Tags:              r.Record.Keywords,
			CreatedAt:         r.Record.CreatedAt.Unix(),
			Date:              r.Record.CreatedAt.Format(time.RFC3339),
			BM25Score:         r.BM25,
			VectorSimilarity:  r.VectorSim,
			VectorDistance:    1 - r.VectorSim,
			CombinedScore:     r.CombinedScore,
		}
	}
	_ = conn.WriteJSON(searchResponse{Success: true, Results: out})
}

func (s *Server) handleStats(conn *wireproto.Conn) {
	if s.stats == nil {
		_ = conn.WriteJSON(statsResponse{Success: true, Stats: map[string]any{}})
		return
	}
	stats, err := s.stats()
	if err != nil {
		_ = conn.WriteJSON(statsResponse{Success: false, Error: err.Error()})
		return
	}
	_ = conn.WriteJSON(statsResponse{Success: true, Stats: stats})
}

// BuildStats assembles the memory_stats()/stats action payload from the
// Store's counting primitives (§6).
func BuildStats(records *store.RecordStore, clusters *store.ClusterStore) (map[string]any, error) {
	byTypeDomain, total, err := records.CountByTypeDomain()
	if err != nil {
		return nil, err
	}
	byClusterStatus, err := clusters.CountByStatus()
	if err != nil {
		return nil, err
	}
	promoted, err := records.PromotedCount()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"totalRecords":    total,
		"byTypeDomain":    byTypeDomain,
		"clustersByState": byClusterStatus,
		"promotedCount":   promoted,
	}, nil
}
