// Package toolproto implements the four-operation tool surface of §6
// (memory_search, memory_save, memory_validate, memory_stats) over a
// line-delimited stdio protocol, linking the Curator and Retriever
// directly in-process — no network hop, unlike the embedder-service
// protocol rpcserver exposes for external readers.
//
// Each request line carries one flat op/field object rather than a
// nested call envelope, matching the four-op surface §6 specifies.
package toolproto

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marrowdepot/memoryd/internal/curator"
	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/retriever"
	"github.com/marrowdepot/memoryd/internal/rpcserver"
	"github.com/marrowdepot/memoryd/internal/store"
)

type request struct {
	Op         string  `json:"op"`
	Query      string  `json:"query"`
	Limit      int     `json:"limit"`
	Type       string  `json:"type"`
	Domain     string  `json:"domain"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	MemoryID   int64   `json:"memoryId"`
	IsValid    bool    `json:"isValid"`
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type savedDTO struct {
	ID         int64   `json:"id"`
	Type       string  `json:"type"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

// Server serves the tool surface over an arbitrary io.Reader/io.Writer
// pair — typically a process's stdin/stdout.
type Server struct {
	curator   *curator.Curator
	retriever *retriever.Retriever
	records   *store.RecordStore
	clusters  *store.ClusterStore
	log       zerolog.Logger
}

func New(c *curator.Curator, r *retriever.Retriever, records *store.RecordStore, clusters *store.ClusterStore, log zerolog.Logger) *Server {
	return &Server{curator: c, retriever: r, records: records, clusters: clusters, log: log}
}

// Serve reads one JSON request per line from r and writes one JSON
// response per line to w until r is exhausted.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(response{Success: false, Error: "malformed request"})
			continue
		}
		correlationID := uuid.NewString()
		log := s.log.With().Str("correlation_id", correlationID).Str("op", req.Op).Logger()
		start := time.Now()
		resp := s.dispatch(&req)
		log.Info().Bool("success", resp.Success).Dur("elapsed", time.Since(start)).Msg("toolproto: request handled")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("toolproto: write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(req *request) response {
	switch req.Op {
	case "memory_search":
		return s.handleSearch(req)
	case "memory_save":
		return s.handleSave(req)
	case "memory_validate":
		return s.handleValidate(req)
	case "memory_stats":
		return s.handleStats()
	default:
		return response{Success: false, Error: "unknown op: " + req.Op}
	}
}

func (s *Server) handleSearch(req *request) response {
	limit := req.Limit
	if limit <= 0 {
		limit = 3
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	results, err := s.retriever.Search(ctx, req.Query, limit, retriever.Filters{
		Type:   models.RecordType(req.Type),
		Domain: req.Domain,
	})
	if err != nil {
		return response{Success: false, Error: err.Error()}
	}
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"id":            r.Record.ID,
			"content":       r.Content,
			"rawContent":    r.RawContent,
			"type":          string(r.Record.Type),
			"domain":        r.Record.Domain,
			"confidence":    r.Record.Confidence,
			"combinedScore": r.CombinedScore,
		}
	}
	return response{Success: true, Data: out}
}

func (s *Server) handleSave(req *request) response {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	outcome, err := s.curator.Save(ctx, req.Content, curator.SaveParams{
		Type:       models.RecordType(req.Type),
		Domain:     req.Domain,
		Confidence: req.Confidence,
		Source:     "mcp-tool",
	})
	if err != nil {
		return response{Success: false, Error: err.Error()}
	}

	var id int64
	switch {
	case outcome.Rejected != nil:
		return response{Success: false, Error: "rejected: " + outcome.Rejected.Reason}
	case outcome.Updated != nil:
		id = outcome.Updated.ID
	default:
		id = outcome.Created.ID
	}

	rec, err := s.records.GetByID(id)
	if err != nil {
		return response{Success: false, Error: err.Error()}
	}
	return response{Success: true, Data: savedDTO{
		ID: rec.ID, Type: string(rec.Type), Domain: rec.Domain, Confidence: rec.Confidence,
	}}
}

func (s *Server) handleValidate(req *request) response {
	if err := s.curator.Validate(req.MemoryID, req.IsValid); err != nil {
		return response{Success: false, Error: err.Error()}
	}
	return response{Success: true}
}

func (s *Server) handleStats() response {
	stats, err := rpcserver.BuildStats(s.records, s.clusters)
	if err != nil {
		return response{Success: false, Error: err.Error()}
	}
	return response{Success: true, Data: stats}
}
