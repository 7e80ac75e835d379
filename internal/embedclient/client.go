// Package embedclient is the Embedder gateway (§4.2): it turns a
// (structured_text, domain) pair into a normalized embedding input and
// obtains a fixed-dimension unit vector from the external embedding
// backend over a line-delimited-JSON TCP connection, mirroring the
// framing §6 specifies for the richer embedder-service protocol.
//
// Requests travel over the TCP line-JSON protocol rather than an HTTP
// POST, since the embedding backend here is a long-lived local
// process, not a REST endpoint.
package embedclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"time"
)

// Client dials the raw embedding backend for each call. The backend is
// a separate long-lived process (§5); the engine never loads a model
// itself.
type Client struct {
	Addr    string
	Timeout time.Duration
}

func New(addr string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 800 * time.Millisecond // default embedder client deadline, §5
	}
	return &Client{Addr: addr, Timeout: timeout}
}

type embedRequest struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

type embedResponse struct {
	Success   bool      `json:"success"`
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

// Embed returns a unit-norm vector for text, or (nil, nil) on any
// dependency-unavailable or deadline-exceeded condition (§7): callers
// proceed without updating the vector index rather than treating this
// as a hard error. A genuine protocol/transport bug still surfaces.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, nil // dependency-unavailable
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	req := embedRequest{Action: "embed", Text: text}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, nil // treat write failure as dependency-unavailable
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		return nil, nil // timeout or closed connection
	}

	var resp embedResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if !resp.Success {
		return nil, nil
	}
	return normalize(resp.Embedding), nil
}

// BuildEmbeddingInput implements §4.2's build_embedding_input: domain
// is prefixed onto body unless it's the default "general" domain.
func BuildEmbeddingInput(body, domain string) string {
	if domain != "" && domain != "general" {
		return "[" + domain + "] " + body
	}
	return body
}

// normalize enforces the unit-norm guarantee §4.2 requires even if the
// backend returns an un-normalized vector.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
