// Package structurer is the Structurer gateway (§4.3): it asks the
// external LLM service to convert free text into a typed XML record,
// merge a set of records into one, or extract records from a
// transcript, over the LLM-service wire protocol (§6).
//
// Requests travel over the TCP line-JSON protocol rather than an HTTP
// call, since the LLM service here is a long-lived local process, not
// a REST endpoint.
package structurer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/wireproto"
)

// Default per-call deadlines, §5.
const (
	DefaultTimeout       = 5 * time.Second
	StructurizeTimeout   = 15 * time.Second
	MergeTimeout         = 20 * time.Second
	TranscriptTimeout    = 30 * time.Second
	maxTranscriptHalfLen = 16 * 1024 // keep head+tail of a long transcript, drop the middle
)

// Client dials the external LLM service for each operation.
type Client struct {
	Addr string
}

func New(addr string) *Client { return &Client{Addr: addr} }

// Rejected is returned by Structurize when the LLM judges the content
// low value (§4.3); this is a normal outcome, not an error (§7).
type Rejected struct {
	Reason string
}

func (r *Rejected) Error() string { return "rejected: " + r.Reason }

type structurizeRequest struct {
	Action string `json:"action"`
	Text   string `json:"text"`
	Type   string `json:"type"`
}

// structuredOrReject decodes §6's `{structured: "<memory…>" |
// {__rejected:true, reason}}` union: a bare string on success, an
// object with __rejected on rejection.
type structuredOrReject struct {
	Rejected bool
	Reason   string
	XML      string
}

func (s *structuredOrReject) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		s.XML = asString
		return nil
	}
	var asObject struct {
		Rejected bool   `json:"__rejected"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("decode structured field: %w", err)
	}
	s.Rejected = asObject.Rejected
	s.Reason = asObject.Reason
	return nil
}

type structurizeResponse struct {
	Structured structuredOrReject `json:"structured"`
}

// Structurize implements structurize(text, type) -> reject | xml.
func (c *Client) Structurize(ctx context.Context, text string, t models.RecordType) (string, error) {
	req := structurizeRequest{Action: "structurize", Text: text, Type: string(t)}
	var resp structurizeResponse
	if err := c.call(ctx, StructurizeTimeout, req, &resp); err != nil {
		return "", err
	}
	if resp.Structured.Rejected {
		return "", &Rejected{Reason: resp.Structured.Reason}
	}
	return resp.Structured.XML, nil
}

type mergeRequest struct {
	Action   string   `json:"action"`
	Memories []string `json:"memories"`
	Domain   string   `json:"domain"`
}

type mergeResponse struct {
	Merged string `json:"merged"`
}

// Merge implements merge(xml_list, domain) -> xml.
func (c *Client) Merge(ctx context.Context, xmlList []string, domain string) (string, error) {
	req := mergeRequest{Action: "merge", Memories: xmlList, Domain: domain}
	var resp mergeResponse
	if err := c.call(ctx, MergeTimeout, req, &resp); err != nil {
		return "", err
	}
	return resp.Merged, nil
}

type analyzeSessionRequest struct {
	Action     string `json:"action"`
	Transcript string `json:"transcript"`
}

type analyzeSessionResponse struct {
	Memories []struct {
		Type             string  `json:"type"`
		Domain           string  `json:"domain"`
		Confidence       float64 `json:"confidence"`
		Summary          string  `json:"summary"`
		StructuredContent string `json:"structuredContent"`
	} `json:"memories"`
}

// Extract implements extract(transcript_text) -> list of records,
// capped at three (§4.3). An empty transcript, or an LLM response with
// no memories, both yield a nil slice.
func (c *Client) Extract(ctx context.Context, messages []models.TranscriptMessage) ([]models.ExtractedRecord, error) {
	transcript := renderTranscript(messages)
	if transcript == "" {
		return nil, nil
	}
	req := analyzeSessionRequest{Action: "analyzeSession", Transcript: transcript}
	var resp analyzeSessionResponse
	if err := c.call(ctx, TranscriptTimeout, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Memories) == 0 {
		return nil, nil
	}

	out := make([]models.ExtractedRecord, 0, len(resp.Memories))
	for i, m := range resp.Memories {
		if i >= 3 {
			break
		}
		out = append(out, models.ExtractedRecord{
			Type:       models.RecordType(m.Type),
			Domain:     m.Domain,
			Confidence: m.Confidence,
			Summary:    m.Summary,
			Structured: m.StructuredContent,
		})
	}
	return out, nil
}

// renderTranscript flattens role-tagged messages into plain text,
// keeping head and tail when the transcript is long rather than a hard
// prefix cut, so recent context survives truncation.
func renderTranscript(messages []models.TranscriptMessage) string {
	if len(messages) == 0 {
		return ""
	}
	var full string
	for _, m := range messages {
		full += m.Role + ": " + m.Content + "\n"
	}
	if len(full) <= 2*maxTranscriptHalfLen {
		return full
	}
	head := full[:maxTranscriptHalfLen]
	tail := full[len(full)-maxTranscriptHalfLen:]
	return head + "\n...[truncated]...\n" + tail
}

func (c *Client) call(ctx context.Context, timeout time.Duration, req, resp any) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialFn := func(network, address string) (net.Conn, error) {
		conn, err := (&net.Dialer{}).DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		conn.SetDeadline(deadline)
		return conn, nil
	}
	if err := wireproto.Call(c.Addr, req, resp, dialFn); err != nil {
		return fmt.Errorf("llm service call: %w", err)
	}
	return nil
}
