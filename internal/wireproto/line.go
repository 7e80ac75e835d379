// Package wireproto implements the line-delimited-JSON-over-TCP-loopback
// framing §6 specifies for both the embedder-service and LLM-service
// wire protocols: one JSON object per line, one line per request or
// response.
package wireproto

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
)

// Call dials addr, writes req as one JSON line, reads one JSON line
// back into resp, and closes the connection. Call sets no deadline of its
// own; any deadline is the one dialFn sets on the connection it returns.
func Call(addr string, req, resp any, dialFn func(network, address string) (net.Conn, error)) error {
	if dialFn == nil {
		dialFn = net.Dial
	}
	conn, err := dialFn("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return fmt.Errorf("read response: connection closed with no data")
	}
	if err := json.Unmarshal(scanner.Bytes(), resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Conn is the minimal server-side framing helper: reads successive
// JSON-line requests from a connection and lets the caller write a
// JSON-line response per request, used by rpcserver.
type Conn struct {
	scanner *bufio.Scanner
	w       net.Conn
}

func NewConn(c net.Conn) *Conn {
	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Conn{scanner: scanner, w: c}
}

// ReadLine returns the next request line, or ok=false at EOF.
func (c *Conn) ReadLine() (line []byte, ok bool) {
	if !c.scanner.Scan() {
		return nil, false
	}
	return c.scanner.Bytes(), true
}

// WriteJSON marshals v and writes it as one line.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	_, err = c.w.Write(append(data, '\n'))
	return err
}
