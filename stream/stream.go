// Package stream consumes the SSE-style reply stream of the chat endpoint.
// Events are pulled with Recv; closing the stream aborts the transfer without
// surfacing an error.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/hatcher/kbchat/models"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Event is one observable unit of the stream: either an incremental content
// delta or the single terminal event carrying the finalized message.
type Event struct {
	Content string
	Done    bool
	Message *models.Message
}

// Decoder splits a chunked byte stream into lines. Chunk boundaries need not
// align with line boundaries, so the trailing partial line of every read is
// carried over as the prefix of the next one.
type Decoder struct {
	r       io.Reader
	carry   []byte
	pending []string
	readBuf []byte
	eof     bool
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:       r,
		readBuf: make([]byte, 4096),
	}
}

// Next returns the next complete line, without the trailing newline.
// At end of input a leftover partial line is flushed as the final line.
func (d *Decoder) Next() (string, error) {
	for {
		if len(d.pending) > 0 {
			line := d.pending[0]
			d.pending = d.pending[1:]
			return line, nil
		}
		if d.eof {
			if len(d.carry) > 0 {
				line := string(d.carry)
				d.carry = nil
				return line, nil
			}
			return "", io.EOF
		}

		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.carry = append(d.carry, d.readBuf[:n]...)
			for {
				idx := bytes.IndexByte(d.carry, '\n')
				if idx < 0 {
					break
				}
				d.pending = append(d.pending, string(d.carry[:idx]))
				d.carry = d.carry[idx+1:]
			}
		}
		if err != nil {
			if err == io.EOF {
				d.eof = true
				continue
			}
			return "", err
		}
	}
}

type payload struct {
	Content string          `json:"content"`
	Done    bool            `json:"done"`
	Message *models.Message `json:"message"`
}

type Stream struct {
	dec    *Decoder
	body   io.Closer
	cancel context.CancelFunc
	closed atomic.Bool
	ended  bool
}

// New wraps an open response body. cancel aborts the underlying request and
// may be nil.
func New(body io.ReadCloser, cancel context.CancelFunc) *Stream {
	return &Stream{
		dec:    NewDecoder(body),
		body:   body,
		cancel: cancel,
	}
}

// Recv returns the next event. io.EOF marks the end of the stream, whether
// from the terminal sentinel, server close, or a local Close. Cancellation
// is never reported as an error.
func (s *Stream) Recv() (Event, error) {
	if s.ended {
		return Event{}, io.EOF
	}
	for {
		line, err := s.dec.Next()
		if err != nil {
			s.ended = true
			if err == io.EOF || s.closed.Load() || isAborted(err) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimPrefix(line, dataPrefix)
		if data == doneSentinel {
			s.ended = true
			return Event{}, io.EOF
		}

		var p payload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			// Payloads that are not valid JSON are forwarded verbatim
			// rather than dropped.
			return Event{Content: data}, nil
		}
		if p.Done {
			s.ended = true
			return Event{Done: true, Message: p.Message}, nil
		}
		if p.Content != "" {
			return Event{Content: p.Content}, nil
		}
	}
}

// Close aborts the stream. A Recv blocked on the network returns io.EOF.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}

func isAborted(err error) bool {
	return errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "read on closed response body")
}
