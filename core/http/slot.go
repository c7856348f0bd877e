package http

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// ResponseSlot is the rendezvous point between a handler invocation and the
// connection task. Exactly one handler invocation writes it, then seals it;
// the connection task reads it only after observing the ready flag.
// Writes after Seal are ignored.
type ResponseSlot struct {
	status atomic.Uint32
	ready  atomic.Bool

	// Guards headers and body until the slot is sealed. The connection task
	// never touches either before Ready() returns true.
	mu      sync.Mutex
	headers []Header
	body    *bytebufferpool.ByteBuffer
}

// NewResponseSlot creates an empty, unsealed slot.
func NewResponseSlot() *ResponseSlot {
	return &ResponseSlot{
		body: bytebufferpool.Get(),
	}
}

// SetStatus records the response status code.
func (s *ResponseSlot) SetStatus(code int) {
	if s.ready.Load() {
		return
	}
	s.status.Store(uint32(code))
}

// AddHeader appends a response header.
func (s *ResponseSlot) AddHeader(key, value string) {
	if s.ready.Load() {
		return
	}
	s.mu.Lock()
	s.headers = append(s.headers, Header{Key: key, Value: value})
	s.mu.Unlock()
}

// Write appends body bytes. Implements io.Writer.
func (s *ResponseSlot) Write(p []byte) (int, error) {
	if s.ready.Load() {
		return 0, nil
	}
	s.mu.Lock()
	if s.body == nil {
		s.mu.Unlock()
		return 0, nil
	}
	n, err := s.body.Write(p)
	s.mu.Unlock()
	return n, err
}

// SetBody replaces the accumulated body.
func (s *ResponseSlot) SetBody(b []byte) {
	if s.ready.Load() {
		return
	}
	s.mu.Lock()
	if s.body == nil {
		s.mu.Unlock()
		return
	}
	s.body.Reset()
	s.body.Write(b)
	s.mu.Unlock()
}

// Text writes a plain-text response and seals the slot.
func (s *ResponseSlot) Text(code int, v string) {
	s.SetStatus(code)
	s.AddHeader("Content-Type", "text/plain")
	s.SetBody([]byte(v))
	s.Seal()
}

// JSON writes a JSON response and seals the slot.
func (s *ResponseSlot) JSON(code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.SetStatus(500)
		s.AddHeader("Content-Type", "text/plain")
		s.SetBody([]byte("JSON marshal error"))
		s.Seal()
		return err
	}
	s.SetStatus(code)
	s.AddHeader("Content-Type", "application/json")
	s.SetBody(data)
	s.Seal()
	return nil
}

// Error writes a status-coded JSON error body and seals the slot.
func (s *ResponseSlot) Error(code int, message string) {
	s.JSON(code, map[string]any{
		"code":    code,
		"message": message,
	})
}

// Seal publishes the response. Exactly one seal takes effect.
func (s *ResponseSlot) Seal() {
	s.ready.Store(true)
}

// Ready reports whether the owning invocation has sealed the slot.
func (s *ResponseSlot) Ready() bool {
	return s.ready.Load()
}

// Response copies the sealed content out of the slot. Call only after Ready().
func (s *ResponseSlot) Response() *Response {
	status := int(s.status.Load())
	if status == 0 {
		status = 200
	}

	s.mu.Lock()
	headers := make([]Header, len(s.headers))
	copy(headers, s.headers)
	var body []byte
	if s.body != nil {
		body = make([]byte, len(s.body.B))
		copy(body, s.body.B)
	}
	s.mu.Unlock()

	return &Response{Status: status, Headers: headers, Body: body}
}

// Release returns the body buffer to the pool. The slot must not be used after.
func (s *ResponseSlot) Release() {
	s.mu.Lock()
	if s.body != nil {
		bytebufferpool.Put(s.body)
		s.body = nil
	}
	s.mu.Unlock()
}
