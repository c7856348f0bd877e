package http

import (
	"github.com/valyala/bytebufferpool"
)

// Header is a single response header pair.
type Header struct {
	Key   string
	Value string
}

// Response is the transport-boundary response shape: status, header list, body bytes.
// HTTP framing, keep-alive and TLS are the transport collaborator's concern.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// NewResponse builds a response with a single Content-Type header.
func NewResponse(status int, contentType string, body []byte) *Response {
	return &Response{
		Status:  status,
		Headers: []Header{{Key: "Content-Type", Value: contentType}},
		Body:    body,
	}
}

// Encode appends the serialized HTTP/1.1 response to buf.
// Content-Length and Connection are always emitted; other headers come from r.Headers.
func (r *Response) Encode(buf *bytebufferpool.ByteBuffer, keepAlive bool) {
	status := r.Status
	if status == 0 {
		status = 200
	}

	buf.B = append(buf.B, "HTTP/1.1 "...)
	buf.B = appendInt(buf.B, status)
	buf.B = append(buf.B, ' ')
	buf.B = append(buf.B, statusText(status)...)
	buf.B = append(buf.B, "\r\n"...)

	for _, h := range r.Headers {
		buf.B = append(buf.B, h.Key...)
		buf.B = append(buf.B, ": "...)
		buf.B = append(buf.B, h.Value...)
		buf.B = append(buf.B, "\r\n"...)
	}

	buf.B = append(buf.B, "Content-Length: "...)
	buf.B = appendInt(buf.B, len(r.Body))
	if keepAlive {
		buf.B = append(buf.B, "\r\nConnection: keep-alive\r\n\r\n"...)
	} else {
		buf.B = append(buf.B, "\r\nConnection: close\r\n\r\n"...)
	}

	buf.B = append(buf.B, r.Body...)
}

// appendInt appends an integer to a byte slice without allocation
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}

	if i < 0 {
		b = append(b, '-')
		i = -i
	}

	var digits [20]byte
	n := 0
	for i > 0 {
		digits[n] = byte('0' + i%10)
		i /= 10
		n++
	}

	for n > 0 {
		n--
		b = append(b, digits[n])
	}

	return b
}

// statusText returns the HTTP status text for the given code
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
