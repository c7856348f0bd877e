package http

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"unsafe"
)

// unsafeString converts a byte slice to a string without copying. The result
// aliases the slice, which must stay alive and unmodified while the string
// is in use.
func unsafeString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

var ErrInvalidRequest = errors.New("invalid HTTP request")

// ParseRequest parses one HTTP/1.x request from data without copying the
// request line. It returns ErrInvalidRequest both for malformed input and
// for incomplete input; the connection task keeps reading until the buffer
// fills. The returned request aliases data and must be released before the
// buffer is reused.
func ParseRequest(data []byte) (*Request, error) {
	lineEnd := bytes.IndexByte(data, '\n')
	if lineEnd == -1 {
		return nil, ErrInvalidRequest
	}

	line := data[:lineEnd]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	// METHOD SP PATH SP PROTO, located without splitting.
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 == -1 {
		return nil, ErrInvalidRequest
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 == -1 {
		return nil, ErrInvalidRequest
	}
	sp2 += sp1 + 1

	// Headers must be terminated before we commit to a request object.
	rest := data[lineEnd+1:]
	headerData, body, ok := splitHeaders(rest)
	if !ok {
		return nil, ErrInvalidRequest
	}

	req := AcquireRequest()
	req.Method = unsafeString(line[:sp1])
	req.Path = unsafeString(line[sp1+1 : sp2])
	req.Proto = unsafeString(line[sp2+1:])

	if idx := strings.IndexByte(req.Path, '?'); idx != -1 {
		parseQuery(req, req.Path[idx+1:])
		req.Path = req.Path[:idx]
	}

	parseHeaders(req, headerData)

	// A declared Content-Length gates completeness: the body may arrive in
	// later reads even though the header terminator is already buffered.
	if req.ContentLength != "" {
		if n, cerr := strconv.Atoi(req.ContentLength); cerr == nil && n >= 0 {
			if len(body) < n {
				ReleaseRequest(req)
				return nil, ErrInvalidRequest
			}
			body = body[:n]
		}
	}

	if len(body) > 0 {
		req.Body = append(req.Body[:0], body...)
	}

	return req, nil
}

// splitHeaders finds the header terminator and returns the header block and
// whatever follows it.
func splitHeaders(data []byte) (headers, body []byte, ok bool) {
	if end := bytes.Index(data, []byte("\r\n\r\n")); end != -1 {
		return data[:end], data[end+4:], true
	}
	if end := bytes.Index(data, []byte("\n\n")); end != -1 {
		return data[:end], data[end+2:], true
	}
	return nil, nil, false
}

func parseHeaders(req *Request, data []byte) {
	for len(data) > 0 {
		lineEnd := bytes.IndexByte(data, '\n')
		if lineEnd == -1 {
			lineEnd = len(data)
		}

		line := data[:lineEnd]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			break
		}

		if colon := bytes.IndexByte(line, ':'); colon > 0 {
			key := string(bytes.TrimSpace(line[:colon]))
			value := string(bytes.TrimSpace(line[colon+1:]))
			req.SetHeader(key, value)
		}

		if lineEnd == len(data) {
			break
		}
		data = data[lineEnd+1:]
	}
}

func parseQuery(req *Request, query string) {
	if req.Query == nil {
		req.Query = make(map[string]string)
	}

	for len(query) > 0 {
		pair := query
		if amp := strings.IndexByte(query, '&'); amp != -1 {
			pair = query[:amp]
			query = query[amp+1:]
		} else {
			query = ""
		}
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq != -1 {
			req.Query[pair[:eq]] = pair[eq+1:]
		} else {
			req.Query[pair] = ""
		}
	}
}
