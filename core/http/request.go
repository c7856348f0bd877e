package http

import "sync"

// Request is a zero-allocation HTTP request structure
type Request struct {
	Method string
	Path   string
	Proto  string

	// Predefined common header fields (zero-allocation)
	ContentType   string
	ContentLength string
	UserAgent     string
	Accept        string
	Host          string
	Connection    string

	// Extra headers (allocated only when needed)
	ExtraHeaders map[string]string

	// Query parameters
	Query map[string]string

	// Path parameters bound by the router
	Params map[string]string

	// Request body
	Body []byte
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{
			Body: make([]byte, 0, 1024),
		}
	},
}

func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// Reset resets the request for reuse (memory not freed, just reset)
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.Proto = ""
	r.ContentType = ""
	r.ContentLength = ""
	r.UserAgent = ""
	r.Accept = ""
	r.Host = ""
	r.Connection = ""

	// Clear maps without freeing memory
	if r.ExtraHeaders != nil {
		for k := range r.ExtraHeaders {
			delete(r.ExtraHeaders, k)
		}
	}

	if r.Query != nil {
		for k := range r.Query {
			delete(r.Query, k)
		}
	}

	r.Params = nil

	// Keep slice capacity, just reset length
	r.Body = r.Body[:0]
}

func ReleaseRequest(req *Request) {
	req.Reset()
	requestPool.Put(req)
}

// Header gets a header value (prioritizes predefined fields)
func (r *Request) Header(key string) string {
	switch key {
	case "Content-Type":
		return r.ContentType
	case "Content-Length":
		return r.ContentLength
	case "User-Agent":
		return r.UserAgent
	case "Accept":
		return r.Accept
	case "Host":
		return r.Host
	case "Connection":
		return r.Connection
	default:
		if r.ExtraHeaders != nil {
			return r.ExtraHeaders[key]
		}
		return ""
	}
}

// HeadersMap materializes all headers into a map. Used to build the
// middleware context; the hot path never calls this for predefined fields.
func (r *Request) HeadersMap() map[string]string {
	out := make(map[string]string, 6+len(r.ExtraHeaders))
	if r.ContentType != "" {
		out["Content-Type"] = r.ContentType
	}
	if r.ContentLength != "" {
		out["Content-Length"] = r.ContentLength
	}
	if r.UserAgent != "" {
		out["User-Agent"] = r.UserAgent
	}
	if r.Accept != "" {
		out["Accept"] = r.Accept
	}
	if r.Host != "" {
		out["Host"] = r.Host
	}
	if r.Connection != "" {
		out["Connection"] = r.Connection
	}
	for k, v := range r.ExtraHeaders {
		out[k] = v
	}
	return out
}

// RawQuery rebuilds the query string from parsed parameters.
func (r *Request) RawQuery() string {
	if len(r.Query) == 0 {
		return ""
	}
	var b []byte
	for k, v := range r.Query {
		if len(b) > 0 {
			b = append(b, '&')
		}
		b = append(b, k...)
		if v != "" {
			b = append(b, '=')
			b = append(b, v...)
		}
	}
	return string(b)
}

// SetHeader sets a header (prioritizes predefined fields)
func (r *Request) SetHeader(key, value string) {
	switch key {
	case "Content-Type":
		r.ContentType = value
	case "Content-Length":
		r.ContentLength = value
	case "User-Agent":
		r.UserAgent = value
	case "Accept":
		r.Accept = value
	case "Host":
		r.Host = value
	case "Connection":
		r.Connection = value
	default:
		if r.ExtraHeaders == nil {
			r.ExtraHeaders = make(map[string]string)
		}
		r.ExtraHeaders[key] = value
	}
}
