package http

import (
	"encoding/json"
	"sync"
)

// Context is the request context handed to native handlers. It reads from the
// parsed request and writes through the response slot; it never touches the
// connection directly.
type Context struct {
	paramKeys   [4]string
	paramValues [4]string
	paramCount  int

	// Map overflow for more than 4 parameters
	paramMapOverflow map[string]string

	request *Request
	slot    *ResponseSlot
}

var contextPool = sync.Pool{
	New: func() any {
		return &Context{}
	},
}

// AcquireContext binds a pooled context to a request and its response slot.
func AcquireContext(req *Request, slot *ResponseSlot) *Context {
	ctx := contextPool.Get().(*Context)
	ctx.request = req
	ctx.slot = slot
	ctx.paramCount = 0
	ctx.paramMapOverflow = nil
	return ctx
}

// ReleaseContext returns a context to the pool.
func ReleaseContext(ctx *Context) {
	ctx.request = nil
	ctx.slot = nil
	ctx.paramCount = 0
	if ctx.paramMapOverflow != nil {
		for k := range ctx.paramMapOverflow {
			delete(ctx.paramMapOverflow, k)
		}
	}
	contextPool.Put(ctx)
}

// SetParam sets a path parameter (zero-allocation for the common case)
func (c *Context) SetParam(key, value string) {
	if c.paramCount < 4 {
		c.paramKeys[c.paramCount] = key
		c.paramValues[c.paramCount] = value
		c.paramCount++
	} else {
		if c.paramMapOverflow == nil {
			c.paramMapOverflow = make(map[string]string)
		}
		c.paramMapOverflow[key] = value
	}
}

// Param gets a path parameter
func (c *Context) Param(key string) string {
	for i := 0; i < c.paramCount && i < 4; i++ {
		if c.paramKeys[i] == key {
			return c.paramValues[i]
		}
	}

	if c.paramMapOverflow != nil {
		return c.paramMapOverflow[key]
	}

	return ""
}

// Method returns the HTTP method
func (c *Context) Method() string {
	return c.request.Method
}

// Path returns the request path
func (c *Context) Path() string {
	return c.request.Path
}

// Query gets a query parameter
func (c *Context) Query(key string) string {
	if c.request.Query == nil {
		return ""
	}
	return c.request.Query[key]
}

// Header gets a request header (prioritizes predefined fields)
func (c *Context) Header(key string) string {
	return c.request.Header(key)
}

// Body returns the request body
func (c *Context) Body() []byte {
	return c.request.Body
}

// Bind binds the JSON body to a struct
func (c *Context) Bind(v any) error {
	return json.Unmarshal(c.request.Body, v)
}

// SetHeader adds a response header
func (c *Context) SetHeader(key, value string) {
	c.slot.AddHeader(key, value)
}

// Status records the response status without writing a body
func (c *Context) Status(code int) {
	c.slot.SetStatus(code)
	c.slot.Seal()
}

// String sends a text response
func (c *Context) String(code int, s string) {
	c.slot.Text(code, s)
}

// JSON sends a JSON response
func (c *Context) JSON(code int, v any) {
	c.slot.JSON(code, v)
}

// Data sends raw data with an explicit content type
func (c *Context) Data(code int, contentType string, data []byte) {
	c.slot.SetStatus(code)
	c.slot.AddHeader("Content-Type", contentType)
	c.slot.SetBody(data)
	c.slot.Seal()
}

// Error sends a status-coded error body
func (c *Context) Error(code int, message string) {
	c.slot.Error(code, message)
}

// Success sends a conventional success envelope
func (c *Context) Success(data any) {
	c.slot.JSON(200, map[string]any{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}
