package router

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrMalformedTemplate is wrapped by all template-validation failures.
var ErrMalformedTemplate = errors.New("malformed route template")

// Router is a Radix tree based router with parameter support. Each HTTP
// method gets its own tree. Registration is not safe for concurrent use;
// lookups are, once registration is finished.
type Router struct {
	trees  map[string]*node
	routes []*Route
	cache  *Cache
	log    *slog.Logger
}

type nodeType uint8

const (
	static   nodeType = iota // default
	param                    // :param
	catchAll                 // *param
)

type node struct {
	path      string
	indices   string
	children  []*node
	route     *Route
	nType     nodeType
	paramName string // parameter name for :param or *param nodes
}

// Option configures a Router.
type Option func(*Router)

// WithCache enables the match cache with the given capacity.
func WithCache(capacity int) Option {
	return func(r *Router) {
		if capacity > 0 {
			r.cache = NewCache(capacity)
		}
	}
}

// WithLogger sets the logger used for registration warnings.
func WithLogger(log *slog.Logger) Option {
	return func(r *Router) {
		r.log = log
	}
}

// New creates a router.
func New(opts ...Option) *Router {
	r := &Router{
		trees: make(map[string]*node),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert registers a route. Registering the same method+path twice replaces
// the earlier handler and logs a warning. Malformed templates return an
// error wrapping ErrMalformedTemplate.
func (r *Router) Insert(route *Route) error {
	if route.Path == "" || route.Path[0] != '/' {
		return fmt.Errorf("%w: path must begin with '/': %q", ErrMalformedTemplate, route.Path)
	}

	path := normalizePath(route.Path)

	root := r.trees[route.Method]
	if root == nil {
		root = &node{}
		r.trees[route.Method] = root
	}

	replaced, err := root.addRoute(path, route)
	if err != nil {
		return err
	}

	if replaced {
		r.log.Warn("route overwritten", "method", route.Method, "path", route.Path)
		for i, existing := range r.routes {
			if existing.Method == route.Method && normalizePath(existing.Path) == path {
				r.routes[i] = route
				break
			}
		}
	} else {
		r.routes = append(r.routes, route)
	}

	// Stale cached matches for this key would shadow the replacement.
	if r.cache != nil {
		r.cache.Invalidate()
	}
	return nil
}

// Find resolves a method and path to a registered route and its parameter
// bindings. A trailing slash is equivalent to its absence.
func (r *Router) Find(method, path string) (*Route, Params) {
	path = normalizePath(path)

	if r.cache != nil {
		if route, params, ok := r.cache.Get(method, path); ok {
			return route, params
		}
	}

	root := r.trees[method]
	if root == nil {
		return nil, nil
	}

	route, params := root.getValue(path)
	if route != nil && r.cache != nil {
		r.cache.Put(method, path, route, params)
	}
	return route, params
}

// Routes returns all registered routes in registration order.
func (r *Router) Routes() []*Route {
	return r.routes
}

// CacheStats reports match-cache counters, or zeros when no cache is configured.
func (r *Router) CacheStats() (hits, misses, evictions uint64) {
	if r.cache == nil {
		return 0, 0, 0
	}
	return r.cache.Stats()
}

// normalizePath strips a single trailing slash so /users/ and /users resolve
// to the same tree position. The root path stays as-is.
func normalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return path[:len(path)-1]
	}
	return path
}

// addRoute inserts path into the tree rooted at n. It reports whether an
// existing registration at the same position was replaced.
func (n *node) addRoute(path string, route *Route) (bool, error) {
	// Empty tree
	if n.path == "" && len(n.children) == 0 && n.route == nil {
		return false, n.insertChild(path, route)
	}

	for {
		// Find the longest common prefix
		i := longestCommonPrefix(path, n.path)

		// Split edge
		if i < len(n.path) {
			child := &node{
				path:      n.path[i:],
				indices:   n.indices,
				children:  n.children,
				route:     n.route,
				nType:     n.nType,
				paramName: n.paramName,
			}

			n.children = []*node{child}
			n.indices = string([]byte{n.path[i]})
			n.path = path[:i]
			n.route = nil
			n.nType = static
			n.paramName = ""
		}

		// Make new node a child of this node
		if i < len(path) {
			path = path[i:]
			idxc := path[0]

			// Check if a child with the next path byte exists
			childFound := false
			for j, c := range []byte(n.indices) {
				if c == idxc {
					n = n.children[j]
					childFound = true
					break
				}
			}
			if childFound {
				continue
			}

			if idxc == ':' || idxc == '*' {
				return n.addWildcard(path, route)
			}

			// Otherwise insert a static child, keeping any wildcard child last
			child := &node{}
			n.indices += string([]byte{idxc})
			if wc := n.wildcardChild(); wc != nil {
				n.children[len(n.children)-1] = child
				n.children = append(n.children, wc)
			} else {
				n.children = append(n.children, child)
			}
			return false, child.insertChild(path, route)
		}

		// Otherwise attach the route to the current node
		replaced := n.route != nil
		n.route = route
		return replaced, nil
	}
}

// addWildcard descends into or creates the wildcard child of n. path starts
// with ':' or '*'.
func (n *node) addWildcard(path string, route *Route) (bool, error) {
	wildcard, _, valid := findWildcard(path)
	if !valid {
		return false, fmt.Errorf("%w: only one wildcard per path segment is allowed: %q", ErrMalformedTemplate, path)
	}
	if len(wildcard) < 2 {
		return false, fmt.Errorf("%w: wildcards must be named: %q", ErrMalformedTemplate, path)
	}

	if wc := n.wildcardChild(); wc != nil {
		// An existing wildcard at this position must use the same name;
		// :id and :name in the same segment would be ambiguous.
		if wc.path != wildcard {
			return false, fmt.Errorf("%w: wildcard %q conflicts with existing %q", ErrMalformedTemplate, wildcard, wc.path)
		}

		if len(wildcard) == len(path) {
			replaced := wc.route != nil
			wc.route = route
			return replaced, nil
		}

		if wc.nType == catchAll {
			return false, fmt.Errorf("%w: catch-all routes are only allowed at the end of the path: %q", ErrMalformedTemplate, path)
		}

		// Continue below the param node; it has at most one child, the
		// '/'-prefixed continuation.
		rest := path[len(wildcard):]
		if len(wc.children) == 1 {
			return wc.children[0].addRoute(rest, route)
		}
		child := &node{}
		wc.children = append(wc.children, child)
		return false, child.insertChild(rest, route)
	}

	return false, n.insertChild(path, route)
}

// insertChild writes the remaining path into n, creating wildcard child
// nodes as needed. n's own path must not yet be claimed by another route.
func (n *node) insertChild(path string, route *Route) error {
	for {
		// Find wildcard
		wildcard, i, valid := findWildcard(path)
		if i < 0 { // No wildcard found
			break
		}

		// The wildcard name must not contain ':' and '*'
		if !valid {
			return fmt.Errorf("%w: only one wildcard per path segment is allowed: %q", ErrMalformedTemplate, path)
		}

		// Check if the wildcard has a name
		if len(wildcard) < 2 {
			return fmt.Errorf("%w: wildcards must be named: %q", ErrMalformedTemplate, path)
		}

		// param
		if wildcard[0] == ':' {
			// Insert prefix before the current wildcard
			if i > 0 {
				n.path = path[:i]
				path = path[i:]
			}

			child := &node{
				nType:     param,
				path:      wildcard,
				paramName: wildcard[1:],
			}
			n.children = append(n.children, child)
			n = child

			// If the path doesn't end with the wildcard, then there
			// will be another non-wildcard subpath starting with '/'
			if len(wildcard) < len(path) {
				path = path[len(wildcard):]
				child := &node{}
				n.children = append(n.children, child)
				n = child
				continue
			}

			// Otherwise we're done
			n.route = route
			return nil
		}

		// catchAll
		if i+len(wildcard) != len(path) {
			return fmt.Errorf("%w: catch-all routes are only allowed at the end of the path: %q", ErrMalformedTemplate, path)
		}

		if i > 0 {
			n.path = path[:i]
		}
		child := &node{
			nType:     catchAll,
			path:      wildcard,
			paramName: wildcard[1:],
			route:     route,
		}
		n.children = append(n.children, child)
		return nil
	}

	// If no wildcard was found, simply insert the path and route
	n.path = path
	n.route = route
	return nil
}

// wildcardChild returns the wildcard child of n, if any. Wildcard children
// are kept last and are not listed in indices, so the slices differ in
// length exactly when one exists.
func (n *node) wildcardChild() *node {
	if len(n.children) > len(n.indices) {
		return n.children[len(n.children)-1]
	}
	return nil
}

func (n *node) getValue(path string) (*Route, Params) {
	var params Params

	for {
		prefix := n.path

		if len(path) > len(prefix) {
			if path[:len(prefix)] == prefix {
				path = path[len(prefix):]

				// Try all the non-wildcard children first; a static match
				// always wins over a parameter at the same depth.
				idxc := path[0]
				childFound := false
				for i, c := range []byte(n.indices) {
					if c == idxc {
						n = n.children[i]
						childFound = true
						break
					}
				}
				if childFound {
					continue
				}

				// Fall back to the wildcard child
				if wc := n.wildcardChild(); wc != nil {
					n = wc

					if params == nil {
						params = make(Params, 2)
					}

					switch n.nType {
					case param:
						// Find end (either '/' or path end)
						end := 0
						for end < len(path) && path[end] != '/' {
							end++
						}
						if end == 0 {
							// Empty parameter value
							return nil, nil
						}

						params[n.paramName] = path[:end]

						// Continue with remaining path
						if end < len(path) {
							if len(n.children) > 0 {
								path = path[end:]
								n = n.children[0]
								continue
							}

							// ... but we can't
							return nil, nil
						}

						if n.route != nil {
							return n.route, params
						}
						return nil, nil

					case catchAll:
						params[n.paramName] = path

						if n.route != nil {
							return n.route, params
						}
						return nil, nil

					default:
						return nil, nil
					}
				}

				// No wildcard children either
				return nil, nil
			}
		}

		// No match
		if path != prefix {
			return nil, nil
		}

		// We should have reached the node containing the route
		if n.route != nil {
			return n.route, params
		}
		return nil, nil
	}
}

// Find the wildcard and check validation
func findWildcard(path string) (wildcard string, i int, valid bool) {
	// Find start
	for start, c := range []byte(path) {
		// A wildcard starts with ':' (param) or '*' (catch-all)
		if c != ':' && c != '*' {
			continue
		}

		// Find end
		valid = true
		for end, c := range []byte(path[start+1:]) {
			switch c {
			case '/':
				return path[start : start+1+end], start, valid
			case ':', '*':
				valid = false
			}
		}
		return path[start:], start, valid
	}
	return "", -1, false
}

func longestCommonPrefix(a, b string) int {
	i := 0
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for i < max && a[i] == b[i] {
		i++
	}
	return i
}
