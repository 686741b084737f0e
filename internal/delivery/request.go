package delivery

import (
	"net/http"
	"strings"
)

// DefaultTargetsHeader carries the JSON array of targets on inbound requests.
const DefaultTargetsHeader = "X-Duplicate-Targets"

// hopHeaders apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SharedRequest is the payload common to every duplicate of one inbound request.
// It is built once and only read afterwards, so tasks hold it by pointer and
// deliveries read it concurrently without locking.
type SharedRequest struct {
	Method       string
	Header       http.Header
	Body         []byte
	RequestID    string
	TraceHeaders map[string]string
}

// NewSharedRequest copies header, dropping Host, hop-by-hop headers and any of
// the named control headers, and freezes method and body.
func NewSharedRequest(method string, header http.Header, body []byte, control ...string) *SharedRequest {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Del("Host")
	for _, k := range hopHeaders {
		h.Del(k)
	}
	// Connection may name further per-hop headers
	for _, v := range header.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
	for _, k := range control {
		h.Del(k)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &SharedRequest{
		Method: method,
		Header: h,
		Body:   body,
	}
}
