package api

import (
	"net/http"
	"strconv"
	"strings"
)

// Meta carries response metadata the pipeline needs beyond the decoded body:
// the HTTP status and the pagination cursor parsed from response headers.
type Meta struct {
	StatusCode int
	Header     http.Header
	Page       int
	PageSize   int
	// Next is the absolute URL of the next page, empty when exhausted.
	Next string
}

func newMeta(resp *http.Response) *Meta {
	m := &Meta{StatusCode: resp.StatusCode, Header: resp.Header}
	if v := resp.Header.Get("X-Page"); v != "" {
		m.Page, _ = strconv.Atoi(v)
	}
	if v := resp.Header.Get("X-Per-Page"); v != "" {
		m.PageSize, _ = strconv.Atoi(v)
	}
	m.Next = nextLink(resp.Header.Get("Link"))
	return m
}

// nextLink extracts the rel="next" target from an RFC 5988 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return target
			}
		}
	}
	return ""
}
