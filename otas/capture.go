package otas

import (
	"net/http"
	"net/url"
	"strings"
)

// StreamedBodySentinel stands in for response bodies that cannot be buffered
// without breaking streaming semantics.
const StreamedBodySentinel = "[STREAMED]"

// MaxCapturedBodyBytes bounds every captured body, request and response
// alike. Anything past the bound is dropped; the pre-truncation size is
// still reported. Adapters may stop buffering at this bound as long as they
// keep counting the real size.
const MaxCapturedBodyBytes = 64 * 1024

// IncomingRequest is the framework-neutral view of an inbound request. The
// middleware adapters produce it; the core never touches framework types.
type IncomingRequest struct {
	Method      string
	Path        string
	Query       url.Values
	Form        url.Values
	Headers     map[string]string
	Body        []byte
	ContentType string
	AgentToken  string
}

// OutgoingResponse is the framework-neutral view of the response produced by
// the downstream handler. Streamed marks bodies that were never buffered.
// BodySize, when larger than len(Body), carries the true byte count of a
// response whose capture was cut off at the bound.
type OutgoingResponse struct {
	StatusCode  int
	Headers     map[string]string
	Body        []byte
	BodySize    int
	ContentType string
	Streamed    bool
}

// RequestSnapshot is the immutable record of one inbound request, headers
// redacted and body bounded. BodySize is the pre-truncation length.
type RequestSnapshot struct {
	Method      string
	Path        string
	Query       url.Values
	Form        url.Values
	Headers     map[string]string
	Body        []byte
	BodySize    int
	ContentType string
	AgentToken  string
}

// ResponseSnapshot is the immutable record of one outbound response.
type ResponseSnapshot struct {
	StatusCode  int
	Headers     map[string]string
	Body        []byte
	BodySize    int
	ContentType string
}

// TruncateBody returns at most max leading bytes of body.
func TruncateBody(body []byte, max int) []byte {
	if len(body) <= max {
		return body
	}
	return body[:max]
}

// ShouldCaptureBody reports whether a request body with the given content
// type is worth reading. Multipart uploads and raw octet streams are skipped:
// the former are unparseable as captured bytes, the latter tend to be large
// and binary.
func ShouldCaptureBody(contentType string) bool {
	lower := strings.ToLower(contentType)
	if strings.HasPrefix(lower, "multipart/form-data") {
		return false
	}
	if strings.HasPrefix(lower, "application/octet-stream") {
		return false
	}
	return true
}

// CaptureRequest normalizes an inbound request into a snapshot. It never
// fails: unset maps come back empty, skipped bodies come back zero-length.
func CaptureRequest(in IncomingRequest, sensitive SensitiveHeaderSet) RequestSnapshot {
	body := in.Body
	if !ShouldCaptureBody(in.ContentType) {
		body = nil
	}

	query := in.Query
	if query == nil {
		query = url.Values{}
	}
	form := in.Form
	if form == nil {
		form = url.Values{}
	}

	return RequestSnapshot{
		Method:      strings.ToUpper(in.Method),
		Path:        in.Path,
		Query:       query,
		Form:        form,
		Headers:     RedactHeaders(in.Headers, sensitive),
		Body:        TruncateBody(body, MaxCapturedBodyBytes),
		BodySize:    len(body),
		ContentType: in.ContentType,
		AgentToken:  in.AgentToken,
	}
}

// CaptureResponse normalizes the downstream response into a snapshot.
// Streamed responses record the sentinel instead of the (unavailable) body.
func CaptureResponse(out OutgoingResponse, sensitive SensitiveHeaderSet) ResponseSnapshot {
	body := out.Body
	if out.Streamed {
		body = []byte(StreamedBodySentinel)
	}
	size := len(body)
	if !out.Streamed && out.BodySize > size {
		size = out.BodySize
	}

	return ResponseSnapshot{
		StatusCode:  out.StatusCode,
		Headers:     RedactHeaders(out.Headers, sensitive),
		Body:        TruncateBody(body, MaxCapturedBodyBytes),
		BodySize:    size,
		ContentType: out.ContentType,
	}
}

// CanonicalHeaders flattens an http.Header into the lower-cased single-value
// form used by snapshots, joining repeated fields with ", ".
func CanonicalHeaders(h http.Header) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}

// ParseFormBody best-effort parses a urlencoded request body. Any parse
// failure, and any non-form content type, yields an empty map.
func ParseFormBody(contentType string, body []byte) url.Values {
	if !strings.HasPrefix(strings.ToLower(contentType), "application/x-www-form-urlencoded") {
		return url.Values{}
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return url.Values{}
	}
	return form
}
