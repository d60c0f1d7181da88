// Package nethttp provides middleware for instrumenting net/http handlers.
package nethttp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	otas "github.com/Anirudh-RV/otas-go/otas"
)

// Middleware returns a net/http middleware that records every exchange via
// the provided client. The wrapped handler's behavior is unchanged: bodies
// are re-wrapped after reading, panics are re-raised after capture, and the
// response written to the caller is never touched.
func Middleware(client *otas.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !client.Enabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			contentType := r.Header.Get("Content-Type")
			var reqBody []byte
			if r.Body != nil && otas.ShouldCaptureBody(contentType) {
				reqBody, _ = io.ReadAll(r.Body)
				_ = r.Body.Close()
				r.Body = io.NopCloser(bytes.NewReader(reqBody))
			}

			reqHeaders := otas.CanonicalHeaders(r.Header)
			reqHeaders["x-otas-version"] = otas.VersionHeaderValue()

			reqSnap := otas.CaptureRequest(otas.IncomingRequest{
				Method:      r.Method,
				Path:        r.URL.Path,
				Query:       r.URL.Query(),
				Form:        otas.ParseFormBody(contentType, reqBody),
				Headers:     reqHeaders,
				Body:        reqBody,
				ContentType: contentType,
				AgentToken:  r.Header.Get(otas.AgentTokenHeader),
			}, client.Sensitive())

			ctx := otas.WithErrorTracking(r.Context())
			r = r.WithContext(ctx)

			capture := newResponseCapture(w)
			var recovered any

			func() {
				defer func() {
					if rec := recover(); rec != nil {
						recovered = rec
						capture.ensureStatus(http.StatusInternalServerError)
					}
				}()
				next.ServeHTTP(capture, r)
			}()

			// An aborted request with no response started has nothing
			// coherent to report.
			if recovered == nil && ctx.Err() != nil && !capture.started() {
				return
			}

			errText := otas.TrackedError(ctx)
			if recovered != nil {
				errText = otas.DescribePanic(recovered)
			}

			respSnap := otas.CaptureResponse(otas.OutgoingResponse{
				StatusCode:  capture.statusCode(),
				Headers:     otas.CanonicalHeaders(capture.Header()),
				Body:        capture.body.Bytes(),
				BodySize:    capture.size,
				ContentType: capture.Header().Get("Content-Type"),
				Streamed:    capture.streamed,
			}, client.Sensitive())

			latencyMS := float64(time.Since(start)) / float64(time.Millisecond)
			client.Record(reqSnap, respSnap, latencyMS, errText)

			if recovered != nil {
				panic(recovered)
			}
		})
	}
}

// responseCapture tees the response into a buffer while passing everything
// through to the real writer. Buffering stops at the capture bound; size
// keeps counting the real bytes written. A Flush marks the response as
// streamed, after which the snapshot falls back to the sentinel body.
type responseCapture struct {
	http.ResponseWriter
	status   int
	body     bytes.Buffer
	size     int
	streamed bool
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	return &responseCapture{ResponseWriter: w}
}

func (rw *responseCapture) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseCapture) Write(b []byte) (int, error) {
	if len(b) > 0 && !rw.streamed {
		rw.size += len(b)
		if room := otas.MaxCapturedBodyBytes - rw.body.Len(); room > 0 {
			chunk := b
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			rw.body.Write(chunk)
		}
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseCapture) ensureStatus(code int) {
	if rw.status == 0 || rw.status < code {
		rw.status = code
	}
}

func (rw *responseCapture) statusCode() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseCapture) started() bool {
	return rw.status != 0 || rw.size > 0 || rw.streamed
}

func (rw *responseCapture) Flush() {
	rw.streamed = true
	rw.body.Reset()
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseCapture) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (rw *responseCapture) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := rw.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

var (
	_ http.Flusher  = (*responseCapture)(nil)
	_ http.Hijacker = (*responseCapture)(nil)
	_ http.Pusher   = (*responseCapture)(nil)
)
