// Package fasthttp provides middleware for instrumenting github.com/valyala/fasthttp handlers.
package fasthttp

import (
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	otas "github.com/Anirudh-RV/otas-go/otas"
)

// Middleware wraps a fasthttp handler with OTAS traffic capture. A panic in
// the downstream handler is recorded and re-raised; handlers can also
// attribute an error explicitly with otas.NoteError(ctx, err), since the
// RequestCtx doubles as the tracking context.
func Middleware(client *otas.Client, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if !client.Enabled() {
		return next
	}

	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()

		contentType := string(ctx.Request.Header.ContentType())
		var reqBody []byte
		if otas.ShouldCaptureBody(contentType) {
			reqBody = append([]byte(nil), ctx.PostBody()...)
		}

		reqHeaders := canonicalHeaders(ctx.Request.Header.VisitAll)
		reqHeaders["x-otas-version"] = otas.VersionHeaderValue()

		reqSnap := otas.CaptureRequest(otas.IncomingRequest{
			Method:      string(ctx.Method()),
			Path:        string(ctx.Path()),
			Query:       argsToValues(ctx.QueryArgs()),
			Form:        otas.ParseFormBody(contentType, reqBody),
			Headers:     reqHeaders,
			Body:        reqBody,
			ContentType: contentType,
			AgentToken:  string(ctx.Request.Header.Peek(otas.AgentTokenHeader)),
		}, client.Sensitive())

		// RequestCtx implements context.Context and resolves user values
		// through Value, so the slot installed here is what NoteError and
		// TrackedError find.
		slotKey, slot := otas.ErrorTrackingValue()
		ctx.SetUserValue(slotKey, slot)

		var recovered any

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					recovered = rec
					ctx.Response.ResetBody()
					ctx.Response.SetStatusCode(fasthttp.StatusInternalServerError)
				}
			}()
			next(ctx)
		}()

		errText := otas.TrackedError(ctx)
		if recovered != nil {
			errText = otas.DescribePanic(recovered)
		}

		var respBody []byte
		streamed := ctx.Response.IsBodyStream()
		if !streamed {
			respBody = append([]byte(nil), ctx.Response.Body()...)
		}

		respSnap := otas.CaptureResponse(otas.OutgoingResponse{
			StatusCode:  ctx.Response.StatusCode(),
			Headers:     canonicalHeaders(ctx.Response.Header.VisitAll),
			Body:        respBody,
			ContentType: string(ctx.Response.Header.ContentType()),
			Streamed:    streamed,
		}, client.Sensitive())

		latencyMS := float64(time.Since(start)) / float64(time.Millisecond)
		client.Record(reqSnap, respSnap, latencyMS, errText)

		if recovered != nil {
			panic(recovered)
		}
	}
}

func canonicalHeaders(visit func(func(key, value []byte))) map[string]string {
	headers := make(map[string]string)
	visit(func(k, v []byte) {
		key := strings.ToLower(string(k))
		val := string(v)
		if existing, ok := headers[key]; ok && existing != "" {
			headers[key] = existing + ", " + val
		} else {
			headers[key] = val
		}
	})
	return headers
}

func argsToValues(args *fasthttp.Args) url.Values {
	values := url.Values{}
	if args == nil {
		return values
	}
	args.VisitAll(func(k, v []byte) {
		values.Add(string(k), string(v))
	})
	return values
}
