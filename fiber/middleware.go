// Package fibermw provides middleware for instrumenting gofiber/fiber/v2 apps.
package fibermw

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	otas "github.com/Anirudh-RV/otas-go/otas"
)

// Middleware returns a fiber handler that records every exchange via the
// provided client. An error returned by a downstream handler is attributed
// to the event and then passed through untouched, so fiber's own error
// handler still produces the response the caller sees.
func Middleware(client *otas.Client) fiber.Handler {
	if !client.Enabled() {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()

		contentType := c.Get(fiber.HeaderContentType)
		var reqBody []byte
		if otas.ShouldCaptureBody(contentType) {
			reqBody = append([]byte(nil), c.Body()...)
		}

		reqHeaders := flattenHeaders(c.GetReqHeaders())
		reqHeaders["x-otas-version"] = otas.VersionHeaderValue()

		reqSnap := otas.CaptureRequest(otas.IncomingRequest{
			Method:      c.Method(),
			Path:        c.Path(),
			Query:       queryValues(c),
			Form:        otas.ParseFormBody(contentType, reqBody),
			Headers:     reqHeaders,
			Body:        reqBody,
			ContentType: contentType,
			AgentToken:  c.Get(otas.AgentTokenHeader),
		}, client.Sensitive())

		c.SetUserContext(otas.WithErrorTracking(c.UserContext()))

		var handlerErr error
		var recovered any

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					recovered = rec
					c.Response().ResetBody()
					c.Status(fiber.StatusInternalServerError)
				}
			}()
			handlerErr = c.Next()
		}()

		errText := otas.TrackedError(c.UserContext())
		switch {
		case recovered != nil:
			errText = otas.DescribePanic(recovered)
		case handlerErr != nil:
			errText = handlerErr.Error()
		}

		// fiber's error handler runs after this middleware returns, so
		// derive the status the caller will actually see.
		statusCode := c.Response().StatusCode()
		if handlerErr != nil {
			statusCode = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(handlerErr, &fe) {
				statusCode = fe.Code
			}
		}

		var respBody []byte
		streamed := c.Response().IsBodyStream()
		if !streamed {
			respBody = append([]byte(nil), c.Response().Body()...)
		}

		respSnap := otas.CaptureResponse(otas.OutgoingResponse{
			StatusCode:  statusCode,
			Headers:     visitHeaders(c.Response().Header.VisitAll),
			Body:        respBody,
			ContentType: string(c.Response().Header.ContentType()),
			Streamed:    streamed,
		}, client.Sensitive())

		latencyMS := float64(time.Since(start)) / float64(time.Millisecond)
		client.Record(reqSnap, respSnap, latencyMS, errText)

		if recovered != nil {
			panic(recovered)
		}
		return handlerErr
	}
}

func flattenHeaders(in map[string][]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, values := range in {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}

func visitHeaders(visit func(func(key, value []byte))) map[string]string {
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

func queryValues(c *fiber.Ctx) url.Values {
	values := url.Values{}
	c.Request().URI().QueryArgs().VisitAll(func(k, v []byte) {
		values.Add(string(k), string(v))
	})
	return values
}
