package otas

import "encoding/json"

// EventRecord is the telemetry document for one request/response exchange,
// shaped exactly as the ingest endpoint expects it. Map-valued captures
// travel as JSON-encoded strings. CustomProperties and Metadata are reserved
// and always empty for now.
type EventRecord struct {
	ProjectID           string         `json:"project_id"`
	Path                string         `json:"path"`
	Method              string         `json:"method"`
	StatusCode          int            `json:"status_code"`
	LatencyMS           float64        `json:"latency_ms"`
	RequestSizeBytes    int            `json:"request_size_bytes"`
	ResponseSizeBytes   int            `json:"response_size_bytes"`
	RequestHeaders      string         `json:"request_headers"`
	RequestBody         string         `json:"request_body"`
	QueryParams         string         `json:"query_params"`
	PostData            string         `json:"post_data"`
	ResponseHeaders     string         `json:"response_headers"`
	ResponseBody        string         `json:"response_body"`
	RequestContentType  string         `json:"request_content_type"`
	ResponseContentType string         `json:"response_content_type"`
	CustomProperties    map[string]any `json:"custom_properties"`
	Error               string         `json:"error"`
	Metadata            map[string]any `json:"metadata"`

	// AgentToken routes to the X-OTAS-AGENT-ID header on dispatch rather
	// than the payload, so it stays out of the JSON body.
	AgentToken string `json:"-"`
}

// Assemble merges the snapshots, timing, error attribution, and identity
// into one EventRecord. It is a pure merge with one rule: a correlated error
// suppresses the response body, since the error text already carries the
// signal and error-page content is unstable.
func Assemble(identity *Identity, req RequestSnapshot, resp ResponseSnapshot, latencyMS float64, errText string) EventRecord {
	projectID := ""
	if identity != nil {
		projectID = identity.ProjectID
	}

	responseBody := string(resp.Body)
	responseSize := resp.BodySize
	if errText != "" {
		responseBody = ""
		responseSize = 0
	}

	return EventRecord{
		ProjectID:           projectID,
		Path:                req.Path,
		Method:              req.Method,
		StatusCode:          resp.StatusCode,
		LatencyMS:           latencyMS,
		RequestSizeBytes:    req.BodySize,
		ResponseSizeBytes:   responseSize,
		RequestHeaders:      encodeJSONField(req.Headers),
		RequestBody:         string(req.Body),
		QueryParams:         encodeJSONField(req.Query),
		PostData:            encodeJSONField(req.Form),
		ResponseHeaders:     encodeJSONField(resp.Headers),
		ResponseBody:        responseBody,
		RequestContentType:  req.ContentType,
		ResponseContentType: resp.ContentType,
		CustomProperties:    map[string]any{},
		Error:               errText,
		Metadata:            map[string]any{},
		AgentToken:          req.AgentToken,
	}
}

func encodeJSONField(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
