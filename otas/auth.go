package otas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// SDKKeyHeader carries the SDK key on every call to the platform.
	SDKKeyHeader = "X-OTAS-SDK-KEY"

	// AgentTokenHeader carries the opaque caller-supplied session token,
	// both inbound on instrumented requests and outbound on ingest calls.
	AgentTokenHeader = "X-OTAS-AGENT-ID"

	authSuccessStatus = 1
)

// Identity is the authenticated project context, obtained once at startup
// and shared read-only by every request handler afterwards.
type Identity struct {
	ProjectID          string
	ProjectName        string
	ProjectDescription string
	SDKKey             string
}

type authResponse struct {
	Status            int    `json:"status"`
	StatusDescription string `json:"status_description"`
	Response          struct {
		Project struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"project"`
	} `json:"response"`
}

// Authenticate exchanges an SDK key for a project identity with a single
// POST to the authentication endpoint. An empty key fails before any network
// call; every other failure wraps into an AuthenticationError.
func Authenticate(ctx context.Context, client *http.Client, endpoint, sdkKey string) (*Identity, error) {
	if sdkKey == "" {
		return nil, &ConfigurationError{Reason: envSDKKey + " must not be empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, &AuthenticationError{Reason: "build request", Err: err}
	}
	req.Header.Set(SDKKeyHeader, sdkKey)
	req.Header.Set("User-Agent", userAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, &AuthenticationError{Reason: "authentication endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthenticationError{Reason: "read response", Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &AuthenticationError{
			Reason: fmt.Sprintf("authentication endpoint returned HTTP %d", resp.StatusCode),
		}
	}

	var parsed authResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &AuthenticationError{Reason: "malformed response body", Err: err}
	}

	if parsed.Status != authSuccessStatus {
		description := parsed.StatusDescription
		if description == "" {
			description = "unknown error"
		}
		return nil, &AuthenticationError{Reason: description}
	}

	return &Identity{
		ProjectID:          parsed.Response.Project.ID,
		ProjectName:        parsed.Response.Project.Name,
		ProjectDescription: parsed.Response.Project.Description,
		SDKKey:             sdkKey,
	}, nil
}
