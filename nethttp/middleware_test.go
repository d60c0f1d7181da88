package nethttp_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Anirudh-RV/otas-go/internal/testserver"
	"github.com/Anirudh-RV/otas-go/nethttp"
	otas "github.com/Anirudh-RV/otas-go/otas"
)

const testSDKKey = "otas_PocKPi56xDI_test"

type fixture struct {
	platform *testserver.MockServer
	client   *otas.Client
	app      *httptest.Server
}

// newFixture wires platform mock -> client -> middleware -> handler. The
// outer recoverer stands in for the host server's panic handling so the
// middleware's re-panic has somewhere to land.
func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()

	platform := testserver.Start(testSDKKey, "proj-mw")
	client, err := otas.New(otas.Config{
		SDKKey:         testSDKKey,
		AuthEndpoint:   platform.AuthEndpoint(),
		IngestEndpoint: platform.IngestEndpoint(),
	})
	if err != nil {
		platform.Stop()
		t.Fatalf("init client: %v", err)
	}

	instrumented := nethttp.Middleware(client)(handler)
	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, "internal server error")
			}
		}()
		instrumented.ServeHTTP(w, r)
	})

	f := &fixture{platform: platform, client: client, app: httptest.NewServer(outer)}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.client.Shutdown(ctx)
		f.app.Close()
		f.platform.Stop()
	})
	return f
}

func TestMiddlewareEndToEnd(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"ok":true}`)
	}))

	req, _ := http.NewRequest(http.MethodGet, f.app.URL+"/resource?x=1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set(otas.AgentTokenHeader, "agent-9")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("caller saw status %d", resp.StatusCode)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("caller saw body %q", body)
	}

	event, err := f.platform.WaitForEvent(3 * time.Second)
	if err != nil {
		t.Fatalf("wait for event: %v", err)
	}

	if event.Method != "GET" || event.Path != "/resource" {
		t.Fatalf("event = %+v", event)
	}
	if event.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", event.StatusCode)
	}
	if event.Error != "" {
		t.Fatalf("error = %q, want empty", event.Error)
	}
	if !strings.Contains(event.RequestHeaders, `"authorization":"[REDACTED]"`) {
		t.Fatalf("authorization not redacted in %s", event.RequestHeaders)
	}
	if !strings.Contains(event.QueryParams, `"x":["1"]`) {
		t.Fatalf("query params = %s", event.QueryParams)
	}
	if event.ResponseBody != `{"ok":true}` {
		t.Fatalf("response body = %q", event.ResponseBody)
	}
	if event.LatencyMS < 25 {
		t.Fatalf("latency = %v, expected at least the handler sleep", event.LatencyMS)
	}
	if event.ProjectID != "proj-mw" {
		t.Fatalf("project id = %q", event.ProjectID)
	}

	tokens := f.platform.AgentTokens()
	if len(tokens) != 1 || tokens[0] != "agent-9" {
		t.Fatalf("agent tokens = %v", tokens)
	}
}

func TestMiddlewareCapturesPanicsWithoutBodyLeak(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("database exploded")
	}))

	resp, err := http.Get(f.app.URL + "/boom")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("caller saw status %d", resp.StatusCode)
	}

	event, err := f.platform.WaitForEvent(3 * time.Second)
	if err != nil {
		t.Fatalf("wait for event: %v", err)
	}
	if event.Error != "database exploded" {
		t.Fatalf("error = %q", event.Error)
	}
	if event.ResponseBody != "" || event.ResponseSizeBytes != 0 {
		t.Fatalf("error event leaked body %q (%d bytes)", event.ResponseBody, event.ResponseSizeBytes)
	}
	if event.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", event.StatusCode)
	}
}

func TestMiddlewareNoteErrorPath(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		otas.NoteError(r.Context(), errors.New("upstream dependency failed"))
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "bad gateway page")
	}))

	resp, err := http.Get(f.app.URL + "/dep")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway || string(body) != "bad gateway page" {
		t.Fatalf("caller response altered: %d %q", resp.StatusCode, body)
	}

	event, err := f.platform.WaitForEvent(3 * time.Second)
	if err != nil {
		t.Fatalf("wait for event: %v", err)
	}
	if event.Error != "upstream dependency failed" {
		t.Fatalf("error = %q", event.Error)
	}
	if event.ResponseBody != "" {
		t.Fatalf("noted-error event kept body %q", event.ResponseBody)
	}
}

func TestMiddlewareNoCrossRequestErrorLeak(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		if r.URL.Path == "/a" {
			panic("only A fails")
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	}))

	var wg sync.WaitGroup
	for _, path := range []string{"/a", "/b"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			resp, err := http.Get(f.app.URL + p)
			if err == nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}(path)
	}
	time.Sleep(50 * time.Millisecond) // both requests in flight
	close(release)
	wg.Wait()

	events := map[string]otas.EventRecord{}
	for i := 0; i < 2; i++ {
		event, err := f.platform.WaitForEvent(3 * time.Second)
		if err != nil {
			t.Fatalf("wait for event %d: %v", i, err)
		}
		events[event.Path] = event
	}

	if events["/a"].Error == "" {
		t.Fatal("request A lost its error")
	}
	if events["/b"].Error != "" {
		t.Fatalf("request B picked up A's error: %q", events["/b"].Error)
	}
}

func TestMiddlewareStreamingResponseSentinel(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer lost Flusher")
			return
		}
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "chunk %d\n", i)
			flusher.Flush()
		}
	}))

	resp, err := http.Get(f.app.URL + "/stream")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), "chunk 2") {
		t.Fatalf("stream truncated for caller: %q", body)
	}

	event, err := f.platform.WaitForEvent(3 * time.Second)
	if err != nil {
		t.Fatalf("wait for event: %v", err)
	}
	if event.ResponseBody != otas.StreamedBodySentinel {
		t.Fatalf("response body = %q, want sentinel", event.ResponseBody)
	}
	if event.ResponseSizeBytes != len(otas.StreamedBodySentinel) {
		t.Fatalf("response size = %d, want sentinel length", event.ResponseSizeBytes)
	}
}

func TestMiddlewareBoundsResponseCaptureWithoutLosingSize(t *testing.T) {
	payload := strings.Repeat("z", otas.MaxCapturedBodyBytes+8192)
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, payload)
	}))

	resp, err := http.Get(f.app.URL + "/large")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if len(body) != len(payload) {
		t.Fatalf("caller saw %d bytes, want %d", len(body), len(payload))
	}

	event, err := f.platform.WaitForEvent(3 * time.Second)
	if err != nil {
		t.Fatalf("wait for event: %v", err)
	}
	if len(event.ResponseBody) != otas.MaxCapturedBodyBytes {
		t.Fatalf("captured body = %d bytes, want the bound", len(event.ResponseBody))
	}
	if event.ResponseSizeBytes != len(payload) {
		t.Fatalf("response size = %d, want %d", event.ResponseSizeBytes, len(payload))
	}
}

func TestMiddlewareSkipsMultipartRequestBody(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	field, _ := mw.CreateFormField("file")
	io.WriteString(field, "pretend this is a large upload")
	mw.Close()

	resp, err := http.Post(f.app.URL+"/upload", mw.FormDataContentType(), strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	event, err := f.platform.WaitForEvent(3 * time.Second)
	if err != nil {
		t.Fatalf("wait for event: %v", err)
	}
	if event.RequestBody != "" {
		t.Fatalf("multipart body captured: %q", event.RequestBody)
	}
	if event.RequestSizeBytes != 0 {
		t.Fatalf("multipart size = %d, want 0", event.RequestSizeBytes)
	}
}

func TestMiddlewareDispatchFailureInvisibleToCaller(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "payload")
	}))
	f.platform.QueueIngestReplies(500)

	resp, err := http.Get(f.app.URL + "/fine")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(body) != "payload" {
		t.Fatalf("dispatch failure leaked to caller: %d %q", resp.StatusCode, body)
	}
}

func TestMiddlewareCapturesFormParams(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := http.Post(f.app.URL+"/form", "application/x-www-form-urlencoded", strings.NewReader("name=otas&tier=pro"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	event, err := f.platform.WaitForEvent(3 * time.Second)
	if err != nil {
		t.Fatalf("wait for event: %v", err)
	}
	if !strings.Contains(event.PostData, `"name":["otas"]`) {
		t.Fatalf("post data = %s", event.PostData)
	}
}

func TestDisabledClientPassesThrough(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := nethttp.Middleware(otas.NewNoop())(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !called || rec.Code != http.StatusTeapot {
		t.Fatalf("pass-through broken: called=%v code=%d", called, rec.Code)
	}
}
