package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"props2mcp/internal/appstate"
	"props2mcp/internal/config"
	"props2mcp/internal/elastic"
	"props2mcp/internal/model"
)

type fakeBackend struct {
	scriptSource string
	scriptErr    error

	searchResponse elastic.TemplateResponse
	searchErr      error
	gotParams      map[string]interface{}
	gotIndex       string
}

func (f *fakeBackend) GetScriptSource(_ context.Context, id string) (string, error) {
	if f.scriptErr != nil {
		return "", f.scriptErr
	}
	return f.scriptSource, nil
}

func (f *fakeBackend) SearchTemplate(_ context.Context, index, id string, params map[string]interface{}) (elastic.TemplateResponse, error) {
	f.gotIndex = index
	f.gotParams = params
	return f.searchResponse, f.searchErr
}

type fakeGeocoder struct {
	point model.GeoPoint
	err   error
	got   string
}

func (f *fakeGeocoder) Geocode(_ context.Context, location string) (model.GeoPoint, error) {
	f.got = location
	return f.point, f.err
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *Server) {
	t.Helper()
	if opts.Config == nil {
		cfg := config.Default()
		opts.Config = &cfg
	}
	if opts.State == nil {
		opts.State = appstate.NewIngestState()
	}
	s := NewServer(opts)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, s
}

// rpc posts one JSON-RPC request and decodes the response envelope.
func rpc(t *testing.T, srv *httptest.Server, session, body string) (*http.Response, rpcResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("MCP-Session-Id", session)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var envelope rpcResponse
	if resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, envelope
}

func initialize(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, envelope := rpc(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if envelope.Error != nil {
		t.Fatalf("initialize error: %+v", envelope.Error)
	}
	session := resp.Header.Get("MCP-Session-Id")
	if session == "" {
		t.Fatal("initialize did not assign a session id")
	}
	return session
}

func callTool(t *testing.T, srv *httptest.Server, session, name string, args map[string]interface{}) toolCallResult {
	t.Helper()
	params := map[string]interface{}{"name": name, "arguments": args}
	rawParams, _ := json.Marshal(params)
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":%s}`, rawParams)
	_, envelope := rpc(t, srv, session, body)
	if envelope.Error != nil {
		t.Fatalf("tools/call rpc error: %+v", envelope.Error)
	}
	raw, _ := json.Marshal(envelope.Result)
	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	return result
}

func structuredOf(t *testing.T, result toolCallResult) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(result.StructuredContent)
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("structured content: %v", err)
	}
	return m
}

func TestInitializeAssignsSession(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, envelope := rpc(t, srv, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if resp.Header.Get("MCP-Session-Id") == "" {
		t.Error("no MCP-Session-Id header")
	}
	result := envelope.Result.(map[string]interface{})
	info := result["serverInfo"].(map[string]interface{})
	if info["name"] != "props2mcp" {
		t.Errorf("serverInfo = %v", info)
	}
	if result["protocolVersion"] != config.DefaultProtocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
}

func TestSessionRequiredForTools(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	for _, method := range []string{"tools/list", "tools/call"} {
		_, envelope := rpc(t, srv, "", fmt.Sprintf(`{"jsonrpc":"2.0","id":2,"method":"%s","params":{}}`, method))
		if envelope.Error == nil || envelope.Error.Code != -32600 {
			t.Errorf("%s without session: error = %+v", method, envelope.Error)
			continue
		}
		if envelope.Error.Data == nil || envelope.Error.Data.Code != "SESSION_REQUIRED" {
			t.Errorf("%s error data = %+v", method, envelope.Error.Data)
		}
	}

	// a made-up session id is just as invalid as none
	_, envelope := rpc(t, srv, "not-a-session", `{"jsonrpc":"2.0","id":3,"method":"tools/list","params":{}}`)
	if envelope.Error == nil || envelope.Error.Data.Code != "SESSION_REQUIRED" {
		t.Errorf("forged session: error = %+v", envelope.Error)
	}
}

func TestNotificationsInitializedAccepted(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, _ := rpc(t, srv, "", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	_, envelope := rpc(t, srv, "", `{"jsonrpc":"2.0","id":9,"method":"ping"}`)
	if envelope.Error != nil {
		t.Fatalf("ping error: %+v", envelope.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	_, envelope := rpc(t, srv, "", `{"jsonrpc":"2.0","id":4,"method":"resources/list"}`)
	if envelope.Error == nil || envelope.Error.Code != -32601 {
		t.Errorf("error = %+v, want -32601", envelope.Error)
	}
}

func TestParseError(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	_, envelope := rpc(t, srv, "", `{not json`)
	if envelope.Error == nil || envelope.Error.Code != -32700 {
		t.Errorf("error = %+v, want -32700", envelope.Error)
	}
}

func TestTokenAuthMode(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AuthMode = "token"
	cfg.Server.AuthToken = "hunter2"
	srv, _ := newTestServer(t, Options{Config: &cfg})

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Authorization", "Bearer hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", resp.StatusCode)
	}
}

func TestToolsListOrder(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	session := initialize(t, srv)

	_, envelope := rpc(t, srv, session, `{"jsonrpc":"2.0","id":5,"method":"tools/list","params":{}}`)
	if envelope.Error != nil {
		t.Fatalf("tools/list error: %+v", envelope.Error)
	}
	result := envelope.Result.(map[string]interface{})
	tools := result["tools"].([]interface{})
	var names []string
	for _, raw := range tools {
		names = append(names, raw.(map[string]interface{})["name"].(string))
	}
	want := []string{"props.get_template_params", "props.geocode_location", "props.search_template", "props.stats"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tool %d = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestTemplateParamsTool(t *testing.T) {
	backend := &fakeBackend{scriptSource: `{"query":{{query}},"knn":{"k":{{bedrooms}}},{{#distance}}"geo":{"distance":"{{distance}}","lat":{{latitude}}}{{/distance}},"again":{{query}}}`}
	srv, _ := newTestServer(t, Options{Backend: backend})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.get_template_params", nil)
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result.Content)
	}
	structured := structuredOf(t, result)
	raw := structured["parameters"].([]interface{})
	var params []string
	for _, p := range raw {
		params = append(params, p.(string))
	}
	// deduplicated, first-appearance order, section tags excluded
	want := []string{"query", "bedrooms", "distance", "latitude"}
	if len(params) != len(want) {
		t.Fatalf("parameters = %v", params)
	}
	for i := range want {
		if params[i] != want[i] {
			t.Errorf("param %d = %s, want %s", i, params[i], want[i])
		}
	}
}

func TestTemplateParamsToolNotInstalled(t *testing.T) {
	backend := &fakeBackend{scriptErr: model.ErrTemplateNotFound}
	srv, _ := newTestServer(t, Options{Backend: backend})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.get_template_params", nil)
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(result.Content[0].Text, "TEMPLATE_NOT_FOUND") {
		t.Errorf("text = %s", result.Content[0].Text)
	}
}

func TestGeocodeTool(t *testing.T) {
	geocoder := &fakeGeocoder{point: model.GeoPoint{Latitude: 40.7128, Longitude: -74.006}}
	srv, _ := newTestServer(t, Options{Geocoder: geocoder})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.geocode_location", map[string]interface{}{"location": "New York, NY"})
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result.Content)
	}
	if geocoder.got != "New York, NY" {
		t.Errorf("geocoder received %q", geocoder.got)
	}
	structured := structuredOf(t, result)
	if structured["latitude"] != 40.7128 || structured["longitude"] != -74.006 {
		t.Errorf("structured = %v", structured)
	}
}

func TestGeocodeToolNoResults(t *testing.T) {
	geocoder := &fakeGeocoder{err: fmt.Errorf("%w for %q", model.ErrNoGeocodeResults, "nowhere")}
	srv, _ := newTestServer(t, Options{Geocoder: geocoder})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.geocode_location", map[string]interface{}{"location": "nowhere"})
	if !result.IsError || !strings.Contains(result.Content[0].Text, "NO_RESULTS") {
		t.Errorf("result = %+v", result)
	}
}

func TestGeocodeToolUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.geocode_location", map[string]interface{}{"location": "Austin, TX"})
	if !result.IsError || !strings.Contains(result.Content[0].Text, "GEOCODER_UNAVAILABLE") {
		t.Errorf("result = %+v", result)
	}
}

func TestSearchTemplateToolNormalizesParams(t *testing.T) {
	backend := &fakeBackend{searchResponse: elastic.TemplateResponse{
		Total: 1,
		Hits: []elastic.TemplateHit{
			{Fields: map[string][]interface{}{
				"title":      {"Cozy bungalow"},
				"home-price": {450000.0},
			}},
		},
	}}
	srv, _ := newTestServer(t, Options{Backend: backend})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.search_template", map[string]interface{}{
		"original_query": "homes near Austin under 500k",
		"query":          "homes",
		"latitude":       30.2672,
		"longitude":      -97.7431,
		"distance":       25,
		"home_price":     500000,
	})
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result.Content)
	}

	if backend.gotIndex != "properties" {
		t.Errorf("index = %s", backend.gotIndex)
	}
	if backend.gotParams["distance"] != "25mi" {
		t.Errorf("distance = %v, want unit-qualified string", backend.gotParams["distance"])
	}
	if backend.gotParams["query"] != "homes" {
		t.Errorf("query = %v", backend.gotParams["query"])
	}
	if _, present := backend.gotParams["tax"]; present {
		t.Error("absent arguments must not reach the template")
	}

	if !strings.Contains(result.Content[0].Text, "Found 1 properties matching your criteria") {
		t.Errorf("summary = %s", result.Content[0].Text)
	}
	structured := structuredOf(t, result)
	results := structured["results"].([]interface{})
	first := results[0].(map[string]interface{})
	if first["title"] != "Cozy bungalow" {
		t.Errorf("title = %v", first["title"])
	}
	if first["tax"] != "N/A" {
		t.Errorf("missing field fallback = %v", first["tax"])
	}
}

func TestSearchTemplateToolNoResults(t *testing.T) {
	backend := &fakeBackend{}
	srv, _ := newTestServer(t, Options{Backend: backend})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.search_template", map[string]interface{}{
		"original_query": "castles in Kansas",
		"query":          "castle",
	})
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result.Content)
	}
	if result.Content[0].Text != "No results found for query: castles in Kansas" {
		t.Errorf("text = %s", result.Content[0].Text)
	}
}

func TestSearchTemplateToolRejectsUnknownArgument(t *testing.T) {
	srv, _ := newTestServer(t, Options{Backend: &fakeBackend{}})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.search_template", map[string]interface{}{
		"original_query": "q",
		"query":          "q",
		"zipcode":        "78701",
	})
	if !result.IsError || !strings.Contains(result.Content[0].Text, "unknown argument: zipcode") {
		t.Errorf("result = %+v", result)
	}
}

func TestSearchTemplateToolRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t, Options{Backend: &fakeBackend{}})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.search_template", map[string]interface{}{
		"original_query": "only the original",
	})
	if !result.IsError || !strings.Contains(result.Content[0].Text, "MISSING_FIELD") {
		t.Errorf("result = %+v", result)
	}
}

func TestSearchTemplateToolRejectsFractionalDistance(t *testing.T) {
	srv, _ := newTestServer(t, Options{Backend: &fakeBackend{}})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.search_template", map[string]interface{}{
		"original_query": "q",
		"query":          "q",
		"distance":       2.5,
	})
	if !result.IsError || !strings.Contains(result.Content[0].Text, "distance must be an integer") {
		t.Errorf("result = %+v", result)
	}
}

func TestUnknownTool(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.delete_everything", nil)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "METHOD_NOT_FOUND") {
		t.Errorf("result = %+v", result)
	}
}

func TestStatsTool(t *testing.T) {
	state := appstate.NewIngestState()
	state.SetRunID("run-1")
	state.SetPhase(appstate.PhaseLoading)
	state.AddSucceeded(1200)
	ledger := &stubLedger{run: model.RunRecord{RunID: "run-0", Variant: "small", Succeeded: true}}
	srv, _ := newTestServer(t, Options{State: state, Ledger: ledger})
	session := initialize(t, srv)

	result := callTool(t, srv, session, "props.stats", nil)
	if result.IsError {
		t.Fatalf("unexpected tool error: %+v", result.Content)
	}
	structured := structuredOf(t, result)
	ingest := structured["ingest"].(map[string]interface{})
	if ingest["run_id"] != "run-1" || ingest["phase"] != appstate.PhaseLoading {
		t.Errorf("ingest = %v", ingest)
	}
	lastRun := structured["last_run"].(map[string]interface{})
	if lastRun["run_id"] != "run-0" || lastRun["variant"] != "small" {
		t.Errorf("last_run = %v", lastRun)
	}
}

type stubLedger struct {
	run model.RunRecord
}

func (s *stubLedger) Init(context.Context) error { return nil }
func (s *stubLedger) RecordRun(context.Context, model.RunRecord, []model.FailureRecord) error {
	return errors.New("read-only")
}
func (s *stubLedger) LastRun(context.Context) (model.RunRecord, bool, error) { return s.run, true, nil }
func (s *stubLedger) Close() error                                           { return nil }
