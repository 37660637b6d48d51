package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/kgchat/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestProfileInit(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /kg/init": `{"message":"Knowledge graph initialized for alice","profile":{"user_name":"alice"}}`,
	})

	resp, err := ts.client().post(ctx, "/kg/init", map[string]string{"user_name": "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Message != "Knowledge graph initialized for alice" {
		t.Errorf("message = %q", result.Message)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/kg/init" {
		t.Errorf("request = %s %s, want POST /kg/init", r.Method, r.Path)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user_name"] != "alice" {
		t.Errorf("body.user_name = %q, want alice", body["user_name"])
	}
}

func TestKnowledgeDeleteSendsBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /kg/delete": `{"status":"deleted","field":"interests","value":"hiking"}`,
	})

	body := map[string]string{"user_name": "alice", "field": "interests", "value": "hiking"}
	resp, err := ts.client().delete(ctx, "/kg/delete", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "deleted" {
		t.Errorf("status = %q, want deleted", result["status"])
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["value"] != "hiking" || sent["field"] != "interests" {
		t.Errorf("sent body = %v", sent)
	}
}

func TestProfileRemoveCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /kg/profile/alice": `{"status":"removed","user_name":"alice"}`,
	})
	origClient := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	defer func() {
		newAPIClient = origClient
		rootCmd.SetArgs(nil)
		profileRemoveCmd.Flags().Set("confirm", "false")
	}()

	rootCmd.SetArgs([]string{"profile", "remove", "alice"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("remove without --confirm: %v", err)
	}
	if len(ts.requests) != 0 {
		t.Fatalf("sent %d requests without --confirm, want 0", len(ts.requests))
	}

	rootCmd.SetArgs([]string{"profile", "remove", "alice", "--confirm"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if r := ts.requests[0]; r.Method != "DELETE" || r.Path != "/kg/profile/alice" {
		t.Errorf("request = %s %s, want DELETE /kg/profile/alice", r.Method, r.Path)
	}
}

func TestDescribeEdit(t *testing.T) {
	got := describeEdit(map[string]string{"status": "updated", "old_value": "Go", "new_value": "Rust"})
	if got != `"Go" -> "Rust"` {
		t.Errorf("describeEdit(updated) = %q", got)
	}
	got = describeEdit(map[string]string{"status": "added", "value": "chess"})
	if got != `"chess"` {
		t.Errorf("describeEdit(added) = %q", got)
	}
}

func TestChatLoop_KeepsSession(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /kg/chat": `{"response":"Tell me more.","session_id":"sess-1"}`,
	})

	old := noColor
	noColor = true
	defer func() { noColor = old }()

	in := strings.NewReader("I love hiking\n\nI'm good at chess\n/quit\nnever sent\n")
	var out bytes.Buffer
	if err := chatLoop(ctx, ts.client(), "", "alice", in, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}

	var first, second map[string]string
	json.Unmarshal([]byte(ts.requests[0].Body), &first)
	json.Unmarshal([]byte(ts.requests[1].Body), &second)

	if first["session_id"] != "" {
		t.Errorf("first session_id = %q, want empty", first["session_id"])
	}
	if second["session_id"] != "sess-1" {
		t.Errorf("second session_id = %q, want sess-1", second["session_id"])
	}
	if second["user_input"] != "I'm good at chess" {
		t.Errorf("second user_input = %q", second["user_input"])
	}
	if strings.Count(out.String(), "Tell me more.") != 2 {
		t.Errorf("output = %q, want two replies", out.String())
	}
}

func TestChatLoop_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	in := strings.NewReader("hello\n")
	var out bytes.Buffer
	err := chatLoop(ctx, ts.client(), "", "alice", in, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to carry the server message", err.Error())
	}
}

func TestLearnCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"learn", "alice"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestKGCommand_InvalidField(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"kg", "add", "alice", "hobbies", "chess"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name     string
		file     string
		wantType string
	}{
		{"markdown", write("notes.md", "I love sailing."), "text"},
		{"html", write("about.HTML", "<p>I love sailing.</p>"), "html"},
		{"pdf", write("cv.pdf", "%PDF-1.4"), "pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docType, content, err := readDocument(tt.file)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if docType != tt.wantType {
				t.Errorf("type = %q, want %q", docType, tt.wantType)
			}
			if tt.wantType == "pdf" {
				raw, err := base64.StdEncoding.DecodeString(content)
				if err != nil {
					t.Fatalf("pdf content not base64: %v", err)
				}
				if string(raw) != "%PDF-1.4" {
					t.Errorf("decoded pdf = %q", raw)
				}
			}
		})
	}

	if _, _, err := readDocument(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestFetchUsers(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /kg/users": `["alice","bob"]`,
	})

	users, err := fetchUsers(ctx, ts.client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" {
		t.Errorf("users = %v, want [alice bob]", users)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"error":{"message":"user_name is required","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/kg/view/x")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "user_name is required") {
		t.Errorf("error = %q, want status and message", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 8123

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "8123" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=8123 in ShowAll output")
	}
}

func TestServerURL(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	if got := serverURL(cfg); got != "http://127.0.0.1:8000" {
		t.Errorf("serverURL = %q", got)
	}

	cfg.Server.Host = "10.0.0.5"
	if got := serverURL(cfg); got != "http://10.0.0.5:8000" {
		t.Errorf("serverURL = %q", got)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}
