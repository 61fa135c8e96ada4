package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

type fakeExec struct {
	result *chatgpt.Result
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeExec) Run(ctx context.Context, req *chatgpt.Request) (*chatgpt.Result, *chatgpt.Report, error) {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	res := f.result
	if res == nil {
		res = &chatgpt.Result{Text: "ok"}
	}
	return res, &chatgpt.Report{}, nil
}

type fakeSessionAPI struct {
	sess   *chatgpt.Session
	models []chatgpt.Model
	err    error
}

func (f *fakeSessionAPI) GetSession(ctx context.Context) (*chatgpt.Session, error) {
	return f.sess, f.err
}

func (f *fakeSessionAPI) ListModels(ctx context.Context) ([]chatgpt.Model, error) {
	return f.models, f.err
}

func newServer(t *testing.T, exec *fakeExec, api SessionAPI) *Server {
	t.Helper()
	t.Setenv("CHATGPT_MCP_HOME", t.TempDir())
	cfg := config.DefaultConfig()
	cfg.ChatGPT.Workspace = "Acme"
	s, err := New(cfg, exec, api, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func callWith(args map[string]interface{}) mcp.CallToolRequest {
	var call mcp.CallToolRequest
	call.Params.Arguments = args
	return call
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %+v", res.Content)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("decode %q: %v", text.Text, err)
	}
	return out
}

func TestAskInline(t *testing.T) {
	exec := &fakeExec{result: &chatgpt.Result{Text: "the answer", ConversationID: "c1"}}
	s := newServer(t, exec, nil)

	res, err := s.handleAsk(context.Background(), callWith(map[string]interface{}{
		"prompt": "what is up",
	}))
	if err != nil {
		t.Fatalf("handleAsk: %v", err)
	}

	out := decode(t, res)
	if out["ok"] != true {
		t.Fatalf("response = %v", out)
	}
	data := out["data"].(map[string]interface{})
	if data["text"] != "the answer" {
		t.Errorf("text = %v", data["text"])
	}
	if exec.calls != 1 {
		t.Errorf("exec calls = %d", exec.calls)
	}
}

func TestAskValidationError(t *testing.T) {
	exec := &fakeExec{}
	s := newServer(t, exec, nil)

	res, err := s.handleAsk(context.Background(), callWith(map[string]interface{}{
		"prompt":        "x",
		"create_image":  true,
		"deep_research": true,
	}))
	if err != nil {
		t.Fatalf("handleAsk: %v", err)
	}

	out := decode(t, res)
	if out["kind"] != "config" {
		t.Fatalf("response = %v", out)
	}
	if exec.calls != 0 {
		t.Errorf("exec touched despite invalid request")
	}
}

func TestAskRoutesResearchToBackground(t *testing.T) {
	exec := &fakeExec{result: &chatgpt.Result{Text: "report"}}
	s := newServer(t, exec, nil)

	res, err := s.handleAsk(context.Background(), callWith(map[string]interface{}{
		"prompt":        "investigate",
		"deep_research": true,
	}))
	if err != nil {
		t.Fatalf("handleAsk: %v", err)
	}

	out := decode(t, res)
	data, ok := out["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response = %v", out)
	}
	jobID, _ := data["job_id"].(string)
	if jobID == "" {
		t.Fatalf("no job id in %v", data)
	}

	// The job result arrives via get_job_result with a wait.
	res, err = s.handleJobResult(context.Background(), callWith(map[string]interface{}{
		"job_id":           jobID,
		"wait_ms":          float64(5000),
		"poll_interval_ms": float64(1),
	}))
	if err != nil {
		t.Fatalf("handleJobResult: %v", err)
	}
	out = decode(t, res)
	data, ok = out["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response = %v", out)
	}
	if data["state"] != "succeeded" {
		t.Fatalf("state = %v", data["state"])
	}
	result := data["result"].(map[string]interface{})
	if result["text"] != "report" {
		t.Errorf("result = %v", result)
	}
}

func TestAskBackgroundOverride(t *testing.T) {
	exec := &fakeExec{}
	s := newServer(t, exec, nil)

	// A research request forced inline still runs synchronously.
	res, err := s.handleAsk(context.Background(), callWith(map[string]interface{}{
		"prompt":        "investigate",
		"deep_research": true,
		"background":    "never",
	}))
	if err != nil {
		t.Fatalf("handleAsk: %v", err)
	}
	out := decode(t, res)
	data := out["data"].(map[string]interface{})
	if _, hasJob := data["job_id"]; hasJob {
		t.Errorf("background job created despite never: %v", data)
	}
	if exec.calls != 1 {
		t.Errorf("exec calls = %d", exec.calls)
	}
}

func TestAskInstructionsFillSlots(t *testing.T) {
	exec := &fakeExec{}
	s := newServer(t, exec, nil)

	// The instruction names deep research, which routes to background.
	res, err := s.handleAsk(context.Background(), callWith(map[string]interface{}{
		"prompt":       "compare these options",
		"instructions": "do deep research and search the web",
	}))
	if err != nil {
		t.Fatalf("handleAsk: %v", err)
	}
	out := decode(t, res)
	data, ok := out["data"].(map[string]interface{})
	if !ok || data["job_id"] == "" {
		t.Fatalf("expected a background job, got %v", out)
	}
}

func TestJobStatusUnknown(t *testing.T) {
	s := newServer(t, &fakeExec{}, nil)

	res, err := s.handleJobStatus(context.Background(), callWith(map[string]interface{}{
		"job_id": "nope",
	}))
	if err != nil {
		t.Fatalf("handleJobStatus: %v", err)
	}
	out := decode(t, res)
	if out["kind"] != "not_found" {
		t.Fatalf("response = %v", out)
	}
}

func TestJobResultFailedJob(t *testing.T) {
	exec := &fakeExec{err: &chatgpt.Error{Kind: chatgpt.KindTimeout, Op: "poll", Message: "deadline elapsed"}}
	s := newServer(t, exec, nil)

	id, err := s.sched.Submit(&chatgpt.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res, err := s.handleJobResult(context.Background(), callWith(map[string]interface{}{
		"job_id":           id,
		"wait_ms":          float64(5000),
		"poll_interval_ms": float64(1),
	}))
	if err != nil {
		t.Fatalf("handleJobResult: %v", err)
	}
	out := decode(t, res)
	if out["kind"] != "timeout" {
		t.Fatalf("response = %v", out)
	}
}

func TestListModels(t *testing.T) {
	api := &fakeSessionAPI{models: []chatgpt.Model{{Slug: "auto", Title: "Auto"}}}
	s := newServer(t, &fakeExec{}, api)

	res, err := s.handleListModels(context.Background(), callWith(nil))
	if err != nil {
		t.Fatalf("handleListModels: %v", err)
	}
	out := decode(t, res)
	data := out["data"].(map[string]interface{})
	models := data["models"].([]interface{})
	if len(models) != 1 {
		t.Fatalf("models = %v", models)
	}
}

func TestListModelsWithoutAPI(t *testing.T) {
	s := newServer(t, &fakeExec{}, nil)

	res, err := s.handleListModels(context.Background(), callWith(nil))
	if err != nil {
		t.Fatalf("handleListModels: %v", err)
	}
	out := decode(t, res)
	if out["kind"] != "config" {
		t.Fatalf("response = %v", out)
	}
}

func TestSessionInfo(t *testing.T) {
	sess := &chatgpt.Session{Expires: "2099-01-01T00:00:00Z", AccessToken: "tok"}
	sess.User.Email = "me@example.com"
	api := &fakeSessionAPI{sess: sess}
	s := newServer(t, &fakeExec{}, api)

	res, err := s.handleSessionInfo(context.Background(), callWith(nil))
	if err != nil {
		t.Fatalf("handleSessionInfo: %v", err)
	}
	out := decode(t, res)
	data := out["data"].(map[string]interface{})
	if data["authenticated"] != true {
		t.Errorf("data = %v", data)
	}
	if data["workspace"] != "Acme" {
		t.Errorf("workspace = %v", data["workspace"])
	}
	user := data["user"].(map[string]interface{})
	if user["email"] != "me@example.com" {
		t.Errorf("user = %v", user)
	}
	if _, leaked := data["access_token"]; leaked {
		t.Errorf("access token leaked in session info")
	}
}

func TestSessionInfoExpired(t *testing.T) {
	api := &fakeSessionAPI{err: &chatgpt.Error{Kind: chatgpt.KindSessionExpired, Op: "api session", Message: "status 401"}}
	s := newServer(t, &fakeExec{}, api)

	res, err := s.handleSessionInfo(context.Background(), callWith(nil))
	if err != nil {
		t.Fatalf("handleSessionInfo: %v", err)
	}
	out := decode(t, res)
	if out["kind"] != "session_expired" {
		t.Fatalf("response = %v", out)
	}
}
