// Package tools exposes the completion engine as MCP tools over stdio.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
	"github.com/Microck/chatgpt-webui-mcp/internal/config"
	"github.com/Microck/chatgpt-webui-mcp/internal/jobs"
)

// SessionAPI is the slice of the backend API the introspection tools use.
type SessionAPI interface {
	GetSession(ctx context.Context) (*chatgpt.Session, error)
	ListModels(ctx context.Context) ([]chatgpt.Model, error)
}

// Server registers the tool surface on an MCP server and routes requests
// to the scheduler or inline execution.
type Server struct {
	cfg   *config.Config
	exec  jobs.Executor
	sched *jobs.Scheduler
	api   SessionAPI
	mcp   *server.MCPServer
}

// New wires the tool server. api may be nil; the introspection tools then
// report the backend API as unavailable.
func New(cfg *config.Config, exec jobs.Executor, api SessionAPI, version string) (*Server, error) {
	sched, err := jobs.NewScheduler(exec, cfg)
	if err != nil {
		return nil, fmt.Errorf("tool server: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		exec:  exec,
		sched: sched,
		api:   api,
		mcp:   server.NewMCPServer("chatgpt-webui-mcp", version),
	}
	s.register()
	return s, nil
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout. All logging
// goes to stderr; stdout belongs to the transport.
func (s *Server) ServeStdio() error {
	log.Printf("[tools] serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) register() {
	s.mcp.AddTool(mcp.NewTool(
		"ask",
		mcp.WithDescription("Ask ChatGPT through its web UI. Long operations (research, image, pro/thinking models) return a job id; short ones block and return the answer."),
		mcp.WithString("prompt",
			mcp.Description("The prompt to send"),
			mcp.Required(),
		),
		mcp.WithString("instructions",
			mcp.Description("Optional free-text instructions; recognizable model/mode/research/image intents fill fields left unset"),
		),
		mcp.WithString("model",
			mcp.Description("Model identifier, e.g. gpt-5.1-thinking (empty = site default)"),
		),
		mcp.WithString("model_mode",
			mcp.Description("One of auto, instant, thinking, pro"),
		),
		mcp.WithString("reasoning_effort",
			mcp.Description("One of none, standard, extended"),
		),
		mcp.WithBoolean("deep_research",
			mcp.Description("Run as a deep research task"),
		),
		mcp.WithString("deep_research_site_mode",
			mcp.Description("One of search_web, specific_sites"),
		),
		mcp.WithBoolean("create_image",
			mcp.Description("Generate an image; mutually exclusive with deep_research"),
		),
		mcp.WithNumber("wait_timeout_ms",
			mcp.Description("Overall completion deadline in milliseconds"),
		),
		mcp.WithString("workspace",
			mcp.Description("Preferred workspace label on the account picker"),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Resume an existing conversation"),
		),
		mcp.WithString("background",
			mcp.Description("Execution routing: auto (default), always, never"),
		),
	), s.handleAsk)

	s.mcp.AddTool(mcp.NewTool(
		"get_job_status",
		mcp.WithDescription("Fetch the state of a background job."),
		mcp.WithString("job_id",
			mcp.Description("Job id returned by ask"),
			mcp.Required(),
		),
	), s.handleJobStatus)

	s.mcp.AddTool(mcp.NewTool(
		"get_job_result",
		mcp.WithDescription("Fetch a background job's result, optionally waiting for it to finish."),
		mcp.WithString("job_id",
			mcp.Description("Job id returned by ask"),
			mcp.Required(),
		),
		mcp.WithNumber("wait_ms",
			mcp.Description("How long to wait for a terminal state (0 = return current state immediately)"),
		),
		mcp.WithNumber("poll_interval_ms",
			mcp.Description("Job state sampling interval while waiting"),
		),
	), s.handleJobResult)

	s.mcp.AddTool(mcp.NewTool(
		"list_models",
		mcp.WithDescription("List the model catalog from the backend API."),
	), s.handleListModels)

	s.mcp.AddTool(mcp.NewTool(
		"get_session_info",
		mcp.WithDescription("Report authentication state, account and configured workspace."),
	), s.handleSessionInfo)
}

func okResult(data any) *mcp.CallToolResult {
	b, err := json.Marshal(map[string]any{"ok": true, "data": data})
	if err != nil {
		return errResult(fmt.Errorf("encode response: %w", err))
	}
	return mcp.NewToolResultText(string(b))
}

func errResult(err error) *mcp.CallToolResult {
	b, _ := json.Marshal(map[string]any{
		"error": err.Error(),
		"kind":  chatgpt.KindOf(err),
	})
	return mcp.NewToolResultText(string(b))
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// requestFromArgs builds a Request from tool arguments, applying the slot
// filler over the free-text instructions afterwards so explicit fields win.
func requestFromArgs(args map[string]interface{}) *chatgpt.Request {
	req := &chatgpt.Request{
		Prompt:               stringArg(args, "prompt"),
		ModelOverride:        stringArg(args, "model"),
		ModelMode:            chatgpt.ModelMode(stringArg(args, "model_mode")),
		ReasoningEffort:      chatgpt.ReasoningEffort(stringArg(args, "reasoning_effort")),
		DeepResearch:         boolArg(args, "deep_research"),
		DeepResearchSiteMode: chatgpt.SiteMode(stringArg(args, "deep_research_site_mode")),
		CreateImage:          boolArg(args, "create_image"),
		WaitTimeoutMs:        intArg(args, "wait_timeout_ms"),
		Workspace:            stringArg(args, "workspace"),
		ConversationID:       stringArg(args, "conversation_id"),
	}
	Fill(req, stringArg(args, "instructions"))
	return req
}

func (s *Server) handleAsk(ctx context.Context, call mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := call.Params.Arguments
	req := requestFromArgs(args)
	if err := req.Validate(); err != nil {
		return errResult(err), nil
	}

	background := jobs.Background(req)
	switch stringArg(args, "background") {
	case "always":
		background = true
	case "never":
		background = false
	}

	if background {
		id, err := s.sched.Submit(req)
		if err != nil {
			return errResult(err), nil
		}
		return okResult(map[string]any{"job_id": id, "state": jobs.StateQueued}), nil
	}

	result, _, err := s.exec.Run(ctx, req)
	if err != nil {
		return errResult(err), nil
	}
	return okResult(result), nil
}

func (s *Server) handleJobStatus(ctx context.Context, call mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(call.Params.Arguments, "job_id")
	if id == "" {
		return errResult(&chatgpt.Error{Kind: chatgpt.KindConfig, Op: "get_job_status", Message: "job_id is required"}), nil
	}

	job, err := s.sched.Status(id)
	if errors.Is(err, jobs.ErrNotFound) {
		return errResult(&chatgpt.Error{Kind: chatgpt.KindNotFound, Op: "get_job_status", Message: "unknown or evicted job " + id}), nil
	}
	if err != nil {
		return errResult(err), nil
	}
	return okResult(jobView(job, false)), nil
}

func (s *Server) handleJobResult(ctx context.Context, call mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := call.Params.Arguments
	id := stringArg(args, "job_id")
	if id == "" {
		return errResult(&chatgpt.Error{Kind: chatgpt.KindConfig, Op: "get_job_result", Message: "job_id is required"}), nil
	}

	wait := time.Duration(intArg(args, "wait_ms")) * time.Millisecond
	interval := time.Duration(intArg(args, "poll_interval_ms")) * time.Millisecond

	job, err := s.sched.AwaitUntil(ctx, id, wait, interval)
	if errors.Is(err, jobs.ErrNotFound) {
		return errResult(&chatgpt.Error{Kind: chatgpt.KindNotFound, Op: "get_job_result", Message: "unknown or evicted job " + id}), nil
	}
	if err != nil {
		return errResult(err), nil
	}

	if job.State == jobs.StateFailed {
		return errResult(&chatgpt.Error{
			Kind:    job.ErrorKind,
			Op:      "job " + id,
			Message: job.Error,
		}), nil
	}
	return okResult(jobView(job, true)), nil
}

// jobView is the wire shape of a job; the full result is attached only
// when the caller asked for it.
func jobView(job jobs.Job, withResult bool) map[string]any {
	view := map[string]any{
		"job_id":     job.ID,
		"state":      job.State,
		"created_at": job.CreatedAt,
	}
	if !job.StartedAt.IsZero() {
		view["started_at"] = job.StartedAt
	}
	if !job.FinishedAt.IsZero() {
		view["finished_at"] = job.FinishedAt
	}
	if job.Error != "" {
		view["error"] = job.Error
		view["error_kind"] = job.ErrorKind
	}
	if withResult && job.Result != nil {
		view["result"] = job.Result
	}
	return view
}

func (s *Server) handleListModels(ctx context.Context, call mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.api == nil {
		return errResult(&chatgpt.Error{Kind: chatgpt.KindConfig, Op: "list_models", Message: "backend API not configured (no session token)"}), nil
	}
	models, err := s.api.ListModels(ctx)
	if err != nil {
		return errResult(err), nil
	}
	return okResult(map[string]any{"models": models}), nil
}

func (s *Server) handleSessionInfo(ctx context.Context, call mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.api == nil {
		return errResult(&chatgpt.Error{Kind: chatgpt.KindConfig, Op: "get_session_info", Message: "backend API not configured (no session token)"}), nil
	}
	sess, err := s.api.GetSession(ctx)
	if err != nil {
		return errResult(err), nil
	}
	return okResult(map[string]any{
		"authenticated": true,
		"user":          sess.User,
		"expires":       sess.Expires,
		"workspace":     s.cfg.ChatGPT.Workspace,
	}), nil
}
