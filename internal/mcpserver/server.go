// Package mcpserver implements the line-delimited JSON-RPC tool-call
// transport over standard streams: one request per input line, one response
// per output line, diagnostics to standard error only.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/saferun/safe-pkgs/internal/core"
	"github.com/saferun/safe-pkgs/internal/lockfile"
	"github.com/saferun/safe-pkgs/internal/logger"
	"github.com/saferun/safe-pkgs/internal/orchestrator"
	"github.com/saferun/safe-pkgs/internal/registry"
)

const protocolVersion = "2024-11-05"

const defaultRegistry = "npm"

// Server drives the tools/list and tools/call handlers against a shared
// Orchestrator; it never writes anything but protocol frames to Writer.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Catalog      *registry.Catalog
	Log          *logger.Logger

	Reader io.Reader
	Writer io.Writer
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Serve reads one request per line from Reader until EOF or ctx is
// cancelled, writing one response line per line-delimited method call.
// Notifications (requests without an id whose method starts with
// "notifications/") never produce a response.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.logf("malformed request line: %v", err)
			s.writeResponse(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
			continue
		}

		resp, isNotification := s.dispatch(ctx, req)
		if isNotification {
			continue
		}
		s.writeResponse(resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req request) (response, bool) {
	if len(req.ID) == 0 && strings.HasPrefix(req.Method, "notifications/") {
		return response{}, true
	}

	switch req.Method {
	case "initialize":
		return s.reply(req, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "safe-pkgs", "version": "0.1.0"},
			"instructions":    instructions,
		}), false
	case "tools/list":
		return s.reply(req, map[string]any{"tools": toolDefinitions()}), false
	case "tools/call":
		return s.handleToolCall(ctx, req), false
	default:
		return response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found: " + req.Method}}, false
	}
}

func (s *Server) reply(req request, result any) response {
	return response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, req request) response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}}
	}

	var result map[string]any
	switch params.Name {
	case "check_package":
		result = s.callCheckPackage(ctx, params.Arguments)
	case "check_lockfile":
		result = s.callCheckLockfile(ctx, params.Arguments)
	default:
		result = errorResult("unknown tool: " + params.Name)
	}
	return response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

type packageArgs struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Registry string `json:"registry"`
}

func (s *Server) callCheckPackage(ctx context.Context, raw json.RawMessage) map[string]any {
	var args packageArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("invalid check_package arguments: " + err.Error())
	}
	if strings.TrimSpace(args.Name) == "" {
		return errorResult("package name must not be empty")
	}
	if args.Registry == "" {
		args.Registry = defaultRegistry
	}

	ref := core.PackageRef{Registry: args.Registry, Name: args.Name, Version: args.Version}
	decision, err := s.Orchestrator.Evaluate(ctx, ref, "check_package", "")
	if err != nil {
		// Evaluate only returns an error for failures outside spec.md §7's
		// decision taxonomy; every named error kind is already a Decision.
		return errorResult(err.Error())
	}

	body, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return successResult(string(body))
}

type lockfileArgs struct {
	Path     string `json:"path"`
	Registry string `json:"registry"`
}

func (s *Server) callCheckLockfile(ctx context.Context, raw json.RawMessage) map[string]any {
	var args lockfileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("invalid check_lockfile arguments: " + err.Error())
	}
	if args.Registry == "" {
		args.Registry = defaultRegistry
	}
	if args.Path == "" {
		args.Path = "."
	}

	provider, ok := s.Catalog.Lookup(args.Registry)
	if !ok {
		// spec.md §7: Unsupported surfaces as a denying decision, not a tool error.
		return decisionsResult([]core.Decision{lockfileErrorDecision(core.UnsupportedError("unknown registry "+args.Registry, nil))})
	}

	refs, err := lockfile.Expand(provider, args.Path)
	if err != nil {
		// spec.md §7: Lockfile aborts the expansion with a single denying decision.
		return decisionsResult([]core.Decision{lockfileErrorDecision(err)})
	}

	results := s.Orchestrator.ExpandLockfile(ctx, refs, "check_lockfile")
	decisions := make([]core.Decision, len(results))
	for i, r := range results {
		if r.Err != nil {
			decisions[i] = lockfileErrorDecision(r.Err)
			continue
		}
		decisions[i] = r.Value
	}

	return decisionsResult(decisions)
}

// lockfileErrorDecision converts a core.LockfileError/core.UnsupportedError
// into the single fail-closed decision spec.md §7 requires for that failure.
func lockfileErrorDecision(err error) core.Decision {
	return core.Decision{Allow: false, Risk: core.SeverityCritical, Reasons: []string{err.Error()}}
}

func decisionsResult(decisions []core.Decision) map[string]any {
	body, err := json.MarshalIndent(decisions, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return successResult(string(body))
}

func successResult(text string) map[string]any {
	return map[string]any{
		"isError": false,
		"content": []map[string]any{{"type": "text", "text": text}},
	}
}

func errorResult(message string) map[string]any {
	return map[string]any{
		"isError": true,
		"content": []map[string]any{{"type": "text", "text": message}},
	}
}

func (s *Server) writeResponse(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logf("marshaling response: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.Writer.Write(data); err != nil {
		s.logf("writing response: %v", err)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.Log == nil {
		return
	}
	s.Log.Error("mcp_server", fmt.Sprintf(format, args...), nil)
}

const instructions = "Dependency safety policy: (1) For single dependency intent keywords " +
	"(add, install, update, upgrade, bump, pin), call check_package first and do not edit " +
	"files before the result. (2) For batch/file intent keywords (package-lock.json, " +
	"package.json, Cargo.lock, Cargo.toml, requirements.txt, pyproject.toml, install deps, " +
	"audit lockfile), call check_lockfile first. (3) Enforce gating: if allow=false, do not " +
	"proceed; return reasons and risk."

func toolDefinitions() []map[string]any {
	return []map[string]any{
		{
			"name":        "check_package",
			"description": "FIRST TOOL for single dependency requests. Trigger on prompts like \"add lodash 1.0.2\", \"install react\", \"update axios\", \"upgrade requests\". MUST run before editing package files or running install commands. Returns allow, risk, reasons, and metadata. If allow is false, stop and report findings.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string", "description": "Package name to evaluate, e.g. \"lodash\"."},
					"version":  map[string]any{"type": "string", "description": "Specific version to evaluate. Omit to check the newest release."},
					"registry": map[string]any{"type": "string", "enum": []string{"npm", "cargo", "pypi"}, "default": defaultRegistry},
				},
				"required": []string{"name"},
			},
		},
		{
			"name":        "check_lockfile",
			"description": "FIRST TOOL for batch dependency operations from dependency files or directories. Trigger on prompts like \"install deps\", \"audit package-lock\", \"check requirements.txt\", \"review Cargo.lock\". MUST run before npm install, cargo build, or pip install. Returns aggregate allow/risk per package. If any allow is false, block and report findings.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":     map[string]any{"type": "string", "description": "Path to a dependency file or project directory. Defaults to the current working directory."},
					"registry": map[string]any{"type": "string", "enum": []string{"npm", "cargo", "pypi"}, "default": defaultRegistry},
				},
			},
		},
	}
}
