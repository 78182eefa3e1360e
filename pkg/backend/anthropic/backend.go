// Package anthropic implements the agent backend on the Anthropic Messages
// API: a tool-use loop with shell and file tools, gated by the bridge's
// permission handshake.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
	"github.com/tinyland-inc/clawbridge/pkg/utils"
)

const (
	defaultBaseURL  = "https://api.anthropic.com"
	toolOutputLimit = 4000

	systemPrompt = "You are a coding agent working in the user's workspace. " +
		"Use the tools to inspect and change files and to run commands. " +
		"Keep replies short; the user is reading them in a chat client."
)

// Config for the backend. Zero values fall back to sane defaults.
type Config struct {
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	MaxTurns    int
	CommandsDir string
}

type session struct {
	cwd           string
	messages      []anthropic.MessageParam
	alwaysAllowed map[string]bool
}

// Backend drives one Anthropic model through a tool-use loop per run.
// Sessions hold conversation history in memory; the bridge persists only the
// conversation-to-session mapping.
type Backend struct {
	client      *anthropic.Client
	model       string
	maxTokens   int64
	maxTurns    int
	commandsDir string

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg Config) *Backend {
	baseURL := normalizeBaseURL(cfg.APIBase)
	client := anthropic.NewClient(
		option.WithAuthToken(cfg.APIKey),
		option.WithBaseURL(baseURL),
	)
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4.6"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Backend{
		client:      &client,
		model:       model,
		maxTokens:   int64(maxTokens),
		maxTurns:    maxTurns,
		commandsDir: cfg.CommandsDir,
		sessions:    make(map[string]*session),
	}
}

func (b *Backend) CreateSession(ctx context.Context, opts backend.CreateSessionOptions) (string, error) {
	id := uuid.NewString()
	b.mu.Lock()
	b.sessions[id] = &session{cwd: opts.Cwd, alwaysAllowed: make(map[string]bool)}
	b.mu.Unlock()
	return id, nil
}

func (b *Backend) RunPrompt(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
	return b.run(ctx, opts, opts.Prompt)
}

// RunCommand expands a command template from the commands directory when one
// exists and otherwise forwards the command verbatim as an instruction.
func (b *Backend) RunCommand(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
	args := strings.Join(opts.Args, " ")
	prompt := fmt.Sprintf("Run the /%s command. Arguments: %s", opts.Command, args)
	if b.commandsDir != "" {
		data, err := os.ReadFile(filepath.Join(b.commandsDir, opts.Command+".md"))
		if err == nil {
			prompt = string(data)
			if args != "" {
				prompt += "\n\nArguments: " + args
			}
		}
	}
	return b.run(ctx, opts, prompt)
}

// ListCommands enumerates command templates (commands/<name>.md). The first
// heading line doubles as the description.
func (b *Backend) ListCommands() []backend.CommandSpec {
	if b.commandsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(b.commandsDir)
	if err != nil {
		return nil
	}
	var specs []backend.CommandSpec
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		desc := ""
		if data, err := os.ReadFile(filepath.Join(b.commandsDir, e.Name())); err == nil {
			first, _, _ := strings.Cut(string(data), "\n")
			desc = strings.TrimSpace(strings.TrimPrefix(first, "#"))
		}
		specs = append(specs, backend.CommandSpec{Name: name, Description: desc})
	}
	return specs
}

func (b *Backend) session(id, cwd string) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		s = &session{cwd: cwd, alwaysAllowed: make(map[string]bool)}
		b.sessions[id] = s
	}
	if cwd != "" {
		s.cwd = cwd
	}
	return s
}

func (b *Backend) run(ctx context.Context, opts backend.RunOptions, prompt string) (*backend.RunResult, error) {
	sess := b.session(opts.SessionID, opts.Cwd)
	sess.messages = append(sess.messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	var finalText strings.Builder
	for turn := 0; turn < b.maxTurns; turn++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(b.model),
			MaxTokens: b.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt + "\nWorking directory: " + sess.cwd}},
			Messages:  sess.messages,
			Tools:     toolDefinitions(),
		}

		resp, err := b.client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("claude API call: %w", err)
		}
		sess.messages = append(sess.messages, resp.ToParam())

		var results []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				tb := block.AsText()
				if finalText.Len() > 0 {
					finalText.WriteString("\n")
				}
				finalText.WriteString(tb.Text)
			case "tool_use":
				tu := block.AsToolUse()
				output, isErr := b.execTool(ctx, opts, sess, tu.Name, tu.Input)
				results = append(results, anthropic.NewToolResultBlock(tu.ID, output, isErr))
			}
		}

		if resp.StopReason != anthropic.StopReasonToolUse || len(results) == 0 {
			break
		}
		sess.messages = append(sess.messages, anthropic.NewUserMessage(results...))
	}

	return &backend.RunResult{
		SessionID: opts.SessionID,
		Text:      strings.TrimSpace(finalText.String()),
	}, nil
}

// execTool dispatches one tool call. Mutating tools go through the
// permission handshake first; a reject comes back to the model as an error
// result, not as a crashed run.
func (b *Backend) execTool(ctx context.Context, opts backend.RunOptions, sess *session, name string, input json.RawMessage) (string, bool) {
	var args map[string]string
	if err := json.Unmarshal(input, &args); err != nil {
		return "malformed tool input: " + err.Error(), true
	}

	if name == "exec" || name == "write_file" {
		if !sess.alwaysAllowed[name] && opts.OnPermission != nil {
			desc := args["command"]
			if name == "write_file" {
				desc = args["path"]
			}
			resp := opts.OnPermission(ctx, backend.PermissionRequest{
				ID:          uuid.NewString(),
				ToolName:    name,
				Description: desc,
			})
			switch resp {
			case backend.PermissionAlways:
				sess.alwaysAllowed[name] = true
			case backend.PermissionReject:
				return "Permission denied by user.", true
			}
		}
	}

	switch name {
	case "exec":
		return b.toolExec(ctx, opts, sess, args["command"])
	case "read_file":
		return toolReadFile(sess.cwd, args["path"])
	case "write_file":
		if opts.OnActivity != nil {
			opts.OnActivity("write " + args["path"])
		}
		return toolWriteFile(sess.cwd, args["path"], args["content"])
	case "list_dir":
		return toolListDir(sess.cwd, args["path"])
	default:
		return "unknown tool: " + name, true
	}
}

func (b *Backend) toolExec(ctx context.Context, opts backend.RunOptions, sess *session, command string) (string, bool) {
	if command == "" {
		return "empty command", true
	}
	if opts.OnActivity != nil {
		opts.OnActivity("$ " + utils.Truncate(command, 120))
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = sess.cwd
	out, err := cmd.CombinedOutput()
	text := utils.Truncate(string(out), toolOutputLimit)
	if err != nil {
		logger.DebugCF("anthropic", "exec tool failed", map[string]any{"error": err.Error()})
		return text + "\n(exit: " + err.Error() + ")", true
	}
	if text == "" {
		text = "(no output)"
	}
	return text, false
}

func toolReadFile(cwd, path string) (string, bool) {
	data, err := os.ReadFile(resolvePath(cwd, path))
	if err != nil {
		return err.Error(), true
	}
	return utils.Truncate(string(data), toolOutputLimit), false
}

func toolWriteFile(cwd, path, content string) (string, bool) {
	full := resolvePath(cwd, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err.Error(), true
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return err.Error(), true
	}
	return "wrote " + full, false
}

func toolListDir(cwd, path string) (string, bool) {
	entries, err := os.ReadDir(resolvePath(cwd, path))
	if err != nil {
		return err.Error(), true
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			b.WriteString(e.Name() + "/\n")
		} else {
			b.WriteString(e.Name() + "\n")
		}
	}
	if b.Len() == 0 {
		return "(empty)", false
	}
	return b.String(), false
}

func resolvePath(cwd, path string) string {
	if path == "" {
		return cwd
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cwd, path)
}

func toolDefinitions() []anthropic.ToolUnionParam {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	tools := []anthropic.ToolParam{
		{
			Name:        "exec",
			Description: anthropic.String("Run a shell command in the working directory."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"command": str("The shell command to run.")},
				Required:   []string{"command"},
			},
		},
		{
			Name:        "read_file",
			Description: anthropic.String("Read a file, relative to the working directory."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"path": str("File path.")},
				Required:   []string{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: anthropic.String("Write a file, creating parent directories."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"path":    str("File path."),
					"content": str("Full file content."),
				},
				Required: []string{"path", "content"},
			},
		},
		{
			Name:        "list_dir",
			Description: anthropic.String("List a directory."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"path": str("Directory path, defaults to the working directory.")},
			},
		},
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i := range tools {
		out = append(out, anthropic.ToolUnionParam{OfTool: &tools[i]})
	}
	return out
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	if b, ok := strings.CutSuffix(base, "/v1"); ok {
		base = b
	}
	if base == "" {
		return defaultBaseURL
	}
	return base
}
