package mcp

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"sky/internal/agent"
	"sky/internal/config"
	"sky/internal/llm"
	"sky/internal/logging"
	"sky/internal/version"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const serverName = "sky"

// maxTopN bounds top_n of the similarity tools.
const maxTopN = 1000

// Keys resolves the API keys the tools need.
type Keys interface {
	MPAPIKey() string
	OpenAIAPIKey() string
}

// CompleterFactory builds the language model client used for reports.
type CompleterFactory func(apiKey string) (llm.Completer, error)

// Server is the sky MCP tool server.
type Server struct {
	cfg    *config.Config
	keys   Keys
	logger *logging.AppLogger
	agent  *agent.SynthesisAgent

	newCompleter CompleterFactory
	getwd        func() (string, error)
	strict       bool

	tools     []tool
	mcpServer *server.MCPServer
}

type toolFunc func(ctx context.Context, req mcp.CallToolRequest) Envelope

type tool struct {
	def mcp.Tool
	fn  toolFunc
}

// Option configures a Server.
type Option func(*Server)

// WithCompleterFactory replaces the OpenAI client factory.
func WithCompleterFactory(f CompleterFactory) Option {
	return func(s *Server) { s.newCompleter = f }
}

// WithStrictEnvelopes makes invalid envelopes fail the call instead of being
// replaced by a runtime_error envelope.
func WithStrictEnvelopes() Option {
	return func(s *Server) { s.strict = true }
}

// WithWorkingDir fixes the directory reports are written relative to.
func WithWorkingDir(dir string) Option {
	return func(s *Server) { s.getwd = func() (string, error) { return dir, nil } }
}

// NewServer creates a server for cfg. Nothing is loaded until a tool runs.
func NewServer(cfg *config.Config, keys Keys, logger *logging.AppLogger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.GetDefault()
	}
	s := &Server{
		cfg:    cfg,
		keys:   keys,
		logger: logger.With("server", serverName),
		getwd:  os.Getwd,
	}
	s.newCompleter = func(apiKey string) (llm.Completer, error) {
		return llm.New(apiKey, llm.Options{BaseURL: cfg.OpenAI.BaseURL, Model: cfg.OpenAI.Model})
	}
	for _, o := range opts {
		o(s)
	}

	agentOpts := agent.OptionsFromConfig(cfg)
	agentOpts.MaxNeighbors = maxTopN
	s.agent = agent.New(agentOpts, keys)

	s.tools = s.toolDefs()
	s.mcpServer = server.NewMCPServer(
		serverName,
		version.Get().Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range s.tools {
		s.mcpServer.AddTool(t.def, s.handler(t))
	}
	return s
}

// ToolNames returns the registered tool names, sorted.
func (s *Server) ToolNames() []string {
	names := make([]string, len(s.tools))
	for i, t := range s.tools {
		names[i] = t.def.Name
	}
	sort.Strings(names)
	return names
}

// Start serves the tools over stdio until stdin closes.
func (s *Server) Start() error {
	s.logger.Info("Starting MCP server", "tools", len(s.tools), "assets", s.cfg.ResolvedAssetsDir())
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Call runs a tool by name and returns its validated envelope JSON.
func (s *Server) Call(ctx context.Context, name string, args map[string]any) ([]byte, error) {
	for _, t := range s.tools {
		if t.def.Name == name {
			req := mcp.CallToolRequest{}
			req.Params.Name = name
			req.Params.Arguments = args
			return s.run(ctx, t, req)
		}
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

func (s *Server) handler(t tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := s.run(ctx, t, req)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(raw)), nil
	}
}

func (s *Server) run(ctx context.Context, t tool, req mcp.CallToolRequest) ([]byte, error) {
	start := time.Now()
	env := t.fn(ctx, req)
	errType := ""
	if env.Error != nil {
		errType = string(env.Error.Type)
	}
	s.logger.LogToolCall(t.def.Name, env.OK, errType, start)
	return ValidateEnvelope(env, s.strict)
}

func (s *Server) meta(tool string, warnings ...string) Meta {
	return newMeta(tool, version.Get().Version, warnings...)
}
