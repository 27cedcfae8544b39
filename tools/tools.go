package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/tools/mcp"
	"go.uber.org/zap"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON schema of the tool's arguments object.
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
	logger     *zap.Logger
}

func NewToolRegistry(cfg *config.Agent, logger *zap.Logger) *ToolRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
		logger:     logger,
	}

	// Register default tools
	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ListDirTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands, logger: logger})
	return r
}

// StartMCPServers connects to every configured MCP server whose tools the
// toolset refers to. Servers that fail to start are logged and skipped.
func (r *ToolRegistry) StartMCPServers(ctx context.Context, servers []config.MCPServer, ts *config.Toolset) {
	for _, server := range servers {
		if !toolsetUsesServer(ts, server.Name) {
			continue
		}
		client, err := mcp.NewMCPClient(ctx, server.Name, server.Command, server.Args, r.logger)
		if err != nil {
			r.logger.Warn("could not start MCP server", zap.String("server", server.Name), zap.Error(err))
			continue
		}
		r.mcpClients[server.Name] = client
	}
}

// Close stops every MCP server started by the registry.
func (r *ToolRegistry) Close() {
	for name, client := range r.mcpClients {
		if err := client.Stop(); err != nil {
			r.logger.Debug("could not stop MCP server", zap.String("server", name), zap.Error(err))
		}
	}
	r.mcpClients = make(map[string]*mcp.MCPClient)
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// GetActiveTools returns the tool instances for a given toolset. Entries are
// tool names or glob patterns; "<server>:<pattern>" selects tools of an MCP
// server. A plain name that matches nothing is an error.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	seen := make(map[string]bool)
	add := func(t Tool) {
		if !seen[t.Name()] {
			seen[t.Name()] = true
			activeTools = append(activeTools, t)
		}
	}

	for _, entry := range ts.Tools {
		if server, pattern, ok := strings.Cut(entry, ":"); ok {
			client, found := r.mcpClients[server]
			if !found {
				r.logger.Warn("toolset refers to an MCP server that is not running", zap.String("entry", entry))
				continue
			}
			for _, t := range client.Tools() {
				if match, _ := doublestar.Match(pattern, t.Name()); match {
					add(t)
				}
			}
			continue
		}

		if !hasMeta(entry) {
			t, ok := r.GetTool(entry)
			if !ok {
				return nil, errors.New("tool '%s' from toolset '%s' is not registered", entry, ts.Name)
			}
			add(t)
			continue
		}

		names := make([]string, 0, len(r.tools))
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			match, err := doublestar.Match(entry, name)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid tool pattern '%s'", entry)
			}
			if match {
				add(r.tools[name])
			}
		}
	}
	return activeTools, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func toolsetUsesServer(ts *config.Toolset, server string) bool {
	for _, entry := range ts.Tools {
		if s, _, ok := strings.Cut(entry, ":"); ok && s == server {
			return true
		}
	}
	return false
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string, logger *zap.Logger) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn("invalid regex in allowed_commands", zap.String("pattern", pattern), zap.Error(err))
			// Fall back to exact comparison.
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProperty(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}
