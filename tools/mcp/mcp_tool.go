package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/m4xw311/panelrelay/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  map[string]*MCPTool // Map of tool name (e.g., "list_domains") to the tool instance.
	logger *zap.Logger
}

// NewMCPClient starts the MCP server subprocess and discovers its tools. The
// server's stdout is the MCP channel; its stderr is logged at debug level.
func NewMCPClient(ctx context.Context, name, command string, args []string, logger *zap.Logger) (*MCPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("mcp_server", name))

	cmd := exec.Command(command, args...)
	cmd.Stderr = &logWriter{logger: logger}
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "panelrelay-agent", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{
		Name:   name,
		cmd:    cmd,
		conn:   conn,
		tools:  make(map[string]*MCPTool),
		logger: logger,
	}

	toolListParams := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, toolListParams)
		if err != nil {
			_ = client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}

		for _, t := range toolList.Tools {
			client.tools[t.Name] = &MCPTool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				schema:      schemaMap(t.InputSchema),
				client:      client,
			}
		}

		if toolList.NextCursor == "" {
			break
		}
		toolListParams.Cursor = toolList.NextCursor
	}

	logger.Info("initialized MCP client", zap.Int("tools", len(client.tools)))
	return client, nil
}

// GetTool returns a specific tool provided by this MCP server by its short name.
func (c *MCPClient) GetTool(toolName string) (*MCPTool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Tools returns the server's tools sorted by name.
func (c *MCPClient) Tools() []*MCPTool {
	list := make([]*MCPTool, 0, len(c.tools))
	for _, t := range c.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].toolName < list[j].toolName })
	return list
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Debug("terminating MCP server")
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

// MCPTool represents a tool available from an external MCP server.
// It satisfies the tools.Tool interface.
type MCPTool struct {
	serverName  string
	toolName    string
	description string
	schema      map[string]interface{}
	client      *MCPClient // Reference back to the client managing the connection.
}

// Name returns the tool's short name. Model APIs reject ':' in tool names, so
// the server prefix only appears in QualifiedName.
func (t *MCPTool) Name() string {
	return t.toolName
}

// QualifiedName is "<server>:<tool>", the form used in toolsets.
func (t *MCPTool) QualifiedName() string {
	return fmt.Sprintf("%s:%s", t.serverName, t.toolName)
}

// Description returns the tool's description, provided by the MCP server.
func (t *MCPTool) Description() string {
	return t.description
}

// Schema returns the input schema announced by the server.
func (t *MCPTool) Schema() map[string]interface{} {
	if t.schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return t.schema
}

// Execute sends the command and arguments to the MCP server and returns the result.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.QualifiedName())
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' failed: %s", t.QualifiedName(), sb.String())
	}
	return sb.String(), nil
}

// schemaMap converts the SDK's schema type into a plain JSON object.
func schemaMap(schema any) map[string]interface{} {
	data, err := json.Marshal(schema)
	if err != nil || string(data) == "null" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// logWriter forwards server stderr lines to the logger.
type logWriter struct {
	logger *zap.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Debug("mcp server stderr", zap.String("line", line))
		}
	}
	return len(p), nil
}
