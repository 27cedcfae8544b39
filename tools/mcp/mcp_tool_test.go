package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestToolNames(t *testing.T) {
	tool := &MCPTool{serverName: "datazone", toolName: "list_domains"}
	assert.Equal(t, "list_domains", tool.Name())
	assert.Equal(t, "datazone:list_domains", tool.QualifiedName())
	assert.Equal(t, "object", tool.Schema()["type"])
}

func TestToolsSorted(t *testing.T) {
	c := &MCPClient{tools: map[string]*MCPTool{
		"b": {toolName: "b"},
		"a": {toolName: "a"},
	}}
	tools := c.Tools()
	assert.Equal(t, "a", tools[0].Name())
	assert.Equal(t, "b", tools[1].Name())
}

func TestSchemaMap(t *testing.T) {
	type schema struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	m := schemaMap(&schema{Type: "object", Required: []string{"id"}})
	assert.Equal(t, "object", m["type"])
	assert.Nil(t, schemaMap(nil))
}

func TestLogWriter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	w := &logWriter{logger: zap.New(core)}

	n, err := w.Write([]byte("first\nsecond\n"))
	assert.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, 2, logs.Len())
}
