package panel

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/relay"
	"go.uber.org/zap"
)

// Conn carries whole JSON-RPC messages in both directions.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
}

// stdioConn is newline-delimited JSON over a reader and a writer.
type stdioConn struct {
	in  *bufio.Reader
	out *bufio.Writer
}

// NewStdioConn returns a Conn reading one message per line from r and writing
// one message per line to w.
func NewStdioConn(r io.Reader, w io.Writer) Conn {
	return &stdioConn{in: bufio.NewReaderSize(r, 64*1024), out: bufio.NewWriter(w)}
}

func (c *stdioConn) ReadMessage() ([]byte, error) {
	line, err := c.in.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	return line, err
}

func (c *stdioConn) WriteMessage(data []byte) error {
	if _, err := c.out.Write(data); err != nil {
		return err
	}
	// Newline marks the end of the message for the client.
	if err := c.out.WriteByte('\n'); err != nil {
		return err
	}
	return c.out.Flush()
}

// Run serves panel requests from conn until it is closed or ctx is done. Prompts
// run concurrently so that a cancel request can reach them; Run waits for
// running prompts before it returns.
func Run(ctx context.Context, orch *relay.Orchestrator, conn Conn, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{
		ctx:    ctx,
		orch:   orch,
		conn:   conn,
		logger: logger,
	}
	defer s.prompts.Wait()

	logger.Debug("panel server started")
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("panel connection closed")
				return nil
			}
			// If framing is broken, there isn't a safe way to continue.
			return errors.Wrapf(err, "panel read error")
		}
		if len(payload) == 0 || isBlank(payload) {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			logger.Debug("could not parse panel request", zap.Error(err))
			_ = s.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}
		logger.Debug("panel request", zap.String("method", req.Method), zap.Any("id", req.ID))
		s.dispatch(&req)
	}
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return false
		}
	}
	return true
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// errorData is the data member of errors caused by a failed request.
type errorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type server struct {
	ctx     context.Context
	orch    *relay.Orchestrator
	conn    Conn
	logger  *zap.Logger
	prompts sync.WaitGroup

	writeLock sync.Mutex
}

func (s *server) writeJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if err := s.conn.WriteMessage(data); err != nil {
		s.logger.Warn("panel write failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *server) writeResponseOK(id any, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return s.writeResponseError(id, codeInternalError, "Internal error", err.Error())
	}
	return s.writeJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: data})
}

func (s *server) writeResponseError(id any, code int, msg string, data any) error {
	return s.writeJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeFailure reports a failed relay operation with its kind.
func (s *server) writeFailure(id any, err error) error {
	return s.writeResponseError(id, codeInternalError, "Internal error", errorData{
		Kind:    errors.KindOf(err).String(),
		Message: err.Error(),
	})
}

func (s *server) writeNotification(method string, params any) error {
	return s.writeJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}
