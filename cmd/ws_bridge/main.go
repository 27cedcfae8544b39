// Command ws_bridge serves the panel JSON-RPC protocol over WebSocket. Every
// connection shares one orchestrator, so sessions outlive connections.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m4xw311/panelrelay/config"
	"github.com/m4xw311/panelrelay/conversation"
	"github.com/m4xw311/panelrelay/errors"
	"github.com/m4xw311/panelrelay/logging"
	"github.com/m4xw311/panelrelay/relay"
	"github.com/m4xw311/panelrelay/relay/panel"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", "localhost:8080", "Address to listen on")
	backendName := flag.String("b", "", "Backend to relay to (defaults to the configured backend)")
	configFile := flag.String("c", "", "Configuration file (defaults to ~/.panelrelay and ./.panelrelay)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %+v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := cfg.GetBackend(*backendName)
	if err != nil {
		logger.Fatal("could not select backend", zap.Error(err))
	}
	orch := relay.New(backend, conversation.NewRegistry(), logger, relay.WithSerialization(cfg.Serialize()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handleWS(ctx, orch, logger))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("WebSocket server running", zap.String("url", "ws://"+*addr+"/ws"), zap.String("backend", backend.Name))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func handleWS(ctx context.Context, orch *relay.Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade error", zap.Error(err))
			return
		}
		defer ws.Close()

		connLogger := logger.With(zap.String("remote", r.RemoteAddr))
		connLogger.Info("panel connected")

		// Prompts still running when the socket drops are cancelled.
		connCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			<-connCtx.Done()
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		}()

		if err := panel.Run(connCtx, orch, &wsConn{ws: ws}, connLogger); err != nil {
			connLogger.Warn("panel connection ended with error", zap.Error(err))
			return
		}
		connLogger.Info("panel disconnected")
	}
}

// wsConn adapts a WebSocket to panel.Conn: one text message per JSON-RPC message.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
