package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coderunner/execd/internal/iomux"
	"github.com/coderunner/execd/internal/pipeline"
	"github.com/coderunner/execd/internal/protocol"
	"github.com/coderunner/execd/internal/telemetry"
)

// Gateway is the session gateway (C1): it upgrades incoming HTTP requests
// to WebSocket connections, assigns each one a session id, and pairs an
// inbound envelope-dispatch loop with an outbound frame-delivery loop for
// the lifetime of the connection.
type Gateway struct {
	upgrader websocket.Upgrader
	mux      *iomux.Mux
	pipeline *pipeline.Pipeline
	registry *Registry
	recorder *telemetry.Recorder
	logger   *slog.Logger
}

// NewGateway builds a Gateway. The upgrader accepts any origin, matching a
// browser-facing service with no same-origin requirement of its own.
func NewGateway(mux *iomux.Mux, pl *pipeline.Pipeline, recorder *telemetry.Recorder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux:      mux,
		pipeline: pl,
		registry: NewRegistry(),
		recorder: recorder,
		logger:   logger,
	}
}

// ServeHTTP upgrades the request and runs the session until either side
// closes the connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sessionID := uuid.New().String()
	out := g.mux.RegisterSession(sessionID)
	g.registry.Open(sessionID)
	g.recorder.SessionConnected()

	defer func() {
		g.registry.Close(sessionID)
		g.mux.UnregisterSession(sessionID)
		g.recorder.SessionDisconnected()
		conn.Close()
	}()

	// Mirrors the paired-forwarder shutdown idiom used elsewhere in this
	// codebase for bidirectional connections: whichever side exits first
	// closes the connection to unblock the other, then both are awaited.
	var wg sync.WaitGroup
	firstDone := make(chan struct{})
	var closeOnce sync.Once
	signalDone := func() { closeOnce.Do(func() { close(firstDone) }) }

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer signalDone()
		g.writeLoop(conn, out)
	}()
	go func() {
		defer wg.Done()
		defer signalDone()
		g.readLoop(conn, sessionID)
	}()

	<-firstDone
	conn.Close()
	wg.Wait()
}

// writeLoop drains sessionID's outbound sink and writes each frame as a
// text WebSocket message, returning once the sink is closed or a write
// fails.
func (g *Gateway) writeLoop(conn *websocket.Conn, out <-chan []byte) {
	for frame := range out {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// readLoop parses each inbound envelope and dispatches its verb, running
// until the connection closes or a read fails.
func (g *Gateway) readLoop(conn *websocket.Conn, sessionID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(sessionID, data)
	}
}

func (g *Gateway) dispatch(sessionID string, data []byte) {
	verb, err := protocol.ParseEnvelope(data)
	if err != nil {
		g.mux.SendRejected(sessionID, "bad_request", "malformed envelope")
		return
	}

	switch verb {
	case protocol.VerbRun:
		g.handleRun(sessionID, data)
	case protocol.VerbStdin:
		var req protocol.StdinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			g.mux.SendRejected(sessionID, "bad_request", "malformed stdin payload")
			return
		}
		if ok := g.mux.Stdin(sessionID, []byte(req.Data)); !ok {
			g.mux.SendSystem(sessionID, "stdin closed")
		}
	case protocol.VerbCancel:
		g.registry.Cancel(sessionID)
	default:
		g.mux.SendRejected(sessionID, "bad_request", "unknown verb")
	}
}

func (g *Gateway) handleRun(sessionID string, data []byte) {
	var req protocol.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.mux.SendRejected(sessionID, "bad_request", "malformed run payload")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if alreadyRunning := g.registry.StartJob(sessionID, cancel); alreadyRunning {
		cancel()
		g.mux.SendRejected(sessionID, "busy", "a job is already running for this session")
		return
	}

	go func() {
		defer cancel()
		defer g.registry.FinishJob(sessionID)
		if err := g.pipeline.Run(ctx, sessionID, req); err != nil {
			g.logger.Debug("job finished with error",
				slog.String("session", sessionID),
				slog.String("error", err.Error()))
		}
	}()
}
