// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/glasspane/glasspane/session"
	"github.com/glasspane/glasspane/wire"
)

// Server accepts control connections and dispatches them onto the
// orchestrator.
type Server struct {
	logger       *slog.Logger
	orchestrator *session.Orchestrator
}

// NewServer wraps an orchestrator for serving.
func NewServer(logger *slog.Logger, orchestrator *session.Orchestrator) *Server {
	return &Server{logger: logger, orchestrator: orchestrator}
}

// Serve accepts connections until the listener closes or ctx is
// cancelled. Each connection is handled in its own goroutine.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// conn wraps one client connection. writeMu serializes control
// responses against streamed event frames.
type connState struct {
	netConn net.Conn

	writeMu sync.Mutex

	subMu        sync.Mutex
	subscription *session.Subscription
}

func (c *connState) writeFrame(frameType wire.FrameType, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.netConn, frameType, payload)
}

// setSubscription swaps the active subscription, closing any previous
// one. At most one attachment per connection.
func (c *connState) setSubscription(sub *session.Subscription) {
	c.subMu.Lock()
	previous := c.subscription
	c.subscription = sub
	c.subMu.Unlock()
	if previous != nil {
		previous.Close()
	}
}

func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	conn := &connState{netConn: netConn}
	defer func() {
		conn.setSubscription(nil)
		netConn.Close()
	}()

	if err := s.handshake(conn); err != nil {
		s.logger.Debug("handshake failed", "error", err)
		return
	}

	for {
		frameType, payload, err := wire.ReadFrame(netConn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}
		if err := s.dispatch(ctx, conn, frameType, payload); err != nil {
			s.logger.Debug("connection write failed", "error", err)
			return
		}
	}
}

// handshake enforces the hello exchange before any other frame.
func (s *Server) handshake(conn *connState) error {
	frameType, payload, err := wire.ReadFrame(conn.netConn)
	if err != nil {
		return err
	}
	if frameType != wire.FrameHello {
		conn.writeFrame(wire.FrameError, wire.ErrorResponse{
			Code: wire.CodeInvalid, Message: "expected hello",
		})
		return errors.New("first frame was not hello")
	}
	var hello wire.Hello
	if err := wire.DecodePayload(payload, &hello); err != nil {
		return err
	}
	if hello.Version != wire.ProtocolVersion {
		conn.writeFrame(wire.FrameError, wire.ErrorResponse{
			Code:    wire.CodeInvalid,
			Message: fmt.Sprintf("protocol version %d not supported", hello.Version),
		})
		return fmt.Errorf("client protocol version %d", hello.Version)
	}
	return conn.writeFrame(wire.FrameOK, wire.Hello{Version: wire.ProtocolVersion})
}

// dispatch handles one request frame. The returned error is fatal to
// the connection (a write failure); engine errors go back to the
// client as FrameError and keep the connection alive.
func (s *Server) dispatch(ctx context.Context, conn *connState, frameType wire.FrameType, payload []byte) error {
	switch frameType {
	case wire.FrameStart:
		var request wire.StartRequest
		if err := wire.DecodePayload(payload, &request); err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		result, err := s.orchestrator.Start(ctx, session.StartParams{
			ID:                request.ID,
			WorkingDirectory:  request.WorkingDirectory,
			BypassPermissions: request.BypassPermissions,
			IsBackground:      request.IsBackground,
			OwnerID:           request.OwnerID,
			Sandboxed:         request.Sandboxed,
			Resume:            request.Resume,
			ResumeToken:       request.ResumeToken,
			ContinueLast:      request.ContinueLast,
			UseMultiplexer:    request.UseMultiplexer,
			ReconnectTarget:   request.ReconnectTarget,
			Columns:           request.Columns,
			Rows:              request.Rows,
		})
		if err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		return conn.writeFrame(wire.FrameOK, wire.StartResponse{
			ID:             result.ID,
			PID:            result.PID,
			IsBackground:   result.IsBackground,
			Resumed:        result.Resumed,
			AlreadyRunning: result.AlreadyRunning,
		})

	case wire.FrameAttach:
		var request wire.AttachRequest
		if err := wire.DecodePayload(payload, &request); err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		subscription, err := s.orchestrator.Attach(ctx, request.SessionID)
		if err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		conn.setSubscription(subscription)
		if err := conn.writeFrame(wire.FrameOK, nil); err != nil {
			return err
		}
		go s.streamEvents(conn, subscription)
		return nil

	case wire.FrameDetach:
		conn.setSubscription(nil)
		return conn.writeFrame(wire.FrameOK, nil)

	case wire.FrameInput:
		var request wire.InputRequest
		if err := wire.DecodePayload(payload, &request); err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		if err := s.orchestrator.SendInput(ctx, request.SessionID, request.Data); err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		return conn.writeFrame(wire.FrameOK, nil)

	case wire.FrameResize:
		var request wire.ResizeRequest
		if err := wire.DecodePayload(payload, &request); err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		if err := s.orchestrator.Resize(ctx, request.SessionID, request.Columns, request.Rows); err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		return conn.writeFrame(wire.FrameOK, nil)

	case wire.FrameStop:
		var request wire.StopRequest
		if err := wire.DecodePayload(payload, &request); err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		err := s.orchestrator.Stop(ctx, request.SessionID, session.StopOptions{
			RemoveFromLedger: request.RemoveFromLedger,
			KillMultiplexer:  request.KillMultiplexer,
		})
		if err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		return conn.writeFrame(wire.FrameOK, nil)

	case wire.FrameList:
		infos, err := s.orchestrator.List(ctx)
		if err != nil {
			return conn.writeFrame(wire.FrameError, wire.NewErrorResponse(err))
		}
		return conn.writeFrame(wire.FrameOK, wire.ListResponse{Sessions: infos})

	default:
		return conn.writeFrame(wire.FrameError, wire.ErrorResponse{
			Code:    wire.CodeInvalid,
			Message: fmt.Sprintf("unknown frame type 0x%02x", frameType),
		})
	}
}

// streamEvents forwards subscription events to the client until the
// subscription ends. A write failure closes the subscription; the
// read loop notices the dead connection on its own.
func (s *Server) streamEvents(conn *connState, subscription *session.Subscription) {
	for event := range subscription.Events() {
		if err := conn.writeFrame(wire.FrameEvent, event); err != nil {
			subscription.Close()
			return
		}
	}
}
