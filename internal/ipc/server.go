package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// requestTimeout bounds how long one client may take to send its request line.
const requestTimeout = 2 * time.Second

// Handler answers status and stop for the running relay.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve answers control clients until ctx is cancelled. Each client sends one
// request line and receives one response line. Malformed, oversized, and
// unknown requests are answered here and never reach handler.
func Serve(ctx context.Context, listener net.Listener, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()

			resp := answer(ctx, c, handler)
			if !resp.OK {
				logger.Warn("control request failed", "error", resp.Error)
			}
			if err := json.NewEncoder(c).Encode(resp); err != nil {
				logger.Debug("control response not delivered", "error", err.Error())
			}
		}(conn)
	}
}

func answer(ctx context.Context, c net.Conn, handler Handler) Response {
	_ = c.SetReadDeadline(time.Now().Add(requestTimeout))
	line, err := bufio.NewReader(io.LimitReader(c, maxRequestBytes+1)).ReadBytes('\n')
	switch {
	case len(line) > maxRequestBytes:
		return Response{OK: false, Error: fmt.Sprintf("request exceeds %d bytes", maxRequestBytes)}
	case err != nil:
		return failure("read request", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return failure("decode request", err)
	}
	if !Known(req.Command) {
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}

	_ = c.SetReadDeadline(time.Time{})
	resp := handler.Handle(ctx, req)
	if !resp.OK && resp.Error == "" {
		resp.Error = req.Command + " failed"
	}
	return resp
}
