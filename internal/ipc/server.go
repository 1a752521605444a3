package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// IdleTimeout closes a client connection that sends nothing for this long.
const IdleTimeout = 5 * time.Minute

// maxRequestBytes bounds one request line.
const maxRequestBytes = 4096

// Serve accepts unix-socket clients until context cancellation or listener close. Each connection
// carries newline-delimited requests, answered in order, until the client closes it. A keypad
// adapter keeps one connection open; the CLI sends one request or a short burst.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
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
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			serveConn(ctx, c, handler)
		}(conn)
	}
}

func serveConn(ctx context.Context, c net.Conn, handler Handler) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	reader := bufio.NewReaderSize(c, maxRequestBytes)
	enc := json.NewEncoder(c)
	for {
		_ = c.SetReadDeadline(time.Now().Add(IdleTimeout))
		line, err := reader.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				_ = enc.Encode(Response{OK: false, Error: "read request: request too long"})
				return
			}
			_ = enc.Encode(Response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)}); encErr != nil {
				return
			}
			continue
		}

		if err := enc.Encode(handler.Handle(ctx, req)); err != nil {
			return
		}
	}
}
