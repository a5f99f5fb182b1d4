// Command example starts a redline server on a loopback port, sends it a
// PING, and prints the reply.
package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Zereker/redline"
)

func main() {
	server, err := redline.New("127.0.0.1:0")
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Serve(ctx, redline.NewConnHandler()); err != nil && err != context.Canceled {
			slog.Error("server error", "error", err)
		}
	}()

	conn, err := net.DialTimeout("tcp", server.Addr().String(), time.Second)
	if err != nil {
		slog.Error("dial failed", "error", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("PING\r\n")); err != nil {
		slog.Error("write failed", "error", err)
		return
	}

	reply := make([]byte, len(redline.Ack))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(conn, reply); err != nil {
		slog.Error("read failed", "error", err)
		return
	}

	slog.Info("reply", "text", string(reply))
}
