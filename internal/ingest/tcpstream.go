package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"safezone/internal/config"
)

// StartTCPStream accepts newline-delimited sensor messages.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) (net.Addr, error) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		logger.Info("tcp stream ingest disabled")
		return nil, nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		return nil, err
	}
	logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Warn("tcp stream accept error", "err", err)
				if !BackoffSleep(ctx, 0) {
					return
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, out, logger)
		}
	}()
	return ln.Addr(), nil
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		env, ok := decode(scanner.Text(), "tcp_stream", cfg.Get(), logger)
		if !ok {
			continue
		}
		SendNonBlocking(ctx, out, env, logger)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
