package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"safezone/internal/config"
)

// StartUDP listens for sensor datagrams. A datagram may hold several
// newline-separated messages.
func StartUDP(ctx context.Context, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) (net.Addr, error) {
	current := cfg.Get().Ingest.UDP
	if !current.Enabled {
		logger.Info("udp ingest disabled")
		return nil, nil
	}
	conn, err := net.ListenPacket("udp", current.Addr)
	if err != nil {
		return nil, err
	}
	logger.Info("udp ingest enabled", "addr", conn.LocalAddr().String())
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Warn("udp read error", "err", err)
				continue
			}
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				env, ok := decode(line, "udp", cfg.Get(), logger)
				if !ok {
					continue
				}
				SendNonBlocking(ctx, out, env, logger)
			}
		}
	}()
	return conn.LocalAddr(), nil
}
