package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"safezone/internal/config"
)

// StartReplay follows recorded sensor logs like `tail -F`, restarting from
// the top when a file is truncated.
func StartReplay(ctx context.Context, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) {
	current := cfg.Get().Ingest.Replay
	if !current.Enabled {
		logger.Info("replay ingest disabled")
		return
	}
	for _, path := range current.Files {
		logger.Info("replay ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		go followFile(ctx, path, current.StartAtEnd, cfg, out, logger)
	}
}

func followFile(ctx context.Context, path string, startAtEnd bool, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) {
	var file *os.File
	var offset int64
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()
	for ctx.Err() == nil {
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				logger.Warn("replay open failed", "path", path, "err", err)
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file, offset = f, 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			if err == io.EOF {
				if !BackoffSleep(ctx, 200*time.Millisecond) {
					return
				}
				if info, statErr := os.Stat(path); statErr == nil && info.Size() < offset {
					_ = file.Close()
					file = nil
					startAtEnd = false
					break
				}
				continue
			}
			if err != nil {
				logger.Warn("replay read error", "path", path, "err", err)
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(partial))
			line := partial
			partial = ""
			if env, ok := decode(line, "replay", cfg.Get(), logger); ok {
				SendNonBlocking(ctx, out, env, logger)
			}
		}
	}
}
