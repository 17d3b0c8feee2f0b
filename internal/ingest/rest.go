package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"safezone/internal/config"
	"safezone/internal/metrics"
	"safezone/internal/normalize"
)

var ErrEmptyBody = errors.New("ingest: empty body")

// BatchResult reports how many messages of a REST batch were queued.
type BatchResult struct {
	Accepted int `json:"accepted"`
	Failed   int `json:"failed"`
}

// REST queues messages posted to the HTTP API. The body is a JSON object, a
// JSON array of objects, or newline-delimited messages.
type REST struct {
	cfg    *config.Manager
	out    chan<- Envelope
	logger *slog.Logger
}

func NewREST(cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) *REST {
	if logger == nil {
		logger = slog.Default()
	}
	return &REST{cfg: cfg, out: out, logger: logger}
}

func (s *REST) Accept(ctx context.Context, body []byte) (BatchResult, error) {
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		return BatchResult{}, ErrEmptyBody
	}
	cfg := s.cfg.Get()
	var res BatchResult

	if trim[0] == '[' {
		var list []map[string]any
		if err := json.Unmarshal(trim, &list); err != nil {
			return BatchResult{}, err
		}
		for _, obj := range list {
			s.count(&res, s.processFields(ctx, ParseJSONMap(obj), cfg))
		}
		return res, nil
	}
	if trim[0] == '{' && !bytes.Contains(trim, []byte("\n")) {
		fields, err := ParseJSONBytes(trim)
		if err != nil {
			return BatchResult{}, err
		}
		s.count(&res, s.processFields(ctx, fields, cfg))
		return res, nil
	}
	for _, line := range strings.Split(string(trim), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := ParseLine(line)
		if err != nil {
			res.Failed++
			continue
		}
		s.count(&res, s.processFields(ctx, fields, cfg))
	}
	return res, nil
}

func (s *REST) count(res *BatchResult, ok bool) {
	if ok {
		res.Accepted++
	} else {
		res.Failed++
	}
}

func (s *REST) processFields(ctx context.Context, fields *normalize.Fields, cfg *config.Config) bool {
	rd, err := normalize.Normalize(*fields, timezone(cfg), time.Now())
	if err != nil {
		metrics.SensorDropped.WithLabelValues("invalid").Inc()
		s.logger.Warn("rest normalize error", "err", err)
		return false
	}
	return SendNonBlocking(ctx, s.out, Envelope{Transport: "rest", Reading: rd}, s.logger)
}
