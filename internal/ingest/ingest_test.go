package ingest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"safezone/internal/config"
	"safezone/internal/logging"
	"safezone/internal/model"
	"safezone/internal/normalize"
)

func TestParseKeyValueLine(t *testing.T) {
	fields, err := ParseLine(`2026-03-10T22:00:00Z type=sound label="Glass Break" confidence=0.7`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Values["timestamp"] != "2026-03-10T22:00:00Z" {
		t.Fatalf("timestamp: %q", fields.Values["timestamp"])
	}
	if fields.Values["label"] != "Glass Break" || fields.Values["confidence"] != "0.7" {
		t.Fatalf("kv mismatch: %+v", fields.Values)
	}
	if f, _ := ParseLine("   "); f != nil {
		t.Fatalf("expected blank line to return nil")
	}
	if _, err := ParseLine("just words"); err == nil {
		t.Fatalf("expected error for line without fields")
	}
}

func TestParseJSONFlattensNested(t *testing.T) {
	fields, err := ParseLine(`{"Type":"location","location":{"lat":12.5,"lng":77},"ts":1773180000}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Values["type"] != "location" || fields.Values["lat"] != "12.5" || fields.Values["ts"] != "1773180000" {
		t.Fatalf("json parse mismatch: %+v", fields.Values)
	}
}

func TestRouterPublishesByKind(t *testing.T) {
	r := NewRouter(logging.Discard())
	var locs []model.Location
	var presses []time.Time
	r.Locations.Subscribe(func(l model.Location) { locs = append(locs, l) })
	r.BackPresses.Subscribe(func(at time.Time) { presses = append(presses, at) })

	now := time.Now()
	r.Route(Envelope{Transport: "test", Reading: normalize.Reading{Kind: normalize.KindLocation, At: now, Location: &model.Location{Latitude: 3}}})
	r.Route(Envelope{Transport: "test", Reading: normalize.Reading{Kind: normalize.KindBackPress, At: now}})
	if len(locs) != 1 || locs[0].Latitude != 3 {
		t.Fatalf("location not routed: %+v", locs)
	}
	if len(presses) != 1 || !presses[0].Equal(now) {
		t.Fatalf("back press not routed: %+v", presses)
	}
	if src := r.Sources(); src.Sounds == nil || src.Transcripts == nil {
		t.Fatalf("sources missing feeds")
	}
}

func TestRESTAcceptFormats(t *testing.T) {
	out := make(chan Envelope, 10)
	rest := NewREST(config.NewStaticManager(config.DefaultConfig()), out, logging.Discard())
	ctx := context.Background()

	res, err := rest.Accept(ctx, []byte(`[{"type":"sound","label":"Gunshot","confidence":0.9},{"type":"bogus"}]`))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Accepted != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = rest.Accept(ctx, []byte("type=back_press\n\ntype=volume level=0.4\n"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Accepted != 2 {
		t.Fatalf("unexpected ndjson result: %+v", res)
	}

	if _, err := rest.Accept(ctx, []byte("  ")); err != ErrEmptyBody {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, err := rest.Accept(ctx, []byte(`{"type":`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 queued envelopes, got %d", len(out))
	}
	first := <-out
	if first.Transport != "rest" || first.Reading.Sound == nil || first.Reading.Sound.Label != "Gunshot" {
		t.Fatalf("unexpected envelope: %+v", first)
	}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan Envelope, 1)
	ctx := context.Background()
	if !SendNonBlocking(ctx, out, Envelope{}, nil) {
		t.Fatalf("first send should succeed")
	}
	if SendNonBlocking(ctx, out, Envelope{}, nil) {
		t.Fatalf("second send should be dropped")
	}
}

func TestTCPStreamDeliversLines(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.TCPStream = config.TCPStreamConfig{Enabled: true, Addr: "127.0.0.1:0"}
	out := make(chan Envelope, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := StartTCPStream(ctx, config.NewStaticManager(cfg), out, logging.Discard())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintln(conn, `{"type":"accel","x":0.1,"y":0.2,"z":9.8}`)
	fmt.Fprintln(conn, `not a message`)
	fmt.Fprintln(conn, `type=transcript text=help utterance_id=u1`)

	for _, want := range []normalize.Kind{normalize.KindAccel, normalize.KindTranscript} {
		select {
		case env := <-out:
			if env.Reading.Kind != want || env.Transport != "tcp_stream" {
				t.Fatalf("expected %s, got %+v", want, env)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestReplayFollowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.log")
	if err := os.WriteFile(path, []byte("type=location lat=1 lng=2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Ingest.Replay = config.ReplayConfig{Enabled: true, Files: []string{path}}
	out := make(chan Envelope, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartReplay(ctx, config.NewStaticManager(cfg), out, logging.Discard())

	select {
	case env := <-out:
		if env.Reading.Location == nil || env.Reading.Location.Longitude != 2 {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for replayed line")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fmt.Fprintln(f, "type=back_press")
	f.Close()

	select {
	case env := <-out:
		if env.Reading.Kind != normalize.KindBackPress {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for appended line")
	}
}
