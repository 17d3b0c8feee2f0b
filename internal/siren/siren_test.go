package siren

import (
	"errors"
	"testing"

	"safezone/internal/logging"
)

type countingOutput struct {
	plays, silences int
	err             error
}

func (o *countingOutput) Play() error {
	if o.err != nil {
		return o.err
	}
	o.plays++
	return nil
}

func (o *countingOutput) Silence() error {
	o.silences++
	return nil
}

func TestControllerIdempotent(t *testing.T) {
	out := &countingOutput{}
	c := NewController(out, logging.Discard())
	for i := 0; i < 3; i++ {
		if err := c.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	if out.plays != 1 || !c.Active() {
		t.Fatalf("expected a single play, got %d", out.plays)
	}
	_ = c.Stop()
	_ = c.Stop()
	if out.silences != 1 || c.Active() {
		t.Fatalf("expected a single silence, got %d", out.silences)
	}
}

func TestControllerStartFailure(t *testing.T) {
	c := NewController(&countingOutput{err: errors.New("no audio device")}, logging.Discard())
	if err := c.Start(); err == nil {
		t.Fatalf("expected error")
	}
	if c.Active() {
		t.Fatalf("failed start must not mark active")
	}
}

func TestCommandOutputEmpty(t *testing.T) {
	if err := NewCommandOutput(nil).Play(); err == nil {
		t.Fatalf("expected error for empty command")
	}
	if err := NewCommandOutput(nil).Silence(); err != nil {
		t.Fatalf("silence without play: %v", err)
	}
}
