package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"safezone/internal/clock"
	"safezone/internal/model"
)

const filePlaceholder = "{file}"

func clipName(inc model.Incident, started time.Time, ext string) string {
	return fmt.Sprintf("evidence_%s_%d%s", inc.ID, started.UnixMilli(), ext)
}

// ManifestCapture writes a JSON manifest describing the incident instead of
// audio. Used when no recorder command is configured.
type ManifestCapture struct {
	Dir   string
	Clock clock.Clock
}

type manifest struct {
	IncidentID string             `json:"incident_id"`
	Kind       model.IncidentKind `json:"kind"`
	Trigger    string             `json:"trigger"`
	Location   *model.Location    `json:"location,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	StoppedAt  time.Time          `json:"stopped_at"`
}

type manifestSession struct {
	path  string
	clock clock.Clock
	m     manifest
}

func (c ManifestCapture) Begin(inc model.Incident) (Session, error) {
	clk := c.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, err
	}
	now := clk.Now().UTC()
	return &manifestSession{
		path:  filepath.Join(c.Dir, clipName(inc, now, ".json")),
		clock: clk,
		m: manifest{
			IncidentID: inc.ID,
			Kind:       inc.Kind,
			Trigger:    inc.Trigger,
			Location:   inc.Location,
			StartedAt:  now,
		},
	}, nil
}

func (s *manifestSession) Stop() (Artifact, error) {
	s.m.StoppedAt = s.clock.Now().UTC()
	data, err := json.MarshalIndent(s.m, "", "  ")
	if err != nil {
		return Artifact{}, err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: s.path, Name: filepath.Base(s.path)}, nil
}

// CommandCapture runs an external recorder. "{file}" in Args is replaced with
// the output path. The process is interrupted on Stop and killed after
// Grace if it has not exited.
type CommandCapture struct {
	Dir   string
	Args  []string
	Ext   string
	Grace time.Duration
}

type commandSession struct {
	path  string
	cmd   *exec.Cmd
	done  chan error
	grace time.Duration
	once  sync.Once
	err   error
}

func (c CommandCapture) Begin(inc model.Incident) (Session, error) {
	if len(c.Args) == 0 {
		return nil, errors.New("evidence: empty recorder command")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, err
	}
	ext := c.Ext
	if ext == "" {
		ext = ".m4a"
	}
	path := filepath.Join(c.Dir, clipName(inc, time.Now().UTC(), ext))
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = strings.ReplaceAll(a, filePlaceholder, path)
	}
	cmd := exec.CommandContext(context.Background(), args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	grace := c.Grace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	s := &commandSession{path: path, cmd: cmd, done: make(chan error, 1), grace: grace}
	go func() { s.done <- cmd.Wait() }()
	return s, nil
}

func (s *commandSession) Stop() (Artifact, error) {
	s.once.Do(func() {
		select {
		case err := <-s.done:
			s.err = err
			return
		default:
		}
		_ = s.cmd.Process.Signal(syscall.SIGINT)
		select {
		case <-s.done:
		case <-time.After(s.grace):
			_ = s.cmd.Process.Kill()
			<-s.done
		}
	})
	if s.err != nil {
		return Artifact{}, fmt.Errorf("recorder exited: %w", s.err)
	}
	if _, err := os.Stat(s.path); err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: s.path, Name: filepath.Base(s.path)}, nil
}
