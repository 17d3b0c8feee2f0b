package evidence

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"safezone/internal/clock"
	"safezone/internal/config"
	"safezone/internal/logging"
	"safezone/internal/model"
	"safezone/internal/sink"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeUploader struct {
	mu        sync.Mutex
	uploadErr error
	uploaded  []string
	bodies    []string
	reports   []model.IncidentReport
}

func (f *fakeUploader) UploadEvidence(_ context.Context, name string, r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	b, _ := io.ReadAll(r)
	f.uploaded = append(f.uploaded, name)
	f.bodies = append(f.bodies, string(b))
	return "https://files.example/" + name, nil
}

func (f *fakeUploader) CreateIncident(_ context.Context, report model.IncidentReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

type notes struct {
	mu  sync.Mutex
	got []model.Notification
}

func (n *notes) Notify(x model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, x)
}

func (n *notes) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.got))
	for _, x := range n.got {
		out = append(out, x.Title)
	}
	return out
}

func setup(t *testing.T, up Uploader) (*Recorder, *clock.Manual, *notes) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.UserID = "victim-1"
	clk := clock.NewManual(time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC))
	n := &notes{}
	r := NewRecorder(cfg, clk, ManifestCapture{Dir: t.TempDir(), Clock: clk}, up, n, logging.Discard())
	t.Cleanup(r.Close)
	return r, clk, n
}

func incident() model.Incident {
	return model.Incident{
		ID:       "inc-1",
		Kind:     model.IncidentSound,
		Trigger:  "Sound: Gunshot",
		Status:   model.IncidentActive,
		Location: &model.Location{Latitude: 12.9, Longitude: 77.6},
	}
}

func TestRecordUploadsAfterDuration(t *testing.T) {
	up := &fakeUploader{}
	r, clk, n := setup(t, up)

	require.NoError(t, r.Record(incident()))
	require.NoError(t, r.Record(incident()))
	assert.True(t, r.Recording("inc-1"))

	clk.Advance(29 * time.Second)
	r.Wait()
	assert.Empty(t, up.uploaded)

	clk.Advance(time.Second)
	r.Wait()
	assert.False(t, r.Recording("inc-1"))

	require.Len(t, up.uploaded, 1)
	assert.Contains(t, up.bodies[0], `"incident_id": "inc-1"`)
	require.Len(t, up.reports, 1)
	rep := up.reports[0]
	assert.Equal(t, model.IncidentAudio, rep.Type)
	assert.Equal(t, "victim-1", rep.VictimID)
	assert.Equal(t, "https://files.example/"+up.uploaded[0], rep.AudioURL)
	assert.Equal(t, []string{"Evidence Secure"}, n.titles())
}

func TestUploadFailureNotifies(t *testing.T) {
	up := &fakeUploader{uploadErr: errors.New("boom")}
	r, clk, n := setup(t, up)

	require.NoError(t, r.Record(incident()))
	clk.Advance(30 * time.Second)
	r.Wait()

	assert.Empty(t, up.reports)
	assert.Equal(t, []string{"Upload Failed"}, n.titles())
}

func TestDisabledSinkKeepsEvidenceLocally(t *testing.T) {
	up := &fakeUploader{uploadErr: sink.ErrDisabled}
	r, clk, n := setup(t, up)

	require.NoError(t, r.Record(incident()))
	clk.Advance(30 * time.Second)
	r.Wait()

	assert.Empty(t, n.titles())
}

func TestCloseStopsPendingRecordings(t *testing.T) {
	up := &fakeUploader{}
	r, clk, _ := setup(t, up)

	require.NoError(t, r.Record(incident()))
	r.Close()
	assert.ErrorIs(t, r.Record(model.Incident{ID: "inc-2"}), ErrClosed)

	clk.Advance(time.Minute)
	r.Wait()
	assert.Empty(t, up.uploaded)
}

func TestManifestCaptureWritesFile(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC))
	sess, err := ManifestCapture{Dir: dir, Clock: clk}.Begin(incident())
	require.NoError(t, err)
	clk.Advance(30 * time.Second)

	art, err := sess.Stop()
	require.NoError(t, err)
	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Sound: Gunshot")
	assert.Contains(t, art.Name, "evidence_inc-1_")
}

func TestCommandCaptureRequiresArgs(t *testing.T) {
	_, err := CommandCapture{Dir: t.TempDir()}.Begin(incident())
	assert.Error(t, err)
}
