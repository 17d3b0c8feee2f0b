package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"safezone/internal/config"
	"safezone/internal/engine"
	"safezone/internal/ingest"
	"safezone/internal/model"
)

type statusResponse struct {
	Status       string         `json:"status"`
	Time         string         `json:"time"`
	Version      string         `json:"version"`
	ConfigPath   string         `json:"config_path"`
	Armed        bool           `json:"armed"`
	VoiceEnabled bool           `json:"voice_enabled"`
	State        model.Snapshot `json:"state"`
}

type settingsResponse struct {
	SafeWord         string  `json:"safe_word"`
	ShakeSensitivity float64 `json:"shake_sensitivity"`
	DeviationRadius  float64 `json:"deviation_radius"`
	ShakeEnabled     bool    `json:"shake_enabled"`
	Armed            bool    `json:"armed"`
	VoiceEnabled     bool    `json:"voice_enabled"`
}

// settingsRequest is a partial update; omitted fields keep their value.
type settingsRequest struct {
	SafeWord         *string  `json:"safe_word"`
	ShakeSensitivity *float64 `json:"shake_sensitivity"`
	DeviationRadius  *float64 `json:"deviation_radius"`
	ShakeEnabled     *bool    `json:"shake_enabled"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.deps.Version,
		ConfigPath: s.deps.Config.Path(),
		State:      s.deps.Engine.Snapshot(),
	}
	if s.deps.Monitor != nil {
		resp.Armed = s.deps.Monitor.Armed()
		resp.VoiceEnabled = s.deps.Monitor.VoiceEnabled()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) history(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var changes []model.StateChange
	if since := c.Query("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		if s.deps.History != nil {
			changes = s.deps.History.Since(ts)
		}
	} else if s.deps.History != nil {
		changes = s.deps.History.List(limit)
	}
	if changes == nil {
		changes = []model.StateChange{}
	}
	resp := gin.H{"changes": changes, "count": len(changes)}
	if s.deps.Incidents != nil {
		incidents, err := s.deps.Incidents.ListIncidents(c.Request.Context(), limit)
		if err != nil {
			s.logger.Warn("list incidents failed", "err", err)
		} else {
			resp["incidents"] = incidents
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) arm(c *gin.Context) {
	var req struct {
		Armed *bool `json:"armed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Armed == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "armed is required"})
		return
	}
	s.mu.Lock()
	next := s.deps.Config.Get().Clone()
	next.Settings.Armed = *req.Armed
	err := s.applyConfig(next)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("arm toggle failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"armed": *req.Armed, "state": s.deps.Engine.Snapshot()})
}

func (s *Server) voice(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}
	s.mu.Lock()
	next := s.deps.Config.Get().Clone()
	next.Settings.VoiceEnabled = *req.Enabled
	err := s.applyConfig(next)
	s.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"voice_enabled": *req.Enabled})
}

func (s *Server) sos(c *gin.Context) {
	var req struct {
		Trigger string `json:"trigger"`
	}
	// The body is optional; a malformed one must not block an SOS.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.logger.Warn("sos body ignored", "err", err)
		}
	}
	if err := s.deps.Engine.TriggerManual(req.Trigger); err != nil {
		if errors.Is(err, engine.ErrIncidentActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "incident already active", "state": s.deps.Engine.Snapshot()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": s.deps.Engine.Snapshot()})
}

func (s *Server) unlock(c *gin.Context) {
	var req struct {
		SafeWord string `json:"safe_word"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	res, err := s.deps.Engine.Unlock(req.SafeWord)
	switch {
	case errors.Is(err, engine.ErrUnlockDisabled):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "safe word not configured", "result": res})
	case errors.Is(err, engine.ErrNoIncident):
		c.JSON(http.StatusConflict, gin.H{"error": "nothing to cancel", "result": res})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case !res.Accepted:
		c.JSON(http.StatusForbidden, gin.H{"error": "incorrect safe word", "result": res})
	default:
		c.JSON(http.StatusOK, gin.H{"result": res})
	}
}

func (s *Server) acknowledge(c *gin.Context) {
	if err := s.deps.Engine.Acknowledge(); err != nil {
		if errors.Is(err, engine.ErrNoIncident) {
			c.JSON(http.StatusConflict, gin.H{"error": "nothing to acknowledge"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.deps.Engine.Snapshot()})
}

func (s *Server) ingest(c *gin.Context) {
	if s.deps.Ingest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest unavailable"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 2<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body too large"})
		return
	}
	res, err := s.deps.Ingest.Accept(c.Request.Context(), body)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, ingest.ErrEmptyBody) {
			s.logger.Debug("ingest rejected", "err", err)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) crimes(c *gin.Context) {
	if s.deps.Crimes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "crime database unavailable"})
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}
	points, err := s.deps.Crimes.Points(c.Request.Context(), lat, lng)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if points == nil {
		points = []model.Crime{}
	}
	c.JSON(http.StatusOK, gin.H{"crimes": points, "count": len(points)})
}

func (s *Server) importCrimes(c *gin.Context) {
	if s.deps.Crimes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "crime database unavailable"})
		return
	}
	var crimes []model.Crime
	if err := c.ShouldBindJSON(&crimes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected a JSON array of crimes"})
		return
	}
	n, err := s.deps.Crimes.ImportCrimes(c.Request.Context(), crimes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

func settingsFrom(cfg *config.Config) settingsResponse {
	st := cfg.Settings
	return settingsResponse{
		SafeWord:         st.SafeWord,
		ShakeSensitivity: st.ShakeSensitivity,
		DeviationRadius:  st.DeviationRadius,
		ShakeEnabled:     st.ShakeEnabled,
		Armed:            st.Armed,
		VoiceEnabled:     st.VoiceEnabled,
	}
}

func (s *Server) settings(c *gin.Context) {
	c.JSON(http.StatusOK, settingsFrom(s.deps.Config.Get()))
}

func (s *Server) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	s.mu.Lock()
	next := s.deps.Config.Get().Clone()
	if req.SafeWord != nil {
		next.Settings.SafeWord = strings.TrimSpace(*req.SafeWord)
	}
	if req.ShakeSensitivity != nil {
		next.Settings.ShakeSensitivity = *req.ShakeSensitivity
	}
	if req.DeviationRadius != nil {
		next.Settings.DeviationRadius = *req.DeviationRadius
	}
	if req.ShakeEnabled != nil {
		next.Settings.ShakeEnabled = *req.ShakeEnabled
	}
	err := config.Validate(next)
	if err == nil {
		err = s.applyConfig(next)
	}
	s.mu.Unlock()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("settings updated")
	c.JSON(http.StatusOK, settingsFrom(next))
}

func (s *Server) websocket(c *gin.Context) {
	if s.deps.WebSocket == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live stream unavailable"})
		return
	}
	s.deps.WebSocket(c.Writer, c.Request)
}
