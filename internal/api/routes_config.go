package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/flexlink-project/flexlink/internal/config"
	"github.com/flexlink-project/flexlink/internal/db"
	"github.com/flexlink-project/flexlink/internal/events"
)

// handleGetConfig returns the full current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"radio":       s.cfg.GetRadio(),
		"application": s.cfg.GetApplication(),
	})
}

type radioFieldRequest struct {
	Key   string      `json:"key" binding:"required"`
	Value interface{} `json:"value"`
}

// handleSetRadioField updates one radio setting, validates the result and
// persists it. Changes apply on the next connect.
func (s *Server) handleSetRadioField(c *gin.Context) {
	var req radioFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetRadio()
	if err := s.cfg.UpdateRadioField(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetRadio(previous)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "errors": result.Errors})
		return
	}

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: "radio",
			Key:     req.Key,
			Value:   req.Value,
		},
	})

	log.Info().Str("key", req.Key).Interface("value", req.Value).Msg("API: radio config updated")

	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"radio":  s.cfg.GetRadio(),
	})
}

// handleGetFilters lists the stored filter presets for a mode.
func (s *Server) handleGetFilters(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "filter presets unavailable"})
		return
	}

	presets, err := s.store.FilterPresets(c.Request.Context(), c.Param("mode"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if presets == nil {
		presets = []db.FilterPreset{}
	}
	c.JSON(http.StatusOK, gin.H{"mode": c.Param("mode"), "presets": presets, "total": len(presets)})
}

type presetRequest struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// handleSaveFilter creates or replaces a named preset.
func (s *Server) handleSaveFilter(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "filter presets unavailable"})
		return
	}

	var req presetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	preset := db.FilterPreset{Mode: c.Param("mode"), Name: c.Param("name"), Low: req.Low, High: req.High}
	if err := s.store.SaveFilterPreset(c.Request.Context(), preset); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "preset": preset})
}

// handleDeleteFilter removes a named preset.
func (s *Server) handleDeleteFilter(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "filter presets unavailable"})
		return
	}

	if err := s.store.DeleteFilterPreset(c.Request.Context(), c.Param("mode"), c.Param("name")); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
