package api

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/flexlink-project/flexlink/internal/db"
	"github.com/flexlink-project/flexlink/internal/radio"
)

// commandTimeout bounds how long POST /api/command waits for the reply.
const commandTimeout = 5 * time.Second

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, radio.ErrNotConnected), errors.Is(err, radio.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, radio.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, radio.ErrUnknownObject), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, radio.ErrNoTransport):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

type connectRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// handleConnect opens a session to the configured radio, or to the host in
// the request body.
func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	radioCfg := s.cfg.GetRadio()
	if req.Host == "" {
		req.Host = radioCfg.Host
	}
	if req.Port == 0 {
		req.Port = radioCfg.CommandPort
	}
	if req.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no radio host configured"})
		return
	}

	if err := s.radio.Connect(c.Request.Context(), req.Host, req.Port); err != nil {
		log.Warn().Err(err).Str("host", req.Host).Msg("API: connect failed")
		if errors.Is(err, radio.ErrAlreadyConnected) || errors.Is(err, radio.ErrNoTransport) {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("host", req.Host).Int("port", req.Port).Msg("API: radio connect requested")
	c.JSON(http.StatusOK, gin.H{
		"status":     "connecting",
		"session_id": s.radio.SessionID(),
		"udp_port":   s.radio.UDPPort(),
	})
}

// handleDisconnect ends the session.
func (s *Server) handleDisconnect(c *gin.Context) {
	s.radio.Disconnect()
	log.Info().Msg("API: radio disconnect requested")
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

type commandRequest struct {
	Command    string `json:"command" binding:"required"`
	Diagnostic bool   `json:"diagnostic"`
	NoWait     bool   `json:"no_wait"`
}

// handleCommand sends a raw command and, unless no_wait is set, returns the
// radio's reply.
func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	replies := make(chan radio.Reply, 1)
	handler := func(reply radio.Reply) { replies <- reply }
	if req.NoWait {
		handler = nil
	}

	send := s.radio.Send
	if req.Diagnostic {
		send = s.radio.SendDiagnostic
	}
	seq, err := send(req.Command, handler)
	if err != nil {
		abortWith(c, err)
		return
	}

	log.Info().Uint32("seq", seq).Str("command", req.Command).Msg("API: command sent")

	if req.NoWait {
		c.JSON(http.StatusAccepted, gin.H{"sequence": seq})
		return
	}

	select {
	case reply := <-replies:
		c.JSON(http.StatusOK, gin.H{
			"sequence": seq,
			"ok":       reply.OK(),
			"code":     reply.Code,
			"body":     reply.Body,
		})
	case <-time.After(commandTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "no reply from radio", "sequence": seq})
	case <-c.Request.Context().Done():
	}
}

type tuneRequest struct {
	MHz float64 `json:"mhz"`
	Hz  int     `json:"hz"`
}

// handleTuneSlice retunes a slice. The body carries either hz or mhz.
func (s *Server) handleTuneSlice(c *gin.Context) {
	sl, ok := s.radio.Slice(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "slice not found", "id": c.Param("id")})
		return
	}

	var req tuneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hz := req.Hz
	if hz == 0 {
		hz = int(math.Round(req.MHz * 1e6))
	}
	if hz <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frequency must be positive"})
		return
	}

	if err := sl.Tune(hz); err != nil {
		if errors.Is(err, radio.ErrNotConnected) || errors.Is(err, radio.ErrOutOfRange) {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": sl.ID(), "frequency_hz": sl.Frequency()})
}

type filterRequest struct {
	Preset string `json:"preset"`
	Low    *int   `json:"low"`
	High   *int   `json:"high"`
}

// handleSetSliceFilter sets a slice passband from a stored preset for its
// current mode or from explicit edges.
func (s *Server) handleSetSliceFilter(c *gin.Context) {
	sl, ok := s.radio.Slice(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "slice not found", "id": c.Param("id")})
		return
	}

	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch {
	case req.Preset != "":
		if s.store == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "filter presets unavailable"})
			return
		}
		var preset db.FilterPreset
		preset, err = s.store.FilterPreset(c.Request.Context(), sl.Mode(), req.Preset)
		if err == nil {
			err = sl.ApplyFilterPreset(preset)
		}
	case req.Low != nil && req.High != nil:
		err = sl.SetFilter(*req.Low, *req.High)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "preset or low and high required"})
		return
	}
	if err != nil {
		abortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          sl.ID(),
		"filter_low":  sl.FilterLow(),
		"filter_high": sl.FilterHigh(),
	})
}
