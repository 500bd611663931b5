package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/radio"
)

// objectView is the JSON shape shared by every registry entry.
func objectView(o radio.Object) gin.H {
	return gin.H{
		"id":           o.ID(),
		"kind":         o.Kind(),
		"acknowledged": o.Acknowledged(),
		"properties":   o.Properties(),
	}
}

func sequenceView(seq *radio.SequenceTracker) gin.H {
	return gin.H{
		"received": seq.Received(),
		"lost":     seq.Lost(),
	}
}

func framesView(f *radio.FrameTracker) gin.H {
	return gin.H{
		"accepted": f.Accepted(),
		"dropped":  f.Dropped(),
		"last":     f.Last(),
	}
}

func sliceView(sl *radio.Slice) gin.H {
	v := objectView(sl)
	v["frequency_hz"] = sl.Frequency()
	v["mode"] = sl.Mode()
	v["panadapter"] = sl.Panadapter()
	v["filter_low"] = sl.FilterLow()
	v["filter_high"] = sl.FilterHigh()
	return v
}

// handleGetRadio returns the radio-level state snapshot.
func (s *Server) handleGetRadio(c *gin.Context) {
	c.JSON(http.StatusOK, s.radio.State())
}

// handleGetStats returns object counts and session counters.
func (s *Server) handleGetStats(c *gin.Context) {
	counts := make(map[string]int, len(events.AllKinds))
	for kind, n := range s.radio.Counts() {
		counts[kind.String()] = n
	}
	state, reason := s.radio.ConnectionState()

	c.JSON(http.StatusOK, gin.H{
		"state":       state,
		"reason":      reason,
		"session_id":  s.radio.SessionID(),
		"handle":      s.radio.Handle(),
		"udp_port":    s.radio.UDPPort(),
		"outstanding": s.radio.Outstanding(),
		"objects":     counts,
	})
}

// handleGetSlices lists the slices.
func (s *Server) handleGetSlices(c *gin.Context) {
	slices := s.radio.Slices()
	out := make([]gin.H, 0, len(slices))
	for _, sl := range slices {
		out = append(out, sliceView(sl))
	}
	c.JSON(http.StatusOK, gin.H{"slices": out, "total": len(out)})
}

// handleGetSlice returns one slice and its meters.
func (s *Server) handleGetSlice(c *gin.Context) {
	sl, ok := s.radio.Slice(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "slice not found", "id": c.Param("id")})
		return
	}

	v := sliceView(sl)
	meters := make([]gin.H, 0)
	for _, m := range sl.Meters() {
		meters = append(meters, gin.H{"id": m.ID(), "name": m.Name(), "units": m.Units(), "value": m.Value()})
	}
	v["meters"] = meters
	c.JSON(http.StatusOK, v)
}

// handleGetPanadapters lists the panadapters with their frame counters.
func (s *Server) handleGetPanadapters(c *gin.Context) {
	pans := s.radio.Panadapters()
	out := make([]gin.H, 0, len(pans))
	for _, p := range pans {
		v := objectView(p)
		v["center_hz"] = p.Center()
		v["bandwidth_hz"] = p.Bandwidth()
		v["frames"] = framesView(p.Frames())
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"panadapters": out, "total": len(out)})
}

// handleGetWaterfalls lists the waterfalls with their frame counters.
func (s *Server) handleGetWaterfalls(c *gin.Context) {
	falls := s.radio.Waterfalls()
	out := make([]gin.H, 0, len(falls))
	for _, w := range falls {
		v := objectView(w)
		v["panadapter"] = w.Panadapter()
		v["frames"] = framesView(w.Frames())
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"waterfalls": out, "total": len(out)})
}

// handleGetMeters lists meter definitions and their latest scaled value.
func (s *Server) handleGetMeters(c *gin.Context) {
	meters := s.radio.Meters()
	out := make([]gin.H, 0, len(meters))
	for _, m := range meters {
		out = append(out, gin.H{
			"id":     m.ID(),
			"name":   m.Name(),
			"source": m.Source(),
			"number": m.Number(),
			"units":  m.Units(),
			"low":    m.Low(),
			"high":   m.High(),
			"value":  m.Value(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"meters": out, "total": len(out)})
}

// handleGetStreams lists every stream kind with its sequence counters.
func (s *Server) handleGetStreams(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, a := range s.radio.AudioStreams() {
		v := objectView(a)
		v["sequence"] = sequenceView(a.Sequence())
		out = append(out, v)
	}
	for _, m := range s.radio.MicAudioStreams() {
		v := objectView(m)
		v["sequence"] = sequenceView(m.Sequence())
		out = append(out, v)
	}
	for _, t := range s.radio.TxAudioStreams() {
		out = append(out, objectView(t))
	}
	for _, q := range s.radio.IqStreams() {
		v := objectView(q)
		v["sequence"] = sequenceView(q.Sequence())
		out = append(out, v)
	}
	for _, o := range s.radio.OpusStreams() {
		v := objectView(o)
		v["sequence"] = sequenceView(o.Sequence())
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"streams": out, "total": len(out)})
}

// handleGetObjects lists any registry collection by kind name.
func (s *Server) handleGetObjects(c *gin.Context) {
	kind, ok := events.ParseObjectKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown object kind", "kind": c.Param("kind")})
		return
	}

	objects := s.radio.Objects(kind)
	out := make([]gin.H, 0, len(objects))
	for _, o := range objects {
		out = append(out, objectView(o))
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "objects": out, "total": len(out)})
}

// handleGetMessages returns the newest journaled radio messages.
func (s *Server) handleGetMessages(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message journal unavailable"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	messages, err := s.store.Messages(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}
