package radio

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

var panadapterSchema = schema{
	"ant_list":         fieldList,
	"available":        fieldInt,
	"average":          fieldInt,
	"band":             fieldString,
	"bandwidth":        fieldHz,
	"capacity":         fieldInt,
	"center":           fieldHz,
	"daxiq":            fieldInt,
	"daxiq_rate":       fieldInt,
	"fps":              fieldInt,
	"loopa":            fieldBool,
	"loopb":            fieldBool,
	"max_bw":           fieldHz,
	"max_dbm":          fieldFloat,
	"min_bw":           fieldHz,
	"min_dbm":          fieldFloat,
	"pre":              fieldString,
	"rfgain":           fieldInt,
	"rxant":            fieldString,
	"waterfall":        fieldID,
	"weighted_average": fieldBool,
	"wide":             fieldBool,
	"wnb":              fieldBool,
	"wnb_level":        fieldInt,
	"wnb_updating":     fieldBool,
	"x_pixels":         fieldInt,
	"xvtr":             fieldString,
	"y_pixels":         fieldInt,
}

var waterfallSchema = schema{
	"auto_black":     fieldBool,
	"available":      fieldInt,
	"band":           fieldString,
	"bandwidth":      fieldHz,
	"black_level":    fieldInt,
	"capacity":       fieldInt,
	"center":         fieldHz,
	"color_gain":     fieldInt,
	"daxiq":          fieldInt,
	"daxiq_rate":     fieldInt,
	"gradient_index": fieldInt,
	"line_duration":  fieldInt,
	"loopa":          fieldBool,
	"loopb":          fieldBool,
	"panadapter":     fieldID,
	"rfgain":         fieldInt,
	"rxant":          fieldString,
	"wide":           fieldBool,
	"x_pixels":       fieldInt,
	"xvtr":           fieldString,
}

const (
	maxPanDbm = 20.0
	minPanDbm = -180.0
)

// PanadapterHandler receives every accepted panadapter frame.
type PanadapterHandler func(frame *protocol.PanadapterFrame)

// WaterfallHandler receives every accepted waterfall frame.
type WaterfallHandler func(frame *protocol.WaterfallFrame)

// Panadapter is a spectrum display stream.
type Panadapter struct {
	*entry

	frames  *FrameTracker
	mu      sync.RWMutex
	handler PanadapterHandler
}

func newPanadapter(r *Radio, id string) *Panadapter {
	return &Panadapter{
		entry:  newEntry(r, events.KindPanadapter, id, panadapterSchema, nil, panadapterReady),
		frames: NewFrameTracker(),
	}
}

func panadapterReady(p *Properties) bool {
	return p.Int("center") != 0 && p.Int("bandwidth") != 0 && (p.Float("min_dbm") != 0 || p.Float("max_dbm") != 0)
}

// Center returns the center frequency in Hz.
func (p *Panadapter) Center() int           { return p.props.Int("center") }
func (p *Panadapter) Bandwidth() int        { return p.props.Int("bandwidth") }
func (p *Panadapter) MinDbm() float64       { return p.props.Float("min_dbm") }
func (p *Panadapter) MaxDbm() float64       { return p.props.Float("max_dbm") }
func (p *Panadapter) Waterfall() string     { return p.props.String("waterfall") }
func (p *Panadapter) Band() string          { return p.props.String("band") }
func (p *Panadapter) RxAntenna() string     { return p.props.String("rxant") }
func (p *Panadapter) AntennaList() []string { return p.props.Strings("ant_list") }

// Frames exposes the frame index tracker.
func (p *Panadapter) Frames() *FrameTracker { return p.frames }

// SetHandler installs the frame consumer; nil stops delivery.
func (p *Panadapter) SetHandler(h PanadapterHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Panadapter) set(key string, value interface{}, wire string) error {
	return p.mutate(key, value, fmt.Sprintf("display panafall set 0x%s %s=%s", p.id, key, wire))
}

func (p *Panadapter) SetCenter(hz int) error {
	return p.set("center", hz, protocol.HzToMHz(hz))
}

// SetBandwidth changes the span and lets the radio recenter.
func (p *Panadapter) SetBandwidth(hz int) error {
	return p.mutate("bandwidth", hz, fmt.Sprintf("display panafall set 0x%s bandwidth=%s autocenter=1", p.id, protocol.HzToMHz(hz)))
}

func (p *Panadapter) SetMaxDbm(v float64) error {
	if v > maxPanDbm {
		v = maxPanDbm
	}
	return p.set("max_dbm", v, strconv.FormatFloat(v, 'f', -1, 64))
}

func (p *Panadapter) SetMinDbm(v float64) error {
	if v < minPanDbm {
		v = minPanDbm
	}
	return p.set("min_dbm", v, strconv.FormatFloat(v, 'f', -1, 64))
}

func (p *Panadapter) SetFPS(fps int) error          { return p.set("fps", fps, strconv.Itoa(fps)) }
func (p *Panadapter) SetAverage(n int) error        { return p.set("average", n, strconv.Itoa(n)) }
func (p *Panadapter) SetBand(band string) error     { return p.set("band", band, band) }
func (p *Panadapter) SetRxAntenna(ant string) error { return p.set("rxant", ant, ant) }
func (p *Panadapter) SetRFGain(db int) error        { return p.set("rfgain", db, strconv.Itoa(db)) }
func (p *Panadapter) SetDaxIQChannel(ch int) error  { return p.set("daxiq", ch, strconv.Itoa(ch)) }
func (p *Panadapter) SetWidebandNB(on bool) error   { return p.set("wnb", on, protocol.FormatBool(on)) }
func (p *Panadapter) SetLoopA(on bool) error        { return p.set("loopa", on, protocol.FormatBool(on)) }
func (p *Panadapter) SetLoopB(on bool) error        { return p.set("loopb", on, protocol.FormatBool(on)) }
func (p *Panadapter) SetWeightedAverage(on bool) error {
	return p.set("weighted_average", on, protocol.FormatBool(on))
}

func (p *Panadapter) SetWidebandNBLevel(v int) error {
	if err := checkRange("wnb_level", v, minLevel, maxLevel); err != nil {
		return err
	}
	return p.set("wnb_level", v, strconv.Itoa(v))
}

// SetDimensions sets the pixel size the radio renders frames for.
func (p *Panadapter) SetDimensions(width, height int) error {
	changedW := p.props.Set("x_pixels", width)
	changedH := p.props.Set("y_pixels", height)
	if !changedW && !changedH {
		return nil
	}
	p.radio.emit(events.EventObjectUpdated, events.ObjectUpdatedPayload{
		Kind: p.kind, ID: p.id, Changed: []string{"x_pixels", "y_pixels"},
	})
	return p.send(fmt.Sprintf("display panafall set 0x%s xpixels=%d ypixels=%d", p.id, width, height))
}

// Remove closes the panadapter and its waterfall.
func (p *Panadapter) Remove() error {
	return p.send("display pan remove 0x" + p.id)
}

func (p *Panadapter) handleFrame(payload []byte) {
	frame, err := protocol.DecodePanadapterFrame(payload)
	if err != nil {
		p.radio.logger.Warn().Err(err).Str("id", p.id).Msg("malformed panadapter frame")
		return
	}
	if !p.frames.Accept(frame.FrameIndex) {
		p.radio.metrics.RecordDrop(p.kind.String())
		p.radio.logger.Debug().
			Str("id", p.id).
			Uint32("frame", frame.FrameIndex).
			Uint32("last", p.frames.Last()).
			Msg("out of order panadapter frame dropped")
		return
	}

	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()
	if h != nil {
		h(frame)
	}
}

// Waterfall is the waterfall display stream paired with a panadapter.
type Waterfall struct {
	*entry

	frames  *FrameTracker
	mu      sync.RWMutex
	handler WaterfallHandler
}

func newWaterfall(r *Radio, id string) *Waterfall {
	return &Waterfall{
		entry:  newEntry(r, events.KindWaterfall, id, waterfallSchema, nil, waterfallReady),
		frames: NewFrameTracker(),
	}
}

func waterfallReady(p *Properties) bool {
	return p.String("panadapter") != ""
}

func (w *Waterfall) Panadapter() string { return w.props.String("panadapter") }
func (w *Waterfall) AutoBlack() bool    { return w.props.Bool("auto_black") }
func (w *Waterfall) BlackLevel() int    { return w.props.Int("black_level") }
func (w *Waterfall) ColorGain() int     { return w.props.Int("color_gain") }
func (w *Waterfall) GradientIndex() int { return w.props.Int("gradient_index") }
func (w *Waterfall) LineDuration() int  { return w.props.Int("line_duration") }

// Frames exposes the time code tracker.
func (w *Waterfall) Frames() *FrameTracker { return w.frames }

func (w *Waterfall) SetHandler(h WaterfallHandler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

func (w *Waterfall) set(key string, value interface{}, wire string) error {
	return w.mutate(key, value, fmt.Sprintf("display panafall set 0x%s %s=%s", w.id, key, wire))
}

func (w *Waterfall) SetAutoBlack(on bool) error {
	return w.set("auto_black", on, protocol.FormatBool(on))
}

func (w *Waterfall) SetBlackLevel(v int) error    { return w.set("black_level", v, strconv.Itoa(v)) }
func (w *Waterfall) SetColorGain(v int) error     { return w.set("color_gain", v, strconv.Itoa(v)) }
func (w *Waterfall) SetGradientIndex(v int) error { return w.set("gradient_index", v, strconv.Itoa(v)) }
func (w *Waterfall) SetLineDuration(v int) error  { return w.set("line_duration", v, strconv.Itoa(v)) }

func (w *Waterfall) handleFrame(payload []byte) {
	frame, err := protocol.DecodeWaterfallFrame(payload)
	if err != nil {
		w.radio.logger.Warn().Err(err).Str("id", w.id).Msg("malformed waterfall frame")
		return
	}
	if !w.frames.Accept(frame.TimeCode) {
		w.radio.metrics.RecordDrop(w.kind.String())
		w.radio.logger.Debug().
			Str("id", w.id).
			Uint32("timecode", frame.TimeCode).
			Uint32("last", w.frames.Last()).
			Msg("out of order waterfall frame dropped")
		return
	}

	w.mu.RLock()
	h := w.handler
	w.mu.RUnlock()
	if h != nil {
		h(frame)
	}
}

// CreatePanadapter asks the radio for a new panadapter of the given pixel
// size. The reply carries the panadapter and waterfall ids, which are
// registered immediately and acknowledged once their status arrives.
func (r *Radio) CreatePanadapter(width, height int, handler ReplyHandler) (uint32, error) {
	return r.Send(fmt.Sprintf("%s x=%d y=%d", protocol.CmdPanCreate, width, height), func(reply Reply) {
		if reply.OK() {
			r.registerPanafall(reply.Body)
		}
		if handler != nil {
			handler(reply)
		}
	})
}

// registerPanafall handles a pan create reply: <panId>,<waterfallId>.
func (r *Radio) registerPanafall(body string) {
	ids := protocol.ParseValues(body, ",")
	if len(ids) == 0 {
		r.logger.Warn().Str("body", body).Msg("pan create reply without ids")
		return
	}
	panID := protocol.StreamID(ids[0])
	if _, ok := r.panadapters.Get(panID); !ok {
		r.panadapters.put(newPanadapter(r, panID))
		r.metrics.SetObjects(events.KindPanadapter.String(), r.panadapters.Len())
	}
	if len(ids) > 1 {
		wfID := protocol.StreamID(ids[1])
		if _, ok := r.waterfalls.Get(wfID); !ok {
			r.waterfalls.put(newWaterfall(r, wfID))
			r.metrics.SetObjects(events.KindWaterfall.String(), r.waterfalls.Len())
		}
	}
}

func (r *Radio) Panadapter(id string) (*Panadapter, bool) { return r.panadapters.Get(id) }
func (r *Radio) Panadapters() []*Panadapter               { return r.panadapters.List() }
func (r *Radio) Waterfall(id string) (*Waterfall, bool)   { return r.waterfalls.Get(id) }
func (r *Radio) Waterfalls() []*Waterfall                 { return r.waterfalls.List() }

// applyDisplay handles "display pan|waterfall <id> ..." status bodies.
func (r *Radio) applyDisplay(body string) {
	kvs := protocol.ParseKeyValues(body, " ")
	if len(kvs) < 2 {
		r.logger.Warn().Str("body", body).Msg("display status without id")
		return
	}
	id := protocol.StreamID(kvs[1].Key)
	rest := kvs[2:]
	removed := hasRemoved(rest)

	switch kvs[0].Key {
	case "pan":
		updateRegistry(r, r.panadapters, id, rest, removed, func(id string) *Panadapter {
			return newPanadapter(r, id)
		})
	case "waterfall":
		updateRegistry(r, r.waterfalls, id, rest, removed, func(id string) *Waterfall {
			return newWaterfall(r, id)
		})
	default:
		r.logger.Debug().Str("display", kvs[0].Key).Msg("unknown display type")
	}
}
