package radio

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

var sliceSchema = schema{
	"active":                  fieldBool,
	"agc_mode":                fieldString,
	"agc_off_level":           fieldInt,
	"agc_threshold":           fieldInt,
	"anf":                     fieldBool,
	"anf_level":               fieldInt,
	"apf":                     fieldBool,
	"apf_level":               fieldInt,
	"audio_gain":              fieldInt,
	"audio_mute":              fieldBool,
	"audio_pan":               fieldInt,
	"dax":                     fieldInt,
	"dax_clients":             fieldInt,
	"dax_tx":                  fieldBool,
	"dfm_pre_de_emphasis":     fieldBool,
	"digl_offset":             fieldInt,
	"digu_offset":             fieldInt,
	"diversity":               fieldBool,
	"diversity_child":         fieldBool,
	"diversity_index":         fieldInt,
	"diversity_parent":        fieldBool,
	"filter_hi":               fieldInt,
	"filter_lo":               fieldInt,
	"fm_deviation":            fieldInt,
	"fm_repeater_offset_freq": fieldFloat,
	"fm_tone_burst":           fieldBool,
	"fm_tone_mode":            fieldString,
	"fm_tone_value":           fieldFloat,
	"ghost":                   fieldBool,
	"in_use":                  fieldBool,
	"lock":                    fieldBool,
	"loopa":                   fieldBool,
	"loopb":                   fieldBool,
	"mode":                    fieldString,
	"mode_list":               fieldList,
	"nb":                      fieldBool,
	"nb_level":                fieldInt,
	"nr":                      fieldBool,
	"nr_level":                fieldInt,
	"owner":                   fieldInt,
	"pan":                     fieldID,
	"play":                    fieldString,
	"post_demod_bypass":       fieldBool,
	"post_demod_high":         fieldInt,
	"post_demod_low":          fieldInt,
	"qsk":                     fieldBool,
	"record":                  fieldBool,
	"record_time":             fieldFloat,
	"repeater_offset_dir":     fieldString,
	"rf_frequency":            fieldHz,
	"rfgain":                  fieldInt,
	"rit_freq":                fieldInt,
	"rit_on":                  fieldBool,
	"rtty_mark":               fieldInt,
	"rtty_shift":              fieldInt,
	"rxant":                   fieldString,
	"ant_list":                fieldList,
	"squelch":                 fieldBool,
	"squelch_level":           fieldInt,
	"step":                    fieldInt,
	"step_list":               fieldList,
	"tx":                      fieldBool,
	"tx_offset_freq":          fieldFloat,
	"txant":                   fieldString,
	"wide":                    fieldBool,
	"wnb":                     fieldBool,
	"wnb_level":               fieldInt,
	"xit_freq":                fieldInt,
	"xit_on":                  fieldBool,
}

// older firmware names the owning panadapter in full
var sliceAliases = map[string]string{"panadapter": "pan"}

const (
	minLevel  = 0
	maxLevel  = 100
	minOffset = -99_999
	maxOffset = 99_999
)

// Slice is a receiver tuned within a panadapter.
type Slice struct {
	*entry

	mu     sync.RWMutex
	meters map[string]*Meter
}

func newSlice(r *Radio, id string) *Slice {
	return &Slice{
		entry:  newEntry(r, events.KindSlice, id, sliceSchema, sliceAliases, sliceReady),
		meters: make(map[string]*Meter),
	}
}

func sliceReady(p *Properties) bool {
	return p.Bool("in_use") && p.String("pan") != "" && p.Int("rf_frequency") != 0 && p.String("mode") != ""
}

// Frequency returns the tuned frequency in Hz.
func (s *Slice) Frequency() int        { return s.props.Int("rf_frequency") }
func (s *Slice) Mode() string          { return s.props.String("mode") }
func (s *Slice) Panadapter() string    { return s.props.String("pan") }
func (s *Slice) Active() bool          { return s.props.Bool("active") }
func (s *Slice) InUse() bool           { return s.props.Bool("in_use") }
func (s *Slice) Locked() bool          { return s.props.Bool("lock") }
func (s *Slice) TxEnabled() bool       { return s.props.Bool("tx") }
func (s *Slice) RxAntenna() string     { return s.props.String("rxant") }
func (s *Slice) TxAntenna() string     { return s.props.String("txant") }
func (s *Slice) FilterLow() int        { return s.props.Int("filter_lo") }
func (s *Slice) FilterHigh() int       { return s.props.Int("filter_hi") }
func (s *Slice) DaxChannel() int       { return s.props.Int("dax") }
func (s *Slice) ModeList() []string    { return s.props.Strings("mode_list") }
func (s *Slice) AntennaList() []string { return s.props.Strings("ant_list") }

// Meters returns the meters whose source is this slice, sorted by id.
func (s *Slice) Meters() []*Meter {
	s.mu.RLock()
	out := make([]*Meter, 0, len(s.meters))
	for _, m := range s.meters {
		out = append(out, m)
	}
	s.mu.RUnlock()
	sortObjects(out)
	return out
}

func (s *Slice) attachMeter(m *Meter) {
	s.mu.Lock()
	s.meters[m.ID()] = m
	s.mu.Unlock()
}

func (s *Slice) detachMeter(id string) {
	s.mu.Lock()
	delete(s.meters, id)
	s.mu.Unlock()
}

func (s *Slice) set(key string, value interface{}, wire string) error {
	return s.mutate(key, value, fmt.Sprintf("slice set %s %s=%s", s.id, key, wire))
}

// Tune moves the slice to hz. A locked slice is not retuned.
func (s *Slice) Tune(hz int) error {
	if s.Locked() {
		return fmt.Errorf("slice %s is locked", s.id)
	}
	return s.mutate("rf_frequency", hz, fmt.Sprintf("slice tune %s %s", s.id, protocol.HzToMHz(hz)))
}

func (s *Slice) SetMode(mode string) error {
	mode = strings.ToUpper(mode)
	return s.set("mode", mode, mode)
}

func (s *Slice) SetActive(on bool) error {
	return s.set("active", on, protocol.FormatBool(on))
}

func (s *Slice) SetTxEnabled(on bool) error {
	return s.set("tx", on, protocol.FormatBool(on))
}

func (s *Slice) SetLocked(on bool) error {
	verb := "unlock"
	if on {
		verb = "lock"
	}
	return s.mutate("lock", on, fmt.Sprintf("slice %s %s", verb, s.id))
}

func (s *Slice) SetRxAntenna(ant string) error { return s.set("rxant", ant, ant) }
func (s *Slice) SetTxAntenna(ant string) error { return s.set("txant", ant, ant) }
func (s *Slice) SetAGCMode(mode string) error  { return s.set("agc_mode", mode, mode) }
func (s *Slice) SetDaxChannel(ch int) error    { return s.set("dax", ch, strconv.Itoa(ch)) }
func (s *Slice) SetStep(hz int) error          { return s.set("step", hz, strconv.Itoa(hz)) }
func (s *Slice) SetRFGain(db int) error        { return s.set("rfgain", db, strconv.Itoa(db)) }

func (s *Slice) SetNoiseReduction(on bool) error { return s.set("nr", on, protocol.FormatBool(on)) }
func (s *Slice) SetNoiseBlanker(on bool) error   { return s.set("nb", on, protocol.FormatBool(on)) }
func (s *Slice) SetAutoNotch(on bool) error      { return s.set("anf", on, protocol.FormatBool(on)) }
func (s *Slice) SetAutoPeak(on bool) error       { return s.set("apf", on, protocol.FormatBool(on)) }
func (s *Slice) SetWidebandNB(on bool) error     { return s.set("wnb", on, protocol.FormatBool(on)) }
func (s *Slice) SetSquelch(on bool) error        { return s.set("squelch", on, protocol.FormatBool(on)) }

// setLevel handles the 0..100 controls.
func (s *Slice) setLevel(key string, v int) error {
	if err := checkRange(key, v, minLevel, maxLevel); err != nil {
		return err
	}
	return s.set(key, v, strconv.Itoa(v))
}

func (s *Slice) SetAGCThreshold(v int) error        { return s.setLevel("agc_threshold", v) }
func (s *Slice) SetAGCOffLevel(v int) error         { return s.setLevel("agc_off_level", v) }
func (s *Slice) SetNoiseReductionLevel(v int) error { return s.setLevel("nr_level", v) }
func (s *Slice) SetNoiseBlankerLevel(v int) error   { return s.setLevel("nb_level", v) }
func (s *Slice) SetAutoNotchLevel(v int) error      { return s.setLevel("anf_level", v) }
func (s *Slice) SetAutoPeakLevel(v int) error       { return s.setLevel("apf_level", v) }
func (s *Slice) SetWidebandNBLevel(v int) error     { return s.setLevel("wnb_level", v) }
func (s *Slice) SetSquelchLevel(v int) error        { return s.setLevel("squelch_level", v) }

// SetAudioGain and friends go through the audio client rather than slice set.
func (s *Slice) SetAudioGain(v int) error {
	if err := checkRange("audio_gain", v, minLevel, maxLevel); err != nil {
		return err
	}
	return s.mutate("audio_gain", v, fmt.Sprintf("audio client 0 slice %s gain %d", s.id, v))
}

func (s *Slice) SetAudioMute(on bool) error {
	return s.mutate("audio_mute", on, fmt.Sprintf("audio client 0 slice %s mute %s", s.id, protocol.FormatBool(on)))
}

func (s *Slice) SetAudioPan(v int) error {
	if err := checkRange("audio_pan", v, minLevel, maxLevel); err != nil {
		return err
	}
	return s.mutate("audio_pan", v, fmt.Sprintf("audio client 0 slice %s pan %d", s.id, v))
}

func (s *Slice) SetRIT(on bool) error { return s.set("rit_on", on, protocol.FormatBool(on)) }
func (s *Slice) SetXIT(on bool) error { return s.set("xit_on", on, protocol.FormatBool(on)) }

func (s *Slice) SetRITOffset(hz int) error {
	if err := checkRange("rit_freq", hz, minOffset, maxOffset); err != nil {
		return err
	}
	return s.set("rit_freq", hz, strconv.Itoa(hz))
}

func (s *Slice) SetXITOffset(hz int) error {
	if err := checkRange("xit_freq", hz, minOffset, maxOffset); err != nil {
		return err
	}
	return s.set("xit_freq", hz, strconv.Itoa(hz))
}

// SetFilter sets both passband edges, in Hz relative to the carrier, after
// clamping them to what the current mode allows.
func (s *Slice) SetFilter(low, high int) error {
	low, high = clampFilter(s.Mode(), low, high, s.radio.CWPitch(), s.props.Int("rtty_mark"), s.props.Int("rtty_shift"))

	changedLow := s.props.Set("filter_lo", low)
	changedHigh := s.props.Set("filter_hi", high)
	if !changedLow && !changedHigh {
		return nil
	}
	var changed []string
	if changedLow {
		changed = append(changed, "filter_lo")
	}
	if changedHigh {
		changed = append(changed, "filter_hi")
	}
	s.radio.emit(events.EventObjectUpdated, events.ObjectUpdatedPayload{Kind: s.kind, ID: s.id, Changed: changed})
	return s.send(fmt.Sprintf("filt %s %d %d", s.id, low, high))
}

// FilterPreset is a stored passband.
type FilterPreset interface {
	Edges() (low, high int)
}

// ApplyFilterPreset sets the passband from a stored preset.
func (s *Slice) ApplyFilterPreset(p FilterPreset) error {
	low, high := p.Edges()
	return s.SetFilter(low, high)
}

// Remove asks the radio to close the slice. The entry goes away when the
// radio confirms with in_use=0.
func (s *Slice) Remove() error {
	return s.send("slice remove " + s.id)
}

// clampFilter limits passband edges by mode. FM widths are fixed by the radio
// and are passed through unchanged.
func clampFilter(mode string, low, high, cwPitch, rttyMark, rttyShift int) (int, int) {
	if high < low+10 {
		high = low + 10
	}
	if low > high-10 {
		low = high - 10
	}

	switch strings.ToUpper(mode) {
	case "FM", "NFM":
	case "CW":
		high = minInt(high, 12_000-cwPitch)
		low = maxInt(low, -12_000-cwPitch)
	case "RTTY":
		high = maxInt(minInt(high, rttyMark), 50)
		low = minInt(maxInt(low, -12_000+rttyMark), -(50 + rttyShift))
	case "DSB", "AM", "SAM", "DFM", "DSTR":
		high = maxInt(minInt(high, 12_000), 10)
		low = minInt(maxInt(low, -12_000), -10)
	case "LSB", "DIGL":
		high = minInt(high, 0)
		low = maxInt(low, -12_000)
	case "USB", "DIGU", "FDV":
		high = minInt(high, 12_000)
		low = maxInt(low, 0)
	}
	return low, high
}

func checkRange(key string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s=%d not in %d..%d", ErrOutOfRange, key, v, lo, hi)
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CreateSlice asks the radio for a new slice at hz. The slice appears in the
// registry once its status arrives.
func (r *Radio) CreateSlice(hz int, antenna, mode string, handler ReplyHandler) (uint32, error) {
	cmd := "slice create freq=" + protocol.HzToMHz(hz)
	if antenna != "" {
		cmd += " ant=" + antenna
	}
	if mode != "" {
		cmd += " mode=" + strings.ToUpper(mode)
	}
	return r.Send(cmd, handler)
}

func (r *Radio) Slice(id string) (*Slice, bool) { return r.slices.Get(id) }
func (r *Radio) Slices() []*Slice               { return r.slices.List() }

// SlicesOn returns the slices tuned within panadapter panID.
func (r *Radio) SlicesOn(panID string) []*Slice {
	var out []*Slice
	for _, s := range r.slices.List() {
		if s.Panadapter() == panID {
			out = append(out, s)
		}
	}
	return out
}
