package radio

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

var now = time.Now

// Radio-level areas. Each keeps an open field store: tokens outside the
// typed schema are kept as strings.
const (
	AreaRadio     = "radio"
	AreaTransmit  = "transmit"
	AreaAtu       = "atu"
	AreaGps       = "gps"
	AreaInterlock = "interlock"
	AreaProfile   = "profile"
	AreaWaveform  = "waveform"
	AreaCwx       = "cwx"
	AreaInfo      = "info"
	AreaVersion   = "version"
	AreaLists     = "lists"
)

var areaSchemas = map[string]schema{
	AreaRadio: {
		"slices":              fieldInt,
		"panadapters":         fieldInt,
		"lineout_gain":        fieldInt,
		"lineout_mute":        fieldBool,
		"headphone_gain":      fieldInt,
		"headphone_mute":      fieldBool,
		"full_duplex_enabled": fieldBool,
		"snap_tune_enabled":   fieldBool,
		"binaural_rx":         fieldBool,
		"tnf_enabled":         fieldBool,
		"cal_freq":            fieldHz,
		"freq_error_ppb":      fieldInt,
		"rtty_mark_default":   fieldInt,
		"remote_on_enabled":   fieldBool,
	},
	AreaTransmit: {
		"freq":            fieldHz,
		"rfpower":         fieldInt,
		"tunepower":       fieldInt,
		"tune":            fieldBool,
		"mox":             fieldBool,
		"pitch":           fieldInt,
		"speed":           fieldInt,
		"mic_level":       fieldInt,
		"max_power_level": fieldInt,
		"hi":              fieldInt,
		"lo":              fieldInt,
		"vox_enable":      fieldBool,
		"vox_level":       fieldInt,
		"vox_delay":       fieldInt,
		"break_in":        fieldBool,
		"break_in_delay":  fieldInt,
		"inhibit":         fieldBool,
	},
	AreaAtu: {
		"atu_enabled":      fieldBool,
		"memories_enabled": fieldBool,
		"using_mem":        fieldBool,
	},
	AreaGps: {
		"lat":     fieldFloat,
		"lon":     fieldFloat,
		"tracked": fieldInt,
		"visible": fieldInt,
	},
	AreaInterlock: {
		"tx_allowed": fieldBool,
		"timeout":    fieldInt,
		"tx_delay":   fieldInt,
	},
	AreaProfile: {
		"global_list": fieldCaretList,
		"tx_list":     fieldCaretList,
		"mic_list":    fieldCaretList,
	},
	AreaWaveform: {
		"installed_list": fieldList,
	},
	AreaCwx: {
		"delay":       fieldInt,
		"qsk_enabled": fieldBool,
		"wpm":         fieldInt,
	},
	AreaInfo: {
		"num_scu":           fieldInt,
		"num_slice":         fieldInt,
		"num_tx":            fieldInt,
		"screensaver":       fieldString,
		"gps":               fieldString,
		"atu_present":       fieldBool,
		"netmask":           fieldString,
		"remote_on_enabled": fieldBool,
	},
	AreaVersion: {},
	AreaLists: {
		"antennas":     fieldList,
		"microphones":  fieldList,
		"slices":       fieldList,
		"slice_errors": fieldList,
		"uptime":       fieldInt,
	},
}

type radioState struct {
	mu    sync.RWMutex
	areas map[string]*Properties
}

func newRadioState() *radioState {
	s := &radioState{areas: make(map[string]*Properties, len(areaSchemas))}
	for name, sc := range areaSchemas {
		s.areas[name] = newOpenProperties(sc)
	}
	return s
}

func (s *radioState) area(name string) *Properties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.areas[name]
}

func (s *radioState) reset() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.areas {
		p.reset()
	}
}

// Profile is one profile family: the names available and the one loaded.
type Profile struct {
	List    []string `json:"list"`
	Current string   `json:"current"`
}

// RadioState is a point-in-time copy of everything the radio reports outside
// the object registries.
type RadioState struct {
	State     events.ConnectionState  `json:"state"`
	Reason    events.DisconnectReason `json:"reason"`
	Handle    string                  `json:"handle"`
	Version   string                  `json:"version"`
	SessionID string                  `json:"session_id"`
	UDPPort   int                     `json:"udp_port"`

	Radio     map[string]interface{} `json:"radio"`
	Transmit  map[string]interface{} `json:"transmit"`
	Atu       map[string]interface{} `json:"atu"`
	Gps       map[string]interface{} `json:"gps"`
	Interlock map[string]interface{} `json:"interlock"`
	Waveform  map[string]interface{} `json:"waveform"`
	Cwx       map[string]interface{} `json:"cwx"`
	Info      map[string]interface{} `json:"info"`
	Versions  map[string]interface{} `json:"versions"`

	Profiles    map[string]Profile `json:"profiles"`
	Antennas    []string           `json:"antennas"`
	Microphones []string           `json:"microphones"`
	SliceList   []string           `json:"slice_list"`
	SliceErrors []string           `json:"slice_errors"`
	Uptime      int                `json:"uptime"`
}

// State returns a snapshot of the radio-level state.
func (r *Radio) State() RadioState {
	state, reason := r.ConnectionState()
	a := r.areas
	lists := a.area(AreaLists)
	profile := a.area(AreaProfile)

	profiles := make(map[string]Profile, 3)
	for _, kind := range []string{"global", "tx", "mic"} {
		profiles[kind] = Profile{
			List:    profile.Strings(kind + "_list"),
			Current: profile.String(kind + "_current"),
		}
	}

	return RadioState{
		State:     state,
		Reason:    reason,
		Handle:    r.Handle(),
		Version:   r.Version(),
		SessionID: r.SessionID(),
		UDPPort:   r.UDPPort(),

		Radio:     a.area(AreaRadio).Snapshot(),
		Transmit:  a.area(AreaTransmit).Snapshot(),
		Atu:       a.area(AreaAtu).Snapshot(),
		Gps:       a.area(AreaGps).Snapshot(),
		Interlock: a.area(AreaInterlock).Snapshot(),
		Waveform:  a.area(AreaWaveform).Snapshot(),
		Cwx:       a.area(AreaCwx).Snapshot(),
		Info:      a.area(AreaInfo).Snapshot(),
		Versions:  a.area(AreaVersion).Snapshot(),

		Profiles:    profiles,
		Antennas:    lists.Strings("antennas"),
		Microphones: lists.Strings("microphones"),
		SliceList:   lists.Strings("slices"),
		SliceErrors: lists.Strings("slice_errors"),
		Uptime:      lists.Int("uptime"),
	}
}

// Area returns the live field store of one radio-level area, or nil.
func (r *Radio) Area(name string) *Properties {
	return r.areas.area(name)
}

func (r *Radio) AntennaList() []string  { return r.areas.area(AreaLists).Strings("antennas") }
func (r *Radio) MicList() []string      { return r.areas.area(AreaLists).Strings("microphones") }
func (r *Radio) SliceList() []string    { return r.areas.area(AreaLists).Strings("slices") }
func (r *Radio) SliceErrors() []string  { return r.areas.area(AreaLists).Strings("slice_errors") }
func (r *Radio) Uptime() int            { return r.areas.area(AreaLists).Int("uptime") }
func (r *Radio) WaveformList() []string { return r.areas.area(AreaWaveform).Strings("installed_list") }
func (r *Radio) Nickname() string       { return r.areas.area(AreaRadio).String("nickname") }
func (r *Radio) Callsign() string       { return r.areas.area(AreaRadio).String("callsign") }
func (r *Radio) Model() string          { return r.areas.area(AreaInfo).String("model") }

// CWPitch returns the CW sidetone pitch in Hz (600 until the radio reports
// one).
func (r *Radio) CWPitch() int {
	if v, ok := r.areas.area(AreaTransmit).Get("pitch"); ok {
		if pitch, ok := v.(int); ok {
			return pitch
		}
	}
	return 600
}

// applyArea decodes kvs into area and reports what changed.
func (r *Radio) applyArea(area string, kvs protocol.KeyValues) {
	p := r.areas.area(area)
	if p == nil {
		return
	}
	changed, _, err := p.Apply(kvs)
	if err != nil {
		r.logger.Warn().Err(err).Str("area", area).Msg("malformed status skipped")
		return
	}
	if len(changed) > 0 {
		r.emit(events.EventRadioUpdated, events.RadioUpdatedPayload{Area: area, Changed: changed})
	}
}

// setList stores a reply-driven list.
func (r *Radio) setList(key string, values []string) {
	if values == nil {
		values = []string{}
	}
	if r.areas.area(AreaLists).Set(key, values) {
		r.emit(events.EventRadioUpdated, events.RadioUpdatedPayload{Area: AreaLists, Changed: []string{key}})
	}
}

// applyRadioStatus handles "radio ..." lines. Leading bare tokens name a
// sub-area ("filter_sharpness VOICE level=2") and prefix the keys that follow.
func (r *Radio) applyRadioStatus(body string) {
	kvs := protocol.ParseKeyValues(body, " ")
	var prefix []string
	for len(kvs) > 0 && kvs[0].Value == "" {
		prefix = append(prefix, strings.ToLower(kvs[0].Key))
		kvs = kvs[1:]
	}
	if len(prefix) > 0 {
		p := strings.Join(prefix, ".") + "."
		for i := range kvs {
			kvs[i].Key = p + kvs[i].Key
		}
	}
	r.applyArea(AreaRadio, kvs)
}

// applyProfileStatus handles "profile <global|tx|mic> list=a^b^" and
// "profile <type> current=name".
func (r *Radio) applyProfileStatus(body string) {
	kvs := protocol.ParseKeyValues(body, " ")
	if len(kvs) < 2 {
		r.logger.Warn().Str("body", body).Msg("incomplete profile status")
		return
	}
	kind := kvs[0].Key
	switch kind {
	case "global", "tx", "mic":
	default:
		r.logger.Debug().Str("profile", kind).Msg("unknown profile type")
		return
	}

	// current names may contain spaces
	_, rest, _ := strings.Cut(body, " ")
	sub, value, _ := strings.Cut(strings.TrimSpace(rest), "=")
	sub = strings.ToLower(strings.TrimSpace(sub))
	switch sub {
	case "list", "current":
		r.applyArea(AreaProfile, protocol.KeyValues{{Key: kind + "_" + sub, Value: value}})
	default:
		r.logger.Debug().Str("profile", kind).Str("token", sub).Msg("unknown profile token")
	}
}

// applyCwxStatus handles "cwx ..." lines. Quoted values may carry spaces and
// '=' which are protected before tokenizing.
func (r *Radio) applyCwxStatus(body string) {
	kvs := protocol.ParseKeyValues(protectQuoted(body), " ")
	for i := range kvs {
		kvs[i].Value = unprotectQuoted(strings.Trim(kvs[i].Value, `"`))
	}

	var fields protocol.KeyValues
	for _, kv := range kvs {
		switch {
		case strings.HasPrefix(kv.Key, "macro"):
			n, err := strconv.Atoi(strings.TrimPrefix(kv.Key, "macro"))
			if err != nil || n < 1 || n > 12 {
				r.logger.Debug().Str("token", kv.Key).Msg("invalid cwx macro")
				continue
			}
			fields = append(fields, kv)
		case kv.Key == "sent", kv.Key == "erase":
			// progress notifications, not state
			r.emit(events.EventRadioUpdated, events.RadioUpdatedPayload{Area: AreaCwx, Changed: []string{kv.Key + "=" + kv.Value}})
		default:
			fields = append(fields, kv)
		}
	}
	r.applyArea(AreaCwx, fields)
}

func protectQuoted(s string) string {
	var b strings.Builder
	quoted := false
	for _, c := range s {
		switch {
		case c == '"':
			quoted = !quoted
			b.WriteRune(c)
		case quoted && c == ' ':
			b.WriteRune('\x7f')
		case quoted && c == '=':
			b.WriteRune('*')
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

func unprotectQuoted(s string) string {
	return strings.NewReplacer("\x7f", " ", "*", "=").Replace(s)
}

// storeLocal records a value the client just set, decoded like a status
// token.
func (r *Radio) storeLocal(area, key, value string) {
	if _, _, err := r.areas.area(area).Apply(protocol.KeyValues{{Key: key, Value: value}}); err != nil {
		r.logger.Debug().Err(err).Str("area", area).Msg("local value not stored")
	}
}

// SetRadio sends "radio set key=value".
func (r *Radio) SetRadio(key, value string) error {
	r.storeLocal(AreaRadio, key, value)
	_, err := r.Send(fmt.Sprintf("radio set %s=%s", key, value), nil)
	return err
}

// SetTransmit sends "transmit set key=value".
func (r *Radio) SetTransmit(key, value string) error {
	r.storeLocal(AreaTransmit, key, value)
	_, err := r.Send(fmt.Sprintf("transmit set %s=%s", key, value), nil)
	return err
}

// SetRFPower sets transmit power, 0..100.
func (r *Radio) SetRFPower(v int) error {
	if err := checkRange("rfpower", v, minLevel, maxLevel); err != nil {
		return err
	}
	return r.SetTransmit("rfpower", strconv.Itoa(v))
}

// SetTunePower sets tune carrier power, 0..100.
func (r *Radio) SetTunePower(v int) error {
	if err := checkRange("tunepower", v, minLevel, maxLevel); err != nil {
		return err
	}
	return r.SetTransmit("tunepower", strconv.Itoa(v))
}

// SetLineoutGain sets the line out level, 0..100.
func (r *Radio) SetLineoutGain(v int) error {
	if err := checkRange("lineout_gain", v, minLevel, maxLevel); err != nil {
		return err
	}
	_, err := r.Send(fmt.Sprintf("mixer lineout gain %d", v), nil)
	return err
}

// SetMOX keys or unkeys the transmitter.
func (r *Radio) SetMOX(on bool) error {
	_, err := r.Send("xmit "+protocol.FormatBool(on), nil)
	return err
}

// SetTune starts or stops the tune carrier.
func (r *Radio) SetTune(on bool) error {
	_, err := r.Send("transmit tune "+protocol.FormatBool(on), nil)
	return err
}

// ATU runs an antenna tuner action: start, bypass or clear.
func (r *Radio) ATU(action string) error {
	switch action {
	case "start", "bypass", "clear":
	default:
		return fmt.Errorf("unknown atu action %q", action)
	}
	_, err := r.Send("atu "+action, nil)
	return err
}

// LoadProfile loads a global, tx or mic profile by name.
func (r *Radio) LoadProfile(kind, name string) error {
	switch kind {
	case "global", "tx", "mic":
	default:
		return fmt.Errorf("unknown profile type %q", kind)
	}
	_, err := r.Send(fmt.Sprintf("profile %s load %q", kind, name), nil)
	return err
}

// SendCW sends text through the CW keyer.
func (r *Radio) SendCW(text string) error {
	_, err := r.Send(fmt.Sprintf("cw send %q", text), nil)
	return err
}

// CWXSend queues text on the CWX keyer. Spaces travel as 0x7F.
func (r *Radio) CWXSend(text string) error {
	_, err := r.Send(`cwx send "`+strings.ReplaceAll(text, " ", "\x7f")+`"`, nil)
	return err
}

func (r *Radio) CWXClear() error {
	_, err := r.Send("cwx clear", nil)
	return err
}

// CWXErase removes the last n unsent characters.
func (r *Radio) CWXErase(n int) error {
	_, err := r.Send(fmt.Sprintf("cwx erase %d", n), nil)
	return err
}

func (r *Radio) setCwx(key string, value interface{}, wire string) error {
	r.areas.area(AreaCwx).Set(key, value)
	_, err := r.Send(fmt.Sprintf("cwx %s %s", key, wire), nil)
	return err
}

func (r *Radio) SetCWXSpeed(wpm int) error { return r.setCwx("wpm", wpm, strconv.Itoa(wpm)) }
func (r *Radio) SetCWXDelay(ms int) error  { return r.setCwx("delay", ms, strconv.Itoa(ms)) }
func (r *Radio) SetCWXQSK(on bool) error   { return r.setCwx("qsk_enabled", on, protocol.FormatBool(on)) }

// Request* send the informational commands whose replies seed radio state.
func (r *Radio) RequestInfo() (uint32, error)        { return r.Send(protocol.CmdInfo, nil) }
func (r *Radio) RequestVersion() (uint32, error)     { return r.Send(protocol.CmdVersion, nil) }
func (r *Radio) RequestAntennaList() (uint32, error) { return r.Send(protocol.CmdAntennaList, nil) }
func (r *Radio) RequestMicList() (uint32, error)     { return r.Send(protocol.CmdMicList, nil) }
func (r *Radio) RequestMeterList() (uint32, error)   { return r.Send(protocol.CmdMeterList, nil) }
func (r *Radio) RequestSliceList() (uint32, error)   { return r.Send(protocol.CmdSliceList, nil) }
func (r *Radio) RequestUptime() (uint32, error)      { return r.Send(protocol.CmdUptime, nil) }

// RequestSliceErrors asks for the rx/tx frequency error of a slice.
func (r *Radio) RequestSliceErrors(slice string) (uint32, error) {
	return r.Send(protocol.CmdSliceError+slice, nil)
}
