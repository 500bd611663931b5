package radio

import (
	"fmt"
	"strconv"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

var memorySchema = schema{
	"digl_offset":     fieldInt,
	"digu_offset":     fieldInt,
	"freq":            fieldHz,
	"group":           fieldString,
	"highlight":       fieldBool,
	"highlight_color": fieldString,
	"mode":            fieldString,
	"name":            fieldString,
	"owner":           fieldString,
	"power":           fieldInt,
	"repeater":        fieldString,
	"repeater_offset": fieldFloat,
	"rtty_mark":       fieldInt,
	"rtty_shift":      fieldInt,
	"rx_filter_high":  fieldInt,
	"rx_filter_low":   fieldInt,
	"squelch":         fieldBool,
	"squelch_level":   fieldInt,
	"step":            fieldInt,
	"tone_mode":       fieldString,
	"tone_value":      fieldFloat,
}

var equalizerSchema = schema{
	"mode":    fieldBool,
	"63hz":    fieldInt,
	"125hz":   fieldInt,
	"250hz":   fieldInt,
	"500hz":   fieldInt,
	"1000hz":  fieldInt,
	"2000hz":  fieldInt,
	"4000hz":  fieldInt,
	"8000hz":  fieldInt,
}

// EqualizerBands lists the band keys in frequency order.
var EqualizerBands = []string{"63hz", "125hz", "250hz", "500hz", "1000hz", "2000hz", "4000hz", "8000hz"}

var tnfSchema = schema{
	"depth":     fieldInt,
	"freq":      fieldHz,
	"permanent": fieldBool,
	"width":     fieldHz,
}

var xvtrSchema = schema{
	"if_freq":       fieldHz,
	"in_use":        fieldBool,
	"is_valid":      fieldBool,
	"lo_error":      fieldInt,
	"max_power":     fieldInt,
	"name":          fieldString,
	"order":         fieldInt,
	"preferred":     fieldBool,
	"rf_freq":       fieldHz,
	"rx_gain":       fieldInt,
	"rx_only":       fieldBool,
	"two_meter_int": fieldInt,
}

var usbCableSchema = schema{
	"auto_report":   fieldBool,
	"band":          fieldString,
	"data_bits":     fieldInt,
	"enable":        fieldBool,
	"flow_control":  fieldString,
	"log":           fieldBool,
	"log_line":      fieldString,
	"name":          fieldString,
	"parity":        fieldString,
	"plugged_in":    fieldBool,
	"polarity":      fieldString,
	"preamp":        fieldString,
	"source":        fieldString,
	"source_rx_ant": fieldString,
	"source_slice":  fieldInt,
	"source_tx_ant": fieldString,
	"speed":         fieldInt,
	"stop_bits":     fieldInt,
	"type":          fieldString,
}

const (
	minTnfDepth = 1
	maxTnfDepth = 3
	minTnfWidth = 5
	maxTnfWidth = 6000
)

// Memory is a stored channel.
type Memory struct {
	*entry
}

func newMemory(r *Radio, id string) *Memory {
	return &Memory{entry: newEntry(r, events.KindMemory, id, memorySchema, nil, nil)}
}

func (m *Memory) Name() string   { return m.props.String("name") }
func (m *Memory) Group() string  { return m.props.String("group") }
func (m *Memory) Frequency() int { return m.props.Int("freq") }
func (m *Memory) Mode() string   { return m.props.String("mode") }
func (m *Memory) Owner() string  { return m.props.String("owner") }

func (m *Memory) set(key string, value interface{}, wire string) error {
	return m.mutate(key, value, fmt.Sprintf("memory set %s %s=%s", m.id, key, wire))
}

func (m *Memory) SetName(name string) error   { return m.set("name", name, name) }
func (m *Memory) SetGroup(group string) error { return m.set("group", group, group) }
func (m *Memory) SetMode(mode string) error   { return m.set("mode", mode, mode) }
func (m *Memory) SetFrequency(hz int) error   { return m.set("freq", hz, protocol.HzToMHz(hz)) }
func (m *Memory) SetStep(hz int) error        { return m.set("step", hz, strconv.Itoa(hz)) }
func (m *Memory) SetSquelch(on bool) error    { return m.set("squelch", on, protocol.FormatBool(on)) }

func (m *Memory) SetRxFilter(low, high int) error {
	if err := m.set("rx_filter_low", low, strconv.Itoa(low)); err != nil {
		return err
	}
	return m.set("rx_filter_high", high, strconv.Itoa(high))
}

func (m *Memory) SetPower(v int) error {
	if err := checkRange("power", v, minLevel, maxLevel); err != nil {
		return err
	}
	return m.set("power", v, strconv.Itoa(v))
}

func (m *Memory) SetSquelchLevel(v int) error {
	if err := checkRange("squelch_level", v, minLevel, maxLevel); err != nil {
		return err
	}
	return m.set("squelch_level", v, strconv.Itoa(v))
}

// Apply tunes a slice to the memory.
func (m *Memory) Apply() error { return m.send("memory apply " + m.id) }

func (m *Memory) Remove() error { return m.send("memory remove " + m.id) }

// CreateMemory stores the current active slice settings as a new memory.
func (r *Radio) CreateMemory(handler ReplyHandler) (uint32, error) {
	return r.Send("memory create", handler)
}

// Equalizer ids.
const (
	EqualizerRx = "rxsc"
	EqualizerTx = "txsc"
)

// Equalizer is the receive (rxsc) or transmit (txsc) graphic equalizer.
type Equalizer struct {
	*entry
}

func newEqualizer(r *Radio, id string) *Equalizer {
	return &Equalizer{entry: newEntry(r, events.KindEqualizer, id, equalizerSchema, nil, nil)}
}

func (e *Equalizer) Enabled() bool { return e.props.Bool("mode") }

// Level returns the gain of one band, e.g. "1000hz".
func (e *Equalizer) Level(band string) int { return e.props.Int(band) }

func (e *Equalizer) SetEnabled(on bool) error {
	return e.mutate("mode", on, fmt.Sprintf("eq %s mode=%s", e.id, protocol.FormatBool(on)))
}

// SetLevel sets one band to v dB, -10..10.
func (e *Equalizer) SetLevel(band string, v int) error {
	if _, ok := equalizerSchema[band]; !ok || band == "mode" {
		return fmt.Errorf("%w: equalizer band %q", ErrUnknownObject, band)
	}
	if err := checkRange(band, v, -10, 10); err != nil {
		return err
	}
	return e.mutate(band, v, fmt.Sprintf("eq %s %s=%d", e.id, band, v))
}

// Tnf is a tracking notch filter.
type Tnf struct {
	*entry
}

func newTnf(r *Radio, id string) *Tnf {
	return &Tnf{entry: newEntry(r, events.KindTnf, id, tnfSchema, nil, tnfReady)}
}

func tnfReady(p *Properties) bool { return p.Int("freq") != 0 }

func (t *Tnf) Frequency() int  { return t.props.Int("freq") }
func (t *Tnf) Width() int      { return t.props.Int("width") }
func (t *Tnf) Depth() int      { return t.props.Int("depth") }
func (t *Tnf) Permanent() bool { return t.props.Bool("permanent") }

func (t *Tnf) set(key string, value interface{}, wire string) error {
	return t.mutate(key, value, fmt.Sprintf("tnf set %s %s=%s", t.id, key, wire))
}

func (t *Tnf) SetFrequency(hz int) error { return t.set("freq", hz, protocol.HzToMHz(hz)) }
func (t *Tnf) SetPermanent(on bool) error {
	return t.set("permanent", on, protocol.FormatBool(on))
}

func (t *Tnf) SetDepth(v int) error {
	if err := checkRange("depth", v, minTnfDepth, maxTnfDepth); err != nil {
		return err
	}
	return t.set("depth", v, strconv.Itoa(v))
}

func (t *Tnf) SetWidth(hz int) error {
	if err := checkRange("width", hz, minTnfWidth, maxTnfWidth); err != nil {
		return err
	}
	return t.set("width", hz, protocol.HzToMHz(hz))
}

func (t *Tnf) Remove() error { return t.send("tnf remove " + t.id) }

// CreateTnf places a notch at hz.
func (r *Radio) CreateTnf(hz int, handler ReplyHandler) (uint32, error) {
	return r.Send("tnf create freq="+protocol.HzToMHz(hz), handler)
}

// Xvtr is a transverter definition.
type Xvtr struct {
	*entry
}

func newXvtr(r *Radio, id string) *Xvtr {
	return &Xvtr{entry: newEntry(r, events.KindXvtr, id, xvtrSchema, nil, nil)}
}

func (x *Xvtr) Name() string     { return x.props.String("name") }
func (x *Xvtr) RFFrequency() int { return x.props.Int("rf_freq") }
func (x *Xvtr) IFFrequency() int { return x.props.Int("if_freq") }
func (x *Xvtr) Valid() bool      { return x.props.Bool("is_valid") }

func (x *Xvtr) set(key string, value interface{}, wire string) error {
	return x.mutate(key, value, fmt.Sprintf("xvtr set %s %s=%s", x.id, key, wire))
}

func (x *Xvtr) SetName(name string) error   { return x.set("name", name, name) }
func (x *Xvtr) SetRFFrequency(hz int) error { return x.set("rf_freq", hz, protocol.HzToMHz(hz)) }
func (x *Xvtr) SetIFFrequency(hz int) error { return x.set("if_freq", hz, protocol.HzToMHz(hz)) }
func (x *Xvtr) SetLOError(hz int) error     { return x.set("lo_error", hz, strconv.Itoa(hz)) }
func (x *Xvtr) SetMaxPower(v int) error     { return x.set("max_power", v, strconv.Itoa(v)) }
func (x *Xvtr) SetRxGain(v int) error       { return x.set("rx_gain", v, strconv.Itoa(v)) }
func (x *Xvtr) SetOrder(v int) error        { return x.set("order", v, strconv.Itoa(v)) }
func (x *Xvtr) SetRxOnly(on bool) error     { return x.set("rx_only", on, protocol.FormatBool(on)) }

func (x *Xvtr) Remove() error { return x.send("xvtr remove " + x.id) }

// CreateXvtr adds an empty transverter definition.
func (r *Radio) CreateXvtr(handler ReplyHandler) (uint32, error) {
	return r.Send("xvtr create", handler)
}

// UsbCable is a USB cable accessory.
type UsbCable struct {
	*entry
}

func newUsbCable(r *Radio, id string) *UsbCable {
	return &UsbCable{entry: newEntry(r, events.KindUsbCable, id, usbCableSchema, nil, nil)}
}

func (u *UsbCable) Name() string    { return u.props.String("name") }
func (u *UsbCable) Type() string    { return u.props.String("type") }
func (u *UsbCable) PluggedIn() bool { return u.props.Bool("plugged_in") }
func (u *UsbCable) Enabled() bool   { return u.props.Bool("enable") }

// usb_cable set takes "key value" rather than key=value.
func (u *UsbCable) set(key string, value interface{}, wire string) error {
	return u.mutate(key, value, fmt.Sprintf("usb_cable set %s %s %s", u.id, key, wire))
}

func (u *UsbCable) SetName(name string) error { return u.set("name", name, name) }
func (u *UsbCable) SetEnabled(on bool) error  { return u.set("enable", on, protocol.FormatBool(on)) }

func (u *UsbCable) SetAutoReport(on bool) error {
	return u.set("auto_report", on, protocol.FormatBool(on))
}

func (u *UsbCable) SetBand(band string) error     { return u.set("band", band, band) }
func (u *UsbCable) SetSpeed(baud int) error       { return u.set("speed", baud, strconv.Itoa(baud)) }
func (u *UsbCable) SetDataBits(n int) error       { return u.set("data_bits", n, strconv.Itoa(n)) }
func (u *UsbCable) SetStopBits(n int) error       { return u.set("stop_bits", n, strconv.Itoa(n)) }
func (u *UsbCable) SetParity(p string) error      { return u.set("parity", p, p) }
func (u *UsbCable) SetFlowControl(f string) error { return u.set("flow_control", f, f) }
func (u *UsbCable) SetSource(src string) error    { return u.set("source", src, src) }

func (r *Radio) Memory(id string) (*Memory, bool)       { return r.memories.Get(id) }
func (r *Radio) Memories() []*Memory                    { return r.memories.List() }
func (r *Radio) Equalizer(id string) (*Equalizer, bool) { return r.equalizers.Get(id) }
func (r *Radio) Equalizers() []*Equalizer               { return r.equalizers.List() }
func (r *Radio) Tnf(id string) (*Tnf, bool)             { return r.tnfs.Get(id) }
func (r *Radio) Tnfs() []*Tnf                           { return r.tnfs.List() }
func (r *Radio) Xvtr(id string) (*Xvtr, bool)           { return r.xvtrs.Get(id) }
func (r *Radio) Xvtrs() []*Xvtr                         { return r.xvtrs.List() }
func (r *Radio) UsbCable(id string) (*UsbCable, bool)   { return r.usbCables.Get(id) }
func (r *Radio) UsbCables() []*UsbCable                 { return r.usbCables.List() }

// Objects returns every entry of one kind, sorted by id.
func (r *Radio) Objects(kind events.ObjectKind) []Object {
	switch kind {
	case events.KindAudioStream:
		return r.audioStreams.objects()
	case events.KindMicAudioStream:
		return r.micAudioStreams.objects()
	case events.KindTxAudioStream:
		return r.txAudioStreams.objects()
	case events.KindIqStream:
		return r.iqStreams.objects()
	case events.KindPanadapter:
		return r.panadapters.objects()
	case events.KindWaterfall:
		return r.waterfalls.objects()
	case events.KindOpus:
		return r.opusStreams.objects()
	case events.KindSlice:
		return r.slices.objects()
	case events.KindMemory:
		return r.memories.objects()
	case events.KindMeter:
		return r.meters.objects()
	case events.KindEqualizer:
		return r.equalizers.objects()
	case events.KindTnf:
		return r.tnfs.objects()
	case events.KindXvtr:
		return r.xvtrs.objects()
	case events.KindUsbCable:
		return r.usbCables.objects()
	}
	return nil
}

// Object looks up one entry by kind and id.
func (r *Radio) Object(kind events.ObjectKind, id string) (Object, bool) {
	for _, obj := range r.Objects(kind) {
		if obj.ID() == id {
			return obj, true
		}
	}
	return nil, false
}

// Counts returns the number of live entries per kind.
func (r *Radio) Counts() map[events.ObjectKind]int {
	out := make(map[events.ObjectKind]int, len(events.AllKinds))
	for _, kind := range events.AllKinds {
		out[kind] = len(r.Objects(kind))
	}
	return out
}
