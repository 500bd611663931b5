package radio

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

var meterSchema = schema{
	"desc": fieldString,
	"fps":  fieldInt,
	"hi":   fieldFloat,
	"low":  fieldFloat,
	"nam":  fieldString,
	"num":  fieldString,
	"src":  fieldString,
	"unit": fieldString,
}

// Meter sources as reported in the src token.
const (
	MeterSourceCodec    = "COD-"
	MeterSourceTx       = "TX-"
	MeterSourceRadio    = "RAD"
	MeterSourceSlice    = "SLC"
	MeterSourceAmplifier = "AMP"
)

// Meter is one radio measurement. Its definition arrives by status; readings
// arrive as stream packets.
type Meter struct {
	*entry

	mu    sync.Mutex
	raw   int16
	value float64
	seen  bool
}

func newMeter(r *Radio, id string) *Meter {
	return &Meter{entry: newEntry(r, events.KindMeter, id, meterSchema, nil, nil)}
}

func (m *Meter) Name() string        { return m.props.String("nam") }
func (m *Meter) Description() string { return m.props.String("desc") }
func (m *Meter) Units() string       { return m.props.String("unit") }
func (m *Meter) Source() string      { return m.props.String("src") }
func (m *Meter) Number() string      { return m.props.String("num") }
func (m *Meter) Low() float64        { return m.props.Float("low") }
func (m *Meter) High() float64       { return m.props.Float("hi") }

// Value returns the last scaled reading.
func (m *Meter) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// update scales a raw reading and reports whether the value changed.
func (m *Meter) update(raw int16) (float64, bool) {
	value := scaleMeter(m.Units(), raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
	if m.seen && value == m.value {
		return value, false
	}
	m.seen = true
	m.value = value
	return value, true
}

// scaleMeter converts a raw reading to the meter's units. Readings in units
// without a fixed-point scale are taken as is.
func scaleMeter(units string, raw int16) float64 {
	switch units {
	case "Volts", "Amps":
		return float64(raw) / 1024
	case "SWR", "dBm", "dBFS":
		return float64(raw) / 128
	case "degC":
		return float64(raw) / 64
	default:
		return float64(raw)
	}
}

func (r *Radio) Meter(id string) (*Meter, bool) { return r.meters.Get(id) }
func (r *Radio) Meters() []*Meter               { return r.meters.List() }

// MeterByName returns the first meter named name, optionally restricted to a
// slice number.
func (r *Radio) MeterByName(name, slice string) (*Meter, bool) {
	for _, m := range r.meters.List() {
		if m.Name() != name {
			continue
		}
		if slice != "" && (m.Source() != MeterSourceSlice || m.Number() != slice) {
			continue
		}
		return m, true
	}
	return nil, false
}

// applyMeters handles the '#' delimited meter body shared by meter status
// lines and the meter list reply: n.key=value tokens grouped by meter number.
func (r *Radio) applyMeters(body string) {
	if fields := strings.Fields(body); len(fields) == 2 && fields[1] == "removed" {
		updateRegistry(r, r.meters, fields[0], nil, true, nil)
		return
	}

	groups := make(map[string]protocol.KeyValues)
	var order []string
	for _, kv := range protocol.ParseKeyValues(body, "#") {
		num, key, ok := strings.Cut(kv.Key, ".")
		if !ok || num == "" || key == "" {
			r.logger.Debug().Str("token", kv.Key).Msg("meter token without number")
			continue
		}
		if _, err := strconv.Atoi(num); err != nil {
			r.logger.Debug().Str("token", kv.Key).Msg("meter token without number")
			continue
		}
		if _, ok := groups[num]; !ok {
			order = append(order, num)
		}
		groups[num] = append(groups[num], protocol.KeyValue{Key: key, Value: kv.Value})
	}

	for _, id := range order {
		m, ok := updateRegistry(r, r.meters, id, groups[id], false, func(id string) *Meter {
			return newMeter(r, id)
		})
		if ok {
			r.attachSliceMeter(m)
		}
	}
}

func (r *Radio) attachSliceMeter(m *Meter) {
	if m.Source() != MeterSourceSlice {
		return
	}
	if s, ok := r.slices.Get(m.Number()); ok {
		s.attachMeter(m)
	}
}

// onObjectRemoving detaches a slice meter from its slice before the meter is
// deleted.
func (r *Radio) onObjectRemoving(_ context.Context, ev events.Event) error {
	p, ok := ev.Payload.(events.ObjectPayload)
	if !ok || p.Kind != events.KindMeter {
		return nil
	}
	m, ok := p.Object.(*Meter)
	if !ok || m.Source() != MeterSourceSlice {
		return nil
	}
	if s, ok := r.slices.Get(m.Number()); ok {
		s.detachMeter(m.ID())
	}
	return nil
}

// handleMeterPacket applies the readings carried by one meter packet.
func (r *Radio) handleMeterPacket(payload []byte) {
	for _, s := range protocol.DecodeMeterSamples(payload) {
		id := strconv.Itoa(int(s.ID))
		m, ok := r.meters.Get(id)
		if !ok {
			r.logger.Trace().Str("id", id).Msg("reading for unknown meter")
			continue
		}
		if value, changed := m.update(s.Value); changed {
			r.emit(events.EventMeterUpdated, events.MeterUpdatedPayload{
				ID:    id,
				Name:  m.Name(),
				Units: m.Units(),
				Value: value,
			})
		}
	}
}
