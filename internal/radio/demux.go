package radio

import (
	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

// StreamActivity reports the stream transport going active or idle.
func (r *Radio) StreamActivity(active bool) {
	r.logger.Debug().Bool("active", active).Msg("stream activity changed")
	r.emit(events.EventStreamActivity, events.StreamActivityPayload{Active: active})
}

// ReceivePacket routes one datagram from the stream transport to the object
// owning its stream id. Packets for unknown streams are dropped.
func (r *Radio) ReceivePacket(data []byte) {
	p, err := protocol.DecodeVita(data)
	if err != nil {
		r.metrics.RecordPacket("malformed")
		r.logger.Debug().Err(err).Int("bytes", len(data)).Msg("malformed stream packet")
		return
	}

	id := p.StreamHandle()
	switch p.PacketClass {
	case protocol.ClassMeter:
		r.metrics.RecordPacket("meter")
		r.handleMeterPacket(p.Payload)

	case protocol.ClassPanadapter:
		r.metrics.RecordPacket("panadapter")
		if pan, ok := r.panadapters.Get(id); ok {
			pan.handleFrame(p.Payload)
			return
		}
		r.dropPacket("panadapter", id)

	case protocol.ClassWaterfall:
		r.metrics.RecordPacket("waterfall")
		if wf, ok := r.waterfalls.Get(id); ok {
			wf.handleFrame(p.Payload)
			return
		}
		r.dropPacket("waterfall", id)

	case protocol.ClassOpus:
		r.metrics.RecordPacket("opus")
		if o, ok := r.opusStreams.Get(id); ok {
			o.handlePacket(p)
			return
		}
		r.dropPacket("opus", id)

	case protocol.ClassDaxIQ24, protocol.ClassDaxIQ48, protocol.ClassDaxIQ96, protocol.ClassDaxIQ192:
		r.metrics.RecordPacket("iq")
		if q, ok := r.iqStreams.Get(id); ok {
			q.handlePacket(p)
			return
		}
		r.dropPacket("iq", id)

	case protocol.ClassDaxAudio:
		r.metrics.RecordPacket("audio")
		if a, ok := r.audioStreams.Get(id); ok {
			a.handlePacket(p)
			return
		}
		if m, ok := r.micAudioStreams.Get(id); ok {
			m.handlePacket(p)
			return
		}
		r.dropPacket("audio", id)

	default:
		r.metrics.RecordPacket("unknown")
		r.logger.Debug().Str("class", protocol.FormatStreamID(uint32(p.PacketClass))).Str("stream", id).Msg("unhandled packet class")
	}
}

func (r *Radio) dropPacket(kind, id string) {
	r.metrics.RecordDrop(kind)
	r.logger.Warn().Str("kind", kind).Str("stream", id).Msg("packet for unknown stream")
}
