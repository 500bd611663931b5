package radio

import (
	"strings"

	"github.com/flexlink-project/flexlink/internal/protocol"
)

// registerStatusHandlers binds every status category this session
// understands.
func (r *Radio) registerStatusHandlers() {
	d := r.dispatcher

	d.Register("client", r.applyClientStatus)

	d.Register("audio_stream", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, true)
		updateRegistry(r, r.audioStreams, id, kvs, notInUse(kvs), func(id string) *AudioStream {
			return newAudioStream(r, id)
		})
	})
	d.Register("mic_audio_stream", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, true)
		updateRegistry(r, r.micAudioStreams, id, kvs, notInUse(kvs), func(id string) *MicAudioStream {
			return newMicAudioStream(r, id)
		})
	})
	d.Register("tx_audio_stream", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, true)
		updateRegistry(r, r.txAudioStreams, id, kvs, notInUse(kvs), func(id string) *TxAudioStream {
			return newTxAudioStream(r, id)
		})
	})
	d.Register("stream", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, true)
		updateRegistry(r, r.iqStreams, id, kvs, notInUse(kvs), func(id string) *IqStream {
			return newIqStream(r, id)
		})
	})
	d.Register("opus_stream", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, true)
		updateRegistry(r, r.opusStreams, id, kvs, false, func(id string) *Opus {
			return newOpus(r, id)
		})
	})

	d.Register("display", func(st *protocol.Status) { r.applyDisplay(st.Body) })

	d.Register("slice", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, false)
		updateRegistry(r, r.slices, id, kvs, notInUse(kvs), func(id string) *Slice {
			s := newSlice(r, id)
			for _, m := range r.meters.List() {
				if m.Source() == MeterSourceSlice && m.Number() == id {
					s.attachMeter(m)
				}
			}
			return s
		})
	})

	d.Register("memory", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, false)
		updateRegistry(r, r.memories, id, kvs, hasRemoved(kvs), func(id string) *Memory {
			return newMemory(r, id)
		})
	})
	d.Register("meter", func(st *protocol.Status) { r.applyMeters(st.Body) })

	d.Register("eq", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, false)
		id = strings.ToLower(id)
		if id != EqualizerRx && id != EqualizerTx {
			// obsolete rx/tx equalizers
			return
		}
		updateRegistry(r, r.equalizers, id, kvs, false, func(id string) *Equalizer {
			return newEqualizer(r, id)
		})
	})
	d.Register("tnf", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, false)
		updateRegistry(r, r.tnfs, id, kvs, hasRemoved(kvs), func(id string) *Tnf {
			return newTnf(r, id)
		})
	})
	d.Register("xvtr", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, false)
		updateRegistry(r, r.xvtrs, id, kvs, notInUse(kvs), func(id string) *Xvtr {
			return newXvtr(r, id)
		})
	})
	d.Register("usb_cable", func(st *protocol.Status) {
		id, kvs := splitStatusID(st.Body, false)
		updateRegistry(r, r.usbCables, id, kvs, hasRemoved(kvs), func(id string) *UsbCable {
			return newUsbCable(r, id)
		})
	})

	d.Register("radio", func(st *protocol.Status) { r.applyRadioStatus(st.Body) })
	d.Register("transmit", func(st *protocol.Status) {
		r.applyArea(AreaTransmit, protocol.ParseKeyValues(st.Body, " "))
	})
	d.Register("atu", func(st *protocol.Status) {
		r.applyArea(AreaAtu, protocol.ParseKeyValues(st.Body, " "))
	})
	d.Register("gps", func(st *protocol.Status) {
		r.applyArea(AreaGps, protocol.ParseKeyValues(st.Body, "#"))
	})
	d.Register("interlock", func(st *protocol.Status) {
		r.applyArea(AreaInterlock, protocol.ParseKeyValues(st.Body, " "))
	})
	d.Register("waveform", func(st *protocol.Status) {
		r.applyArea(AreaWaveform, protocol.ParseKeyValues(st.Body, " "))
	})
	d.Register("profile", func(st *protocol.Status) { r.applyProfileStatus(st.Body) })
	d.Register("cwx", func(st *protocol.Status) { r.applyCwxStatus(st.Body) })

	for _, category := range []string{"file", "mixer", "turf", "daxiq"} {
		d.Ignore(category)
	}
}

// applyClientStatus handles "client <handle> connected" and
// "client <handle> disconnected forced=<0|1>" addressed to this client.
func (r *Radio) applyClientStatus(st *protocol.Status) {
	kvs := protocol.ParseKeyValues(st.Body, " ")
	if len(kvs) < 2 {
		r.logger.Warn().Str("body", st.Body).Msg("invalid client status")
		return
	}

	handle := r.Handle()
	if handle == "" || (st.Handle != handle && st.Handle != "0") {
		return
	}

	switch kvs[1].Key {
	case "connected":
		r.activate()
	case "disconnected":
		forced := len(kvs) > 2 && kvs[2].Key == "forced" && protocol.ParseBool(kvs[2].Value)
		r.logger.Info().Str("client", protocol.StreamID(kvs[0].Key)).Bool("forced", forced).Msg("client disconnected")
	default:
		r.logger.Debug().Str("body", st.Body).Msg("unprocessed client status")
	}
}

// splitStatusID separates the leading object id from the key=value tokens
// that follow it. The id keeps its case; stream handles are normalized.
func splitStatusID(body string, streamHandle bool) (string, protocol.KeyValues) {
	body = strings.TrimSpace(body)
	id, rest, _ := strings.Cut(body, " ")
	if streamHandle {
		id = protocol.StreamID(id)
	}
	return id, protocol.ParseKeyValues(rest, " ")
}

func notInUse(kvs protocol.KeyValues) bool {
	for _, kv := range kvs {
		if kv.Key == "in_use" {
			return !protocol.ParseBool(kv.Value)
		}
	}
	return false
}

func hasRemoved(kvs protocol.KeyValues) bool {
	for _, kv := range kvs {
		if kv.Key == "removed" && kv.Value == "" {
			return true
		}
	}
	return false
}
