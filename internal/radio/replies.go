package radio

import (
	"strings"

	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/protocol"
)

// versionKeys are the components reported by the version reply.
var versionKeys = map[string]bool{
	"smartsdr-mb":  true,
	"psoc-mbtrx":   true,
	"psoc-mbpa100": true,
	"fpga-mb":      true,
}

// applyReply is the default handling for accepted replies to commands sent
// without a handler. Informational commands fill radio-level state; anything
// else is only logged.
func (r *Radio) applyReply(reply Reply) {
	command := reply.Command
	switch {
	case command == protocol.CmdInfo:
		r.applyArea(AreaInfo, protocol.ParseKeyValues(reply.Body, ","))

	case command == protocol.CmdVersion:
		var kvs protocol.KeyValues
		for _, kv := range protocol.ParseKeyValues(reply.Body, "#") {
			if versionKeys[kv.Key] {
				kvs = append(kvs, kv)
			} else {
				r.logger.Debug().Str("token", kv.Key).Msg("unknown version token")
			}
		}
		r.applyArea(AreaVersion, kvs)

	case command == protocol.CmdAntennaList:
		r.setList("antennas", protocol.ParseValues(reply.Body, ","))

	case command == protocol.CmdMicList:
		r.setList("microphones", protocol.ParseValues(reply.Body, ","))

	case command == protocol.CmdMeterList:
		r.applyMeters(reply.Body)

	case command == protocol.CmdSliceList:
		r.setList("slices", protocol.ParseValues(reply.Body, " "))

	case command == protocol.CmdUptime:
		uptime, err := protocol.ParseInt(strings.TrimSpace(reply.Body))
		if err != nil {
			r.logger.Warn().Err(err).Str("body", reply.Body).Msg("malformed uptime reply")
			return
		}
		if r.areas.area(AreaLists).Set("uptime", uptime) {
			r.emit(events.EventRadioUpdated, events.RadioUpdatedPayload{Area: AreaLists, Changed: []string{"uptime"}})
		}

	case strings.HasPrefix(command, protocol.CmdSliceError):
		r.setList("slice_errors", protocol.ParseValues(reply.Body, ","))

	default:
		if reply.Body != "" {
			r.logger.Debug().Str("command", command).Str("body", reply.Body).Msg("reply not applied")
		}
	}
}
