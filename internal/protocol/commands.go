package protocol

import (
	"fmt"
	"strconv"
)

// FormatCommand encodes an outbound command line: C<seq>|<command>\n, or
// CD<seq>|<command>\n for diagnostic commands.
func FormatCommand(seq uint32, command string, diagnostic bool) string {
	prefix := PrefixCommand
	if diagnostic {
		prefix = PrefixDiagnostic
	}
	return prefix + strconv.FormatUint(uint64(seq), 10) + "|" + command + "\n"
}

// Fixed command texts whose replies are decoded by the session.
const (
	CmdInfo         = "info"
	CmdVersion      = "version"
	CmdAntennaList  = "ant list"
	CmdMicList      = "mic list"
	CmdMeterList    = "meter list"
	CmdSliceList    = "slice list"
	CmdUptime       = "radio uptime"
	CmdPing         = "ping"
	CmdKeepAlive    = "keepalive enable"
	CmdClientGUI    = "client gui"
	CmdLowBandwidth = "client low_bw_connect"
	CmdClientProg   = "client program "
	CmdClientUDP    = "client udpport "
	CmdClientStn    = "client station "
	CmdPanCreate    = "display pan create"
	CmdSliceError   = "slice get_error "
	CmdStreamCreate = "stream create "
	CmdStreamRemove = "stream remove 0x"
)

// PrimaryCommands is the initial batch sent once the session becomes active.
func PrimaryCommands(program, station string, gui bool) []string {
	cmds := []string{CmdClientProg + program}
	if station != "" {
		cmds = append(cmds, CmdClientStn+station)
	}
	if gui {
		cmds = append(cmds, CmdClientGUI)
	}
	return cmds
}

// SubscriptionCommands subscribes to status for every object area.
func SubscriptionCommands() []string {
	areas := []string{
		"radio", "tx", "atu", "meter", "pan", "slice", "gps", "audio_stream",
		"cwx", "xvtr", "memories", "daxiq", "dax", "usb_cable", "amplifier",
		"foundation", "scu",
	}
	cmds := make([]string, 0, len(areas))
	for _, area := range areas {
		cmds = append(cmds, fmt.Sprintf("sub %s all", area))
	}
	return cmds
}

// SecondaryCommands requests the informational replies that seed radio state.
func SecondaryCommands() []string {
	return []string{
		CmdInfo,
		CmdVersion,
		CmdAntennaList,
		CmdMicList,
		CmdMeterList,
		"profile global info",
		"profile tx info",
		"profile mic info",
		"eq rxsc info",
		"eq txsc info",
	}
}
