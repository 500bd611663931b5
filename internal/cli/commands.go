// Package cli implements the interactive console: session status, tables of
// the live model, raw commands and tuning.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/flexlink-project/flexlink/internal/config"
	"github.com/flexlink-project/flexlink/internal/db"
	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/radio"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	radio    *radio.Radio
	store    *db.Store

	in  io.Reader
	out io.Writer
}

// NewCLI creates a CLI reading commands from in and writing to out. store
// may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, r *radio.Radio, store *db.Store, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		radio:    r,
		store:    store,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is done or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nflexlink CLI ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "flexlink> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.handleLine(ctx, line); quit {
				return
			}
		}
	}
}

// handleLine runs one input line and reports whether the user asked to quit.
func (c *CLI) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if cmd == "quit" || cmd == "exit" || cmd == "q" {
		fmt.Fprintln(c.out, "Shutting down flexlink...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true
	}

	if err := c.execute(ctx, cmd, args); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "slices":
		c.printSlices()
	case "pans":
		c.printPanadapters()
	case "meters":
		c.printMeters()
	case "streams":
		c.printStreams()
	case "send":
		return c.cmdSend(strings.Join(args, " "))
	case "tune":
		return c.cmdTune(args)
	case "filter":
		return c.cmdFilter(ctx, args)
	case "messages", "msgs":
		return c.cmdMessages(ctx, args)
	case "connect":
		return c.cmdConnect(ctx)
	case "disconnect":
		c.radio.Disconnect()
		fmt.Fprintln(c.out, "Disconnected")
	case "setconfig":
		return c.cmdSetConfig(args)
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                    flexlink CLI Commands                     ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Session state and object counts          ║")
	fmt.Fprintln(c.out, "║  slices             List slices                              ║")
	fmt.Fprintln(c.out, "║  pans               List panadapters and waterfalls          ║")
	fmt.Fprintln(c.out, "║  meters             List meters and current values           ║")
	fmt.Fprintln(c.out, "║  streams            List streams and packet loss             ║")
	fmt.Fprintln(c.out, "║  send <command>     Send a raw command and show the reply    ║")
	fmt.Fprintln(c.out, "║  tune <slice> <MHz> Retune a slice                           ║")
	fmt.Fprintln(c.out, "║  filter <slice> <preset | low high>  Set a slice passband    ║")
	fmt.Fprintln(c.out, "║  messages [n]       Show the newest radio messages           ║")
	fmt.Fprintln(c.out, "║  connect            Connect to the configured radio          ║")
	fmt.Fprintln(c.out, "║  disconnect         End the session                          ║")
	fmt.Fprintln(c.out, "║  setconfig <k> <v>  Update a radio configuration value       ║")
	fmt.Fprintln(c.out, "║  quit               Shutdown flexlink                        ║")
	fmt.Fprintln(c.out, "║  help               Show this help message                   ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// printStatus displays the session summary and object counts.
func (c *CLI) printStatus() {
	state, reason := c.radio.ConnectionState()
	radioCfg := c.cfg.GetRadio()

	fmt.Fprintf(c.out, "\n  Radio:        %s:%d\n", radioCfg.Host, radioCfg.CommandPort)
	fmt.Fprintf(c.out, "  State:        %s\n", state)
	if reason != events.ReasonNone {
		fmt.Fprintf(c.out, "  Reason:       %s\n", reason)
	}
	fmt.Fprintf(c.out, "  Session:      %s\n", orDash(c.radio.SessionID()))
	fmt.Fprintf(c.out, "  Handle:       %s\n", orDash(c.radio.Handle()))
	fmt.Fprintf(c.out, "  Version:      %s\n", orDash(c.radio.Version()))
	fmt.Fprintf(c.out, "  UDP port:     %d\n", c.radio.UDPPort())
	fmt.Fprintf(c.out, "  Outstanding:  %d\n\n", c.radio.Outstanding())

	tw := c.newTable("Kind", "Count")
	counts := c.radio.Counts()
	for _, kind := range events.AllKinds {
		if n := counts[kind]; n > 0 {
			tw.Append([]string{kind.String(), strconv.Itoa(n)})
		}
	}
	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) printSlices() {
	tw := c.newTable("ID", "Frequency (MHz)", "Mode", "Filter", "Pan", "RX Ant", "TX", "Active")
	for _, sl := range c.radio.Slices() {
		tw.Append([]string{
			sl.ID(),
			fmt.Sprintf("%.6f", float64(sl.Frequency())/1e6),
			sl.Mode(),
			fmt.Sprintf("%d..%d", sl.FilterLow(), sl.FilterHigh()),
			sl.Panadapter(),
			sl.RxAntenna(),
			yesNo(sl.TxEnabled()),
			yesNo(sl.Active()),
		})
	}
	tw.Render()
}

func (c *CLI) printPanadapters() {
	tw := c.newTable("ID", "Type", "Center (MHz)", "Span (kHz)", "Frames", "Dropped")
	for _, p := range c.radio.Panadapters() {
		tw.Append([]string{
			p.ID(),
			"pan",
			fmt.Sprintf("%.6f", float64(p.Center())/1e6),
			fmt.Sprintf("%.1f", float64(p.Bandwidth())/1e3),
			strconv.FormatUint(p.Frames().Accepted(), 10),
			strconv.FormatUint(p.Frames().Dropped(), 10),
		})
	}
	for _, w := range c.radio.Waterfalls() {
		tw.Append([]string{
			w.ID(),
			"waterfall",
			"-",
			"-",
			strconv.FormatUint(w.Frames().Accepted(), 10),
			strconv.FormatUint(w.Frames().Dropped(), 10),
		})
	}
	tw.Render()
}

func (c *CLI) printMeters() {
	meters := c.radio.Meters()
	sort.Slice(meters, func(i, j int) bool {
		a, _ := strconv.Atoi(meters[i].ID())
		b, _ := strconv.Atoi(meters[j].ID())
		return a < b
	})

	tw := c.newTable("ID", "Source", "Name", "Value", "Units")
	for _, m := range meters {
		tw.Append([]string{
			m.ID(),
			m.Source() + "-" + m.Number(),
			m.Name(),
			strconv.FormatFloat(m.Value(), 'f', 2, 64),
			m.Units(),
		})
	}
	tw.Render()
}

func (c *CLI) printStreams() {
	tw := c.newTable("ID", "Kind", "Received", "Lost")
	seqRow := func(o radio.Object, seq *radio.SequenceTracker) {
		tw.Append([]string{
			o.ID(),
			o.Kind().String(),
			strconv.FormatUint(seq.Received(), 10),
			strconv.FormatUint(seq.Lost(), 10),
		})
	}
	for _, a := range c.radio.AudioStreams() {
		seqRow(a, a.Sequence())
	}
	for _, m := range c.radio.MicAudioStreams() {
		seqRow(m, m.Sequence())
	}
	for _, q := range c.radio.IqStreams() {
		seqRow(q, q.Sequence())
	}
	for _, o := range c.radio.OpusStreams() {
		seqRow(o, o.Sequence())
	}
	for _, t := range c.radio.TxAudioStreams() {
		tw.Append([]string{t.ID(), t.Kind().String(), "-", "-"})
	}
	tw.Render()
}

func (c *CLI) cmdSend(command string) error {
	if command == "" {
		return fmt.Errorf("usage: send <command>")
	}

	replies := make(chan radio.Reply, 1)
	seq, err := c.radio.Send(command, func(reply radio.Reply) { replies <- reply })
	if err != nil {
		return err
	}

	select {
	case reply := <-replies:
		if reply.OK() {
			fmt.Fprintf(c.out, "[%d] OK %s\n", seq, reply.Body)
		} else {
			fmt.Fprintf(c.out, "[%d] ERROR 0x%s %s\n", seq, reply.Code, reply.Body)
		}
	case <-time.After(5 * time.Second):
		fmt.Fprintf(c.out, "[%d] no reply\n", seq)
	}
	return nil
}

func (c *CLI) cmdTune(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: tune <slice> <MHz>")
	}
	sl, ok := c.radio.Slice(args[0])
	if !ok {
		return fmt.Errorf("slice %s not found", args[0])
	}
	mhz, err := strconv.ParseFloat(args[1], 64)
	if err != nil || mhz <= 0 {
		return fmt.Errorf("invalid frequency: %s", args[1])
	}

	if err := sl.Tune(int(math.Round(mhz * 1e6))); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Slice %s tuned to %.6f MHz\n", sl.ID(), mhz)
	return nil
}

func (c *CLI) cmdFilter(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: filter <slice> <preset | low high>")
	}
	sl, ok := c.radio.Slice(args[0])
	if !ok {
		return fmt.Errorf("slice %s not found", args[0])
	}

	if len(args) >= 3 {
		low, errLow := strconv.Atoi(args[1])
		high, errHigh := strconv.Atoi(args[2])
		if errLow != nil || errHigh != nil {
			return fmt.Errorf("invalid passband: %s %s", args[1], args[2])
		}
		if err := sl.SetFilter(low, high); err != nil {
			return err
		}
	} else {
		if c.store == nil {
			return fmt.Errorf("filter presets unavailable")
		}
		preset, err := c.store.FilterPreset(ctx, sl.Mode(), args[1])
		if err != nil {
			return err
		}
		if err := sl.ApplyFilterPreset(preset); err != nil {
			return err
		}
	}

	fmt.Fprintf(c.out, "Slice %s filter %d..%d Hz\n", sl.ID(), sl.FilterLow(), sl.FilterHigh())
	return nil
}

func (c *CLI) cmdMessages(ctx context.Context, args []string) error {
	if c.store == nil {
		return fmt.Errorf("message journal unavailable")
	}

	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	messages, err := c.store.Messages(ctx, limit)
	if err != nil {
		return err
	}

	tw := c.newTable("Time", "Severity", "Code", "Text")
	for _, m := range messages {
		tw.Append([]string{
			m.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			m.Severity,
			fmt.Sprintf("0x%08X", m.Code),
			m.Text,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdConnect(ctx context.Context) error {
	radioCfg := c.cfg.GetRadio()
	if radioCfg.Host == "" {
		return fmt.Errorf("no radio host configured (setconfig host <address>)")
	}

	dialCtx, cancel := context.WithTimeout(ctx, radioCfg.ConnectTimeout())
	defer cancel()
	if err := c.radio.Connect(dialCtx, radioCfg.Host, radioCfg.CommandPort); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Connecting to %s:%d\n", radioCfg.Host, radioCfg.CommandPort)
	return nil
}

func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")

	if err := c.cfg.UpdateRadioField(key, parseValue(raw)); err != nil {
		return err
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}

// parseValue turns console text into the JSON type a config field expects.
func parseValue(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
