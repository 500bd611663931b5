package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexlink-project/flexlink/internal/events"
)

func openTestStore(t *testing.T, seed bool) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "flexlink.db"), seed)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeededPresets(t *testing.T) {
	s := openTestStore(t, true)
	ctx := context.Background()

	usb, err := s.FilterPresets(ctx, "usb")
	require.NoError(t, err)
	require.Len(t, usb, 5)
	assert.Equal(t, "1.8k", usb[0].Name)
	assert.Equal(t, "3.0k", usb[4].Name)

	low, high := usb[2].Edges()
	assert.Equal(t, 100, low)
	assert.Equal(t, 2500, high)

	none, err := s.FilterPresets(ctx, "DSTR")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSeedDoesNotDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flexlink.db")
	ctx := context.Background()

	s, err := Open(ctx, path, true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, true)
	require.NoError(t, err)
	defer s.Close()

	cw, err := s.FilterPresets(ctx, "CW")
	require.NoError(t, err)
	assert.Len(t, cw, 5)
}

func TestSaveAndDeletePreset(t *testing.T) {
	s := openTestStore(t, false)
	ctx := context.Background()

	require.NoError(t, s.SaveFilterPreset(ctx, FilterPreset{Mode: "usb", Name: "ft8", Low: 200, High: 3000}))
	require.NoError(t, s.SaveFilterPreset(ctx, FilterPreset{Mode: "USB", Name: "ft8", Low: 100, High: 3100}))

	p, err := s.FilterPreset(ctx, "USB", "ft8")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Low)
	assert.Equal(t, 3100, p.High)

	assert.Error(t, s.SaveFilterPreset(ctx, FilterPreset{Mode: "USB", Name: "bad", Low: 500, High: 400}))

	require.NoError(t, s.DeleteFilterPreset(ctx, "USB", "ft8"))
	_, err = s.FilterPreset(ctx, "USB", "ft8")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteFilterPreset(ctx, "USB", "ft8"), ErrNotFound)
}

func TestMessageJournal(t *testing.T) {
	s := openTestStore(t, false)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordMessage(ctx, Message{
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
			Severity:   "warning",
			Code:       0x10000001 + uint32(i),
			Text:       fmt.Sprintf("message %d", i),
		}))
	}

	latest, err := s.Messages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "message 4", latest[0].Text)
	assert.Equal(t, uint32(0x10000005), latest[0].Code)
	assert.True(t, latest[0].ReceivedAt.Equal(base.Add(4*time.Second)))

	removed, err := s.PruneMessages(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	all, err := s.Messages(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "message 2", all[2].Text)
}

func TestJournalSubscriber(t *testing.T) {
	s := openTestStore(t, false)
	bus := events.NewEventBus()
	defer bus.Stop()
	s.SubscribeJournal(bus)

	bus.Emit(context.Background(), events.Event{
		Type: events.EventRadioMessage,
		Payload: events.RadioMessagePayload{
			Code:       0x30000002,
			Severity:   "fatal",
			Text:       "PA fault",
			ReceivedAt: time.Now(),
		},
	})
	bus.Flush()

	messages, err := s.Messages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "fatal", messages[0].Severity)
	assert.Equal(t, "PA fault", messages[0].Text)
}
