package cue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbright/teller/internal/audio"
	"github.com/rbright/teller/internal/config"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	played []string
	sinks  []string
}

func (r *recorder) play(_ context.Context, sinkID string, samples []int16, mediaName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(samples) == 0 {
		return errors.New("empty cue")
	}
	r.played = append(r.played, mediaName)
	r.sinks = append(r.sinks, sinkID)
	return nil
}

func newTestPlayer(cfg config.CueConfig, rec *recorder, choose selectFunc) *Player {
	p := NewPlayer(cfg, nil)
	p.play = rec.play
	if choose != nil {
		p.choose = choose
	}
	return p
}

func TestCueSamplesPresent(t *testing.T) {
	require.NotEmpty(t, samples(cueKey))
	require.NotEmpty(t, samples(cueError))
	require.NotEmpty(t, samples(cueComplete))
	require.NotEmpty(t, samples(cueWarning))
	require.Empty(t, samples(kind(99)))
}

func TestSynthesizeToneDuration(t *testing.T) {
	got := synthesizeTone(toneSpec{frequencyHz: 440, duration: 100 * time.Millisecond, volume: 0.2})
	require.Len(t, got, samplesForDuration(100*time.Millisecond))
	require.Equal(t, int16(0), got[0], "attack starts from silence")
}

func TestSynthesizeToneInvalidSpecReturnsEmpty(t *testing.T) {
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 0, duration: 100 * time.Millisecond, volume: 0.2}))
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 440, duration: 0, volume: 0.2}))
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 440, duration: 100 * time.Millisecond, volume: 0}))
}

func TestSynthesizeCueInsertsGaps(t *testing.T) {
	parts := []toneSpec{
		{frequencyHz: 440, duration: 50 * time.Millisecond, volume: 0.1},
		{frequencyHz: 660, duration: 50 * time.Millisecond, volume: 0.1},
	}
	want := 2*samplesForDuration(50*time.Millisecond) + samplesForDuration(22*time.Millisecond)
	require.Len(t, synthesizeCue(parts), want)
	require.Nil(t, synthesizeCue(nil))
}

func TestPlayerPlaysCuesInOrder(t *testing.T) {
	rec := &recorder{}
	p := newTestPlayer(config.CueConfig{Enable: true, KeyBeep: true}, rec, nil)
	ctx := context.Background()

	p.Key(ctx)
	p.Wait()
	p.Error(ctx)
	p.Wait()
	p.Complete(ctx)
	p.Wait()
	p.Warning(ctx)
	p.Wait()

	require.Equal(t, []string{"teller key cue", "teller error cue", "teller complete cue", "teller warning cue"}, rec.played)
	require.Equal(t, []string{"", "", "", ""}, rec.sinks)
}

func TestPlayerDisabledOrKeyBeepOff(t *testing.T) {
	rec := &recorder{}
	p := newTestPlayer(config.CueConfig{Enable: false, KeyBeep: true}, rec, nil)
	p.Error(context.Background())
	p.Wait()
	require.Empty(t, rec.played)

	p = newTestPlayer(config.CueConfig{Enable: true, KeyBeep: false}, rec, nil)
	p.Key(context.Background())
	p.Wait()
	require.Empty(t, rec.played)
}

func TestPlayerResolvesSinkOnce(t *testing.T) {
	rec := &recorder{}
	var calls []string
	choose := func(_ context.Context, sink, fallback string) (audio.Selection, error) {
		calls = append(calls, sink+"|"+fallback)
		return audio.Selection{Device: audio.Device{ID: "alsa_output.hdmi"}, Warning: "speaker muted", Fallback: true}, nil
	}
	p := newTestPlayer(config.CueConfig{Enable: true, Sink: "speaker", Fallback: "hdmi"}, rec, choose)

	p.Error(context.Background())
	p.Wait()
	p.Complete(context.Background())
	p.Wait()

	require.Equal(t, []string{"speaker|hdmi"}, calls)
	require.Equal(t, []string{"alsa_output.hdmi", "alsa_output.hdmi"}, rec.sinks)
}

func TestPlayerFallsBackToDefaultSinkOnSelectionError(t *testing.T) {
	rec := &recorder{}
	choose := func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{}, errors.New("no audio output devices found")
	}
	p := newTestPlayer(config.CueConfig{Enable: true, Sink: "speaker"}, rec, choose)

	p.Complete(context.Background())
	p.Wait()
	require.Equal(t, []string{""}, rec.sinks)
}
