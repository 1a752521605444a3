// Package cue plays the kiosk's audible feedback: key beeps, error buzzes, completion chimes and the
// session timeout warning.
package cue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/teller/internal/audio"
	"github.com/rbright/teller/internal/config"
	"github.com/rbright/teller/internal/logging"
)

type playFunc func(ctx context.Context, sinkID string, samples []int16, mediaName string) error

type selectFunc func(ctx context.Context, sink, fallback string) (audio.Selection, error)

// Player emits cues asynchronously, one at a time, on the configured sink.
type Player struct {
	cfg    config.CueConfig
	logger *slog.Logger
	play   playFunc
	choose selectFunc

	soundMu  sync.Mutex
	resolved bool
	sinkID   string
	pending  sync.WaitGroup
}

// NewPlayer builds a player from config. The sink is resolved on the first cue.
func NewPlayer(cfg config.CueConfig, logger *slog.Logger) *Player {
	return &Player{
		cfg:    cfg,
		logger: logging.OrDiscard(logger),
		play:   audio.Play,
		choose: audio.SelectDevice,
	}
}

// Key acknowledges a key press.
func (p *Player) Key(ctx context.Context) {
	if !p.cfg.KeyBeep {
		return
	}
	p.emit(ctx, cueKey)
}

// Error signals a failed request.
func (p *Player) Error(ctx context.Context) { p.emit(ctx, cueError) }

// Complete signals a successful transaction.
func (p *Player) Complete(ctx context.Context) { p.emit(ctx, cueComplete) }

// Warning signals that the session is about to time out.
func (p *Player) Warning(ctx context.Context) { p.emit(ctx, cueWarning) }

// Wait blocks until queued cues have played.
func (p *Player) Wait() {
	p.pending.Wait()
}

func (p *Player) emit(ctx context.Context, k kind) {
	if !p.cfg.Enable {
		return
	}
	pcm := samples(k)
	if len(pcm) == 0 {
		return
	}

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.soundMu.Lock()
		defer p.soundMu.Unlock()

		playCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := p.play(playCtx, p.sinkLocked(playCtx), pcm, "teller "+k.String()+" cue"); err != nil {
			p.logger.Debug("audio cue failed", "cue", k.String(), "error", err.Error())
		}
	}()
}

// sinkLocked resolves the configured sink once. Failures fall back to the server default.
func (p *Player) sinkLocked(ctx context.Context) string {
	if p.resolved {
		return p.sinkID
	}
	p.resolved = true

	if p.cfg.Sink == "" || p.cfg.Sink == "default" {
		return ""
	}
	selection, err := p.choose(ctx, p.cfg.Sink, p.cfg.Fallback)
	if err != nil {
		p.logger.Warn("cue sink selection failed; using server default", "error", err.Error())
		return ""
	}
	if selection.Warning != "" {
		p.logger.Warn(selection.Warning)
	}
	p.sinkID = selection.Device.ID
	return p.sinkID
}
