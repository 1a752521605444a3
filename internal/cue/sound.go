package cue

import (
	"math"
	"time"
)

type kind int

const (
	cueKey kind = iota + 1
	cueError
	cueComplete
	cueWarning
)

func (k kind) String() string {
	switch k {
	case cueKey:
		return "key"
	case cueError:
		return "error"
	case cueComplete:
		return "complete"
	case cueWarning:
		return "warning"
	default:
		return "unknown"
	}
}

const sampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	keyPCM = synthesizeCue([]toneSpec{
		{frequencyHz: 1320, duration: 35 * time.Millisecond, volume: 0.14},
	})
	errorPCM = synthesizeCue([]toneSpec{
		{frequencyHz: 330, duration: 140 * time.Millisecond, volume: 0.2},
		{frequencyHz: 247, duration: 180 * time.Millisecond, volume: 0.2},
	})
	completePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 740, duration: 65 * time.Millisecond, volume: 0.18},
		{frequencyHz: 988, duration: 90 * time.Millisecond, volume: 0.18},
	})
	warningPCM = synthesizeCue([]toneSpec{
		{frequencyHz: 880, duration: 90 * time.Millisecond, volume: 0.2},
		{frequencyHz: 880, duration: 90 * time.Millisecond, volume: 0.2},
		{frequencyHz: 880, duration: 90 * time.Millisecond, volume: 0.2},
	})
)

func samples(k kind) []int16 {
	switch k {
	case cueKey:
		return keyPCM
	case cueError:
		return errorPCM
	case cueComplete:
		return completePCM
	case cueWarning:
		return warningPCM
	default:
		return nil
	}
}

func synthesizeCue(parts []toneSpec) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gapSamples := samplesForDuration(22 * time.Millisecond)
	total := 0
	for i, part := range parts {
		total += samplesForDuration(part.duration)
		if i < len(parts)-1 {
			total += gapSamples
		}
	}

	pcm := make([]int16, 0, total)
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 && gapSamples > 0 {
			pcm = append(pcm, make([]int16, gapSamples)...)
		}
	}
	return pcm
}

// synthesizeTone renders one sine burst with a short linear attack and release so it does not click.
func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := n / 10
	if maxRamp := sampleRate / 200; ramp > maxRamp {
		ramp = maxRamp
	}
	if ramp < 1 {
		ramp = 1
	}

	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			if release := float64(tail) / float64(ramp); release < envelope {
				envelope = release
			}
		}
		t := float64(i) / sampleRate
		pcm[i] = int16(math.Round(math.Sin(2*math.Pi*spec.frequencyHz*t) * spec.volume * envelope * 32767))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * sampleRate))
}
