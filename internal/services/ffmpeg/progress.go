package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
)

// progressParser accumulates the key=value blocks ffmpeg writes with
// -progress. A block ends at the "progress=" key, at which point one
// ProgressUpdate is emitted.
type progressParser struct {
	durationSeconds float64
	outTime         float64
	fps             float64
	speed           float64
	sawAny          bool
}

func newProgressParser(durationSeconds float64) *progressParser {
	return &progressParser{durationSeconds: durationSeconds}
}

func (p *progressParser) feed(line string) (ProgressUpdate, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return ProgressUpdate{}, false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg historically wrote microseconds under both names.
		if us, err := strconv.ParseFloat(value, 64); err == nil && us >= 0 {
			p.outTime = us / 1e6
			p.sawAny = true
		}
	case "out_time":
		if seconds, ok := parseClock(value); ok {
			p.outTime = seconds
			p.sawAny = true
		}
	case "fps":
		if fps, err := strconv.ParseFloat(value, 64); err == nil && fps >= 0 {
			p.fps = fps
		}
	case "speed":
		if speed, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil && speed >= 0 {
			p.speed = speed
		}
	case "progress":
		if !p.sawAny && value != "end" {
			return ProgressUpdate{}, false
		}
		update := ProgressUpdate{
			Percent: p.percent(value == "end"),
			FPS:     p.fps,
			Speed:   p.speed,
			OutTime: p.outTime,
		}
		return update, true
	}
	return ProgressUpdate{}, false
}

func (p *progressParser) percent(final bool) float64 {
	if final {
		return 100
	}
	if p.durationSeconds <= 0 {
		return 0
	}
	percent := p.outTime / p.durationSeconds * 100
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// parseClock parses HH:MM:SS.micros timestamps.
func parseClock(value string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.ParseFloat(parts[0], 64)
	minutes, err2 := strconv.ParseFloat(parts[1], 64)
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	total := hours*3600 + minutes*60 + seconds
	if total < 0 {
		return 0, false
	}
	return total, true
}

var vmafScorePattern = regexp.MustCompile(`VMAF score[:=]\s*([0-9]+(?:\.[0-9]+)?)`)

// parseVmafScore pulls the pooled score out of libvmaf's log output.
func parseVmafScore(output string) (float64, bool) {
	matches := vmafScorePattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	// The pooled score is logged last.
	last := matches[len(matches)-1]
	score, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return 0, false
	}
	return score, true
}
