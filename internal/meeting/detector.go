package meeting

import (
	"fmt"
	"regexp"
)

// Detector picks the speaker for a piece of transcribed text.
// A diarization backend can replace the marker heuristic by implementing it.
type Detector interface {
	DetectSpeaker(text string, timestamp int64) string
}

// [Speaker 2]: / Sprecher 2: / speaker2:
var speakerMarker = regexp.MustCompile(`(?i)\[?\b(?:speaker|sprecher)\s*(\d+)\s*\]?\s*:`)

// MarkerDetector resolves explicit speaker markers in the text, otherwise keeps
// the active speaker, creating one when the meeting has none yet.
// Without markers every segment lands on a single auto-created speaker.
type MarkerDetector struct {
	registry *Registry
}

func NewMarkerDetector(registry *Registry) *MarkerDetector {
	return &MarkerDetector{registry: registry}
}

func (d *MarkerDetector) DetectSpeaker(text string, timestamp int64) string {
	if label, ok := markerLabel(text); ok {
		sp, found := d.registry.FindByLabel(label)
		if !found {
			sp = d.registry.Create(label)
		}
		d.registry.SetActive(sp.ID)
		return sp.ID
	}

	if active := d.registry.Active(); active != "" {
		return active
	}

	sp := d.registry.Create("")
	d.registry.SetActive(sp.ID)
	return sp.ID
}

// markerLabel normalizes both marker spellings to "Speaker N"
func markerLabel(text string) (string, bool) {
	m := speakerMarker.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("Speaker %s", m[1]), true
}
