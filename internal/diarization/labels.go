package diarization

import (
	"fmt"
	"sort"
	"strings"

	"medscribe/internal/services/diarizer"
	"medscribe/internal/services/whisper"
)

// Role labels assigned by speaking time.
const (
	LabelClinician = "Clinician"
	LabelPatient   = "Patient"
	LabelSingle    = "Speaker"
)

// Line is one speaker-attributed stretch of transcript.
type Line struct {
	Speaker string
	Start   float64
	End     float64
	Text    string
}

// RoleLabels maps raw speaker ids to role labels. The speaker with the most
// speaking time becomes the clinician, the second the patient, and any
// others "Speaker N" counting from 3. A lone speaker is labeled "Speaker".
func RoleLabels(turns []diarizer.Turn) map[string]string {
	totals := map[string]float64{}
	var order []string
	for _, turn := range turns {
		if _, seen := totals[turn.Speaker]; !seen {
			order = append(order, turn.Speaker)
		}
		totals[turn.Speaker] += turn.Duration()
	}
	sort.SliceStable(order, func(i, j int) bool { return totals[order[i]] > totals[order[j]] })

	labels := make(map[string]string, len(order))
	switch len(order) {
	case 0:
	case 1:
		labels[order[0]] = LabelSingle
	default:
		labels[order[0]] = LabelClinician
		labels[order[1]] = LabelPatient
		for i, speaker := range order[2:] {
			labels[speaker] = fmt.Sprintf("Speaker %d", i+3)
		}
	}
	return labels
}

// MergeSegments assigns every timed segment to the turn it overlaps most.
// Segments that overlap no turn go to the nearest one. Consecutive segments
// of the same speaker are joined into a single line.
func MergeSegments(turns []diarizer.Turn, segments []whisper.Segment, labels map[string]string) []Line {
	if len(turns) == 0 {
		return nil
	}
	var lines []Line
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		speaker := labelFor(labels, turns[bestTurn(turns, seg)].Speaker)
		if n := len(lines); n > 0 && lines[n-1].Speaker == speaker {
			lines[n-1].Text += " " + text
			lines[n-1].End = seg.End
			continue
		}
		lines = append(lines, Line{Speaker: speaker, Start: seg.Start, End: seg.End, Text: text})
	}
	return lines
}

func bestTurn(turns []diarizer.Turn, seg whisper.Segment) int {
	best, bestOverlap := -1, 0.0
	for i, turn := range turns {
		overlap := min(turn.End, seg.End) - max(turn.Start, seg.Start)
		if overlap > bestOverlap {
			best, bestOverlap = i, overlap
		}
	}
	if best >= 0 {
		return best
	}
	mid := (seg.Start + seg.End) / 2
	best, bestDistance := 0, -1.0
	for i, turn := range turns {
		distance := 0.0
		switch {
		case mid < turn.Start:
			distance = turn.Start - mid
		case mid > turn.End:
			distance = mid - turn.End
		}
		if bestDistance < 0 || distance < bestDistance {
			best, bestDistance = i, distance
		}
	}
	return best
}

// SplitByDuration distributes transcript words across turns in proportion to
// turn duration. Every turn gets at least one word until the words run out,
// and any remainder goes to the last turn.
func SplitByDuration(turns []diarizer.Turn, transcript string, labels map[string]string) []Line {
	words := strings.Fields(transcript)
	if len(words) == 0 || len(turns) == 0 {
		return nil
	}
	total := 0.0
	for _, turn := range turns {
		total += turn.Duration()
	}
	if total <= 0 {
		return nil
	}

	lines := make([]Line, len(turns))
	idx := 0
	for i, turn := range turns {
		lines[i] = Line{Speaker: labelFor(labels, turn.Speaker), Start: turn.Start, End: turn.End}
		if idx >= len(words) {
			continue
		}
		count := max(1, int(float64(len(words))*turn.Duration()/total))
		end := min(idx+count, len(words))
		lines[i].Text = strings.Join(words[idx:end], " ")
		idx = end
	}
	if idx < len(words) {
		last := &lines[len(lines)-1]
		last.Text = strings.TrimSpace(last.Text + " " + strings.Join(words[idx:], " "))
	}
	return lines
}

// Format renders lines as "Label: text", one per line, skipping empty text.
func Format(lines []Line) string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line.Text); text != "" {
			out = append(out, line.Speaker+": "+text)
		}
	}
	return strings.Join(out, "\n")
}

func labelFor(labels map[string]string, speaker string) string {
	if label, ok := labels[speaker]; ok {
		return label
	}
	return speaker
}
