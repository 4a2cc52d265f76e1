package diarization

import (
	"testing"

	"medscribe/internal/services/diarizer"
	"medscribe/internal/services/whisper"
)

func TestRoleLabelsBySpeakingTime(t *testing.T) {
	turns := []diarizer.Turn{
		{Speaker: "SPEAKER_00", Start: 0, End: 2},
		{Speaker: "SPEAKER_01", Start: 2, End: 10},
		{Speaker: "SPEAKER_02", Start: 10, End: 11},
		{Speaker: "SPEAKER_00", Start: 11, End: 14},
	}
	labels := RoleLabels(turns)
	want := map[string]string{
		"SPEAKER_01": LabelClinician,
		"SPEAKER_00": LabelPatient,
		"SPEAKER_02": "Speaker 3",
	}
	for speaker, label := range want {
		if labels[speaker] != label {
			t.Fatalf("speaker %s: got %q want %q", speaker, labels[speaker], label)
		}
	}
}

func TestRoleLabelsSingleSpeaker(t *testing.T) {
	labels := RoleLabels([]diarizer.Turn{{Speaker: "A", Start: 0, End: 5}})
	if labels["A"] != LabelSingle {
		t.Fatalf("expected single speaker label, got %#v", labels)
	}
	if len(RoleLabels(nil)) != 0 {
		t.Fatal("expected no labels without turns")
	}
}

func TestMergeSegmentsByOverlap(t *testing.T) {
	turns := []diarizer.Turn{
		{Speaker: "A", Start: 0, End: 4},
		{Speaker: "B", Start: 4, End: 6},
		{Speaker: "A", Start: 6, End: 10},
	}
	segments := []whisper.Segment{
		{Start: 0, End: 2, Text: "What brings you in?"},
		{Start: 2, End: 4.5, Text: "Any fever?"},
		{Start: 4.4, End: 6, Text: "A headache."},
		{Start: 6, End: 9, Text: "Let us check."},
		{Start: 12, End: 13, Text: "Bye."},
		{Start: 13, End: 14, Text: "  "},
	}
	labels := RoleLabels(turns)
	got := Format(MergeSegments(turns, segments, labels))
	want := "Clinician: What brings you in? Any fever?\nPatient: A headache.\nClinician: Let us check. Bye."
	if got != want {
		t.Fatalf("unexpected merge:\n%s\nwant:\n%s", got, want)
	}
}

func TestSplitByDuration(t *testing.T) {
	turns := []diarizer.Turn{
		{Speaker: "A", Start: 0, End: 6},
		{Speaker: "B", Start: 6, End: 9},
		{Speaker: "A", Start: 9, End: 10},
	}
	labels := RoleLabels(turns)
	lines := SplitByDuration(turns, "one two three four five six seven eight nine ten eleven", labels)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	// 11 words over 10s: 6, 3, 1, remainder 1 to the last turn.
	want := []string{"one two three four five six", "seven eight nine", "ten eleven"}
	for i, w := range want {
		if lines[i].Text != w {
			t.Fatalf("line %d: got %q want %q", i, lines[i].Text, w)
		}
	}
	if lines[0].Speaker != LabelClinician || lines[1].Speaker != LabelPatient {
		t.Fatalf("unexpected speakers %#v", lines)
	}
}

func TestSplitByDurationRunsOutOfWords(t *testing.T) {
	turns := []diarizer.Turn{
		{Speaker: "A", Start: 0, End: 1},
		{Speaker: "B", Start: 1, End: 2},
		{Speaker: "A", Start: 2, End: 3},
	}
	lines := SplitByDuration(turns, "hello there", RoleLabels(turns))
	if got := Format(lines); got != "Clinician: hello\nPatient: there" {
		t.Fatalf("unexpected output %q", got)
	}
	if SplitByDuration(turns, "   ", nil) != nil {
		t.Fatal("expected nil for empty transcript")
	}
}
