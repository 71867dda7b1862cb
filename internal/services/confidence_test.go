package services

import "testing"

func TestShouldContinueQuestioning(t *testing.T) {
	cfg := DefaultConfidenceConfig()

	cases := []struct {
		name    string
		current int
		target  int
		asked   int
		want    bool
	}{
		{
			name:    "low_confidence_keeps_going",
			current: 40,
			target:  90,
			asked:   2,
			want:    true,
		},
		{
			name:    "target_reached_stops",
			current: 90,
			target:  90,
			asked:   3,
			want:    false,
		},
		{
			name:    "above_target_stops",
			current: 95,
			target:  90,
			asked:   2,
			want:    false,
		},
		{
			name:    "early_stop_needs_min_questions",
			current: 86,
			target:  90,
			asked:   4,
			want:    true,
		},
		{
			name:    "early_stop_at_min_questions",
			current: 86,
			target:  90,
			asked:   5,
			want:    false,
		},
		{
			name:    "max_questions_hard_stop",
			current: 10,
			target:  90,
			asked:   6,
			want:    false,
		},
		{
			name:    "max_questions_beats_everything",
			current: 10,
			target:  90,
			asked:   7,
			want:    false,
		},
		{
			name:    "just_under_early_stop_keeps_going",
			current: 84,
			target:  90,
			asked:   5,
			want:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := shouldContinueQuestioning(tc.current, tc.target, tc.asked, cfg)
			if got != tc.want {
				t.Fatalf("shouldContinueQuestioning(%d, %d, %d)=%v, want %v", tc.current, tc.target, tc.asked, got, tc.want)
			}
		})
	}
}

func TestQuestioningSequenceStopsAtMax(t *testing.T) {
	cfg := DefaultConfidenceConfig()
	confidences := []int{40, 55, 65, 72, 80, 88}

	asked := 0
	for _, conf := range confidences {
		asked++
		if !shouldContinueQuestioning(conf, 95, asked, cfg) {
			break
		}
	}
	if asked != 6 {
		t.Fatalf("expected questioning to stop after 6 questions, stopped after %d", asked)
	}
	if shouldContinueQuestioning(88, 95, asked, cfg) {
		t.Fatalf("expected no further questions after hitting the maximum")
	}
}
