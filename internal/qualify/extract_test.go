package qualify

import (
	"testing"
)

func TestExtractJSONPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain object",
			raw:  `{"score": 7}`,
			want: `{"score": 7}`,
		},
		{
			name: "fenced with language",
			raw:  "```json\n{\"score\": 7}\n```",
			want: `{"score": 7}`,
		},
		{
			name: "fenced without language",
			raw:  "```\n{\"score\": 7}\n```",
			want: `{"score": 7}`,
		},
		{
			name: "prose around the object",
			raw:  `Вот результат анализа: {"score": 7} Удачи!`,
			want: `{"score": 7}`,
		},
		{
			name: "surrounding whitespace",
			raw:  "  \n {\"score\": 7} \n ",
			want: `{"score": 7}`,
		},
		{
			name: "no object at all",
			raw:  "не могу ответить",
			want: "не могу ответить",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := ExtractJSONPayload(tc.raw); got != tc.want {
				t.Errorf("ExtractJSONPayload(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestRecoverPartialBatch(t *testing.T) {
	t.Parallel()

	t.Run("truncated array keeps complete objects", func(t *testing.T) {
		t.Parallel()

		raw := `{"total_messages_analyzed": 120, "potential_leads": [` +
			`{"username": "@anna_beauty", "priority": "high"}, ` +
			`{"username": "@boris_auto", "priority": "medium"}, ` +
			`{"username": "@cut_off", "prior`

		payload := RecoverPartialBatch(raw, 50)
		if payload == nil {
			t.Fatal("RecoverPartialBatch() = nil, want recovered payload")
		}

		if recovered, _ := payload["recovered_from_truncated_json"].(bool); !recovered {
			t.Error("recovered_from_truncated_json flag not set")
		}
		leads, _ := payload["potential_leads"].([]any)
		if len(leads) != 2 {
			t.Fatalf("recovered leads = %d, want 2 complete objects", len(leads))
		}
		first, _ := leads[0].(map[string]any)
		if first["username"] != "@anna_beauty" {
			t.Errorf("first lead = %v, want @anna_beauty", first["username"])
		}

		stats, _ := payload["filtering_stats"].(map[string]any)
		if stats == nil {
			t.Fatal("filtering_stats missing from recovered payload")
		}
		if stats["analyzed"] != 50 {
			t.Errorf("analyzed = %v, want the caller's count 50", stats["analyzed"])
		}
		if stats["selected_for_detailed_analysis"] != 2 {
			t.Errorf("selected = %v, want 2", stats["selected_for_detailed_analysis"])
		}
	})

	t.Run("braces inside strings do not confuse the scan", func(t *testing.T) {
		t.Parallel()

		raw := `{"potential_leads": [` +
			`{"username": "@weird_one", "note": "скобка } в тексте и \" кавычка"}, ` +
			`{"username": "@tail", "no`

		payload := RecoverPartialBatch(raw, 10)
		if payload == nil {
			t.Fatal("RecoverPartialBatch() = nil, want recovered payload")
		}
		leads, _ := payload["potential_leads"].([]any)
		if len(leads) != 1 {
			t.Fatalf("recovered leads = %d, want 1", len(leads))
		}
	})

	t.Run("stops at the closing bracket", func(t *testing.T) {
		t.Parallel()

		raw := `{"potential_leads": [{"username": "@only_one"}], ` +
			`"filtering_stats": {"analyzed": 99, "username": "@not_a_lead"}}`

		payload := RecoverPartialBatch(raw, 10)
		if payload == nil {
			t.Fatal("RecoverPartialBatch() = nil, want recovered payload")
		}
		leads, _ := payload["potential_leads"].([]any)
		if len(leads) != 1 {
			t.Errorf("recovered leads = %d, want objects after ] ignored", len(leads))
		}
	})

	t.Run("nothing to recover", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			raw  string
		}{
			{name: "no leads key", raw: `{"score": 7}`},
			{name: "objects without usernames", raw: `{"potential_leads": [{"priority": "high"}, {"pri`},
			{name: "empty response", raw: ""},
		}
		for _, tc := range tests {
			if payload := RecoverPartialBatch(tc.raw, 5); payload != nil {
				t.Errorf("%s: RecoverPartialBatch() = %v, want nil", tc.name, payload)
			}
		}
	})
}
