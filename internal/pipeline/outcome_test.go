package pipeline

import "testing"

func TestDecodeOutcomesList(t *testing.T) {
	raw := `[
		{"kind":"success","start_page":11,"end_page":20,"artifact_path":"/tmp/b.pdf"},
		{"kind":"failure","start_page":1,"end_page":10,"cause":"exit status 2"}
	]`
	outcomes, err := DecodeOutcomes([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeOutcomes returned error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	s, ok := outcomes[0].(Success)
	if !ok || s.ArtifactPath != "/tmp/b.pdf" || s.Range() != (PageRange{11, 20}) {
		t.Fatalf("unexpected first outcome: %#v", outcomes[0])
	}
	f, ok := outcomes[1].(Failure)
	if !ok || f.Cause != "exit status 2" || f.Start != 1 {
		t.Fatalf("unexpected second outcome: %#v", outcomes[1])
	}
}

func TestDecodeOutcomesSingleObject(t *testing.T) {
	payload, err := MarshalOutcome(Success{PageRange: PageRange{1, 10}, ArtifactPath: "/tmp/a.pdf"})
	if err != nil {
		t.Fatalf("MarshalOutcome returned error: %v", err)
	}
	outcomes, err := DecodeOutcomes(payload)
	if err != nil {
		t.Fatalf("DecodeOutcomes returned error: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected single object to become one outcome, got %d", len(outcomes))
	}
}

func TestDecodeOutcomesErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code string
	}{
		{"empty", "  ", CodeAggregationFormat},
		{"scalar", `42`, CodeAggregationFormat},
		{"string", `"done"`, CodeAggregationFormat},
		{"element not object", `[1]`, CodeAggregationFormat},
		{"unknown kind", `{"kind":"maybe","start_page":1,"end_page":2}`, CodeAggregationFormat},
		{"missing kind", `{"start_page":1,"end_page":2}`, CodeAggregationKey},
		{"missing start", `[{"kind":"failure","end_page":2}]`, CodeAggregationKey},
		{"missing artifact", `{"kind":"success","start_page":1,"end_page":2}`, CodeAggregationKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeOutcomes([]byte(tc.raw))
			if !HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if !IsAggregationError(err) {
				t.Fatalf("expected aggregation error, got %v", err)
			}
		})
	}
}
