package call

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestCandidateBufferDrainOrder(t *testing.T) {
	var b CandidateBuffer
	for _, c := range []string{`"a"`, `"b"`, `"c"`} {
		b.Enqueue(json.RawMessage(c))
	}
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}

	var got []string
	errs := b.DrainAndApply(func(raw json.RawMessage) error {
		got = append(got, string(raw))
		return nil
	})

	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if want := []string{`"a"`, `"b"`, `"c"`}; !reflect.DeepEqual(got, want) {
		t.Errorf("applied %v, want %v", got, want)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d after drain", b.Len())
	}

	calls := 0
	b.DrainAndApply(func(json.RawMessage) error { calls++; return nil })
	if calls != 0 {
		t.Errorf("second drain applied %d candidates", calls)
	}
}

func TestCandidateBufferReportsFailuresAndContinues(t *testing.T) {
	var b CandidateBuffer
	b.Enqueue(json.RawMessage(`"good"`))
	b.Enqueue(json.RawMessage(`"broken"`))
	b.Enqueue(json.RawMessage(`"also-good"`))

	var applied []string
	errs := b.DrainAndApply(func(raw json.RawMessage) error {
		if string(raw) == `"broken"` {
			return errors.New("cannot parse")
		}
		applied = append(applied, string(raw))
		return nil
	})

	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if want := []string{`"good"`, `"also-good"`}; !reflect.DeepEqual(applied, want) {
		t.Errorf("applied %v, want %v", applied, want)
	}
}

func TestCandidateBufferEnqueueDuringDrain(t *testing.T) {
	var b CandidateBuffer
	b.Enqueue(json.RawMessage(`1`))

	b.DrainAndApply(func(json.RawMessage) error {
		b.Enqueue(json.RawMessage(`2`))
		return nil
	})

	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want the candidate queued during drain", b.Len())
	}
}

func TestCandidateBufferReset(t *testing.T) {
	var b CandidateBuffer
	b.Enqueue(json.RawMessage(`1`))
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() = %d after Reset", b.Len())
	}
}
