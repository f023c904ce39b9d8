package hosttime

import (
	"errors"
	"testing"
	"time"
)

func TestSimRecordsLastSetTime(t *testing.T) {
	s := NewSim()
	want := time.Unix(1_700_000_000, 0).UTC()
	if err := s.SetTime(want); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	if !s.Last().Equal(want) {
		t.Fatalf("Last() = %v, want %v", s.Last(), want)
	}
}

func TestSimFailNext(t *testing.T) {
	s := NewSim()
	boom := errors.New("boom")
	s.FailNext(boom)
	if err := s.SetTime(time.Now()); !errors.Is(err, boom) {
		t.Fatalf("SetTime error = %v, want %v", err, boom)
	}
}
