package state

import (
	"testing"
	"time"
)

func TestAmbientSequenceFencing(t *testing.T) {
	t.Parallel()

	s := New(1.0, 2.0)

	seq1 := s.StartAmbient("rain")
	if !s.MatchesAmbient(seq1) {
		t.Fatal("current sequence rejected")
	}

	seq2 := s.StartAmbient("ocean")
	if seq2 != seq1+1 {
		t.Errorf("sequence = %d, want %d (monotonic increment)", seq2, seq1+1)
	}
	if s.MatchesAmbient(seq1) {
		t.Error("stale sequence accepted after a new stream started")
	}
	if !s.MatchesAmbient(seq2) {
		t.Error("current sequence rejected")
	}
}

func TestStopAmbient_KeepsIdentity(t *testing.T) {
	t.Parallel()

	s := New(1.0, 2.0)
	seq := s.StartAmbient("rain")
	s.StopAmbient()

	if s.MatchesAmbient(seq) {
		t.Error("inactive stream still matches")
	}
	name, gotSeq, active := s.Ambient()
	if active {
		t.Error("active = true after StopAmbient")
	}
	if name != "rain" || gotSeq != seq {
		t.Errorf("identity = (%q, %d), want (rain, %d) preserved for resume", name, gotSeq, seq)
	}
}

func TestVolumeClamp(t *testing.T) {
	t.Parallel()

	s := New(1.0, 2.0)

	s.SetVolume(5)
	if got := s.Volume(); got != 2.0 {
		t.Errorf("Volume = %v, want clamp to 2.0", got)
	}
	s.SetVolume(-1)
	if got := s.Volume(); got != 0 {
		t.Errorf("Volume = %v, want clamp to 0", got)
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()

	s := New(1.0, 2.0)
	if s.WindowOpen() {
		t.Fatal("window open initially")
	}

	now := time.Now()
	s.OpenWindow(now)
	if !s.WindowOpen() {
		t.Fatal("window not open after OpenWindow")
	}
	if got := s.WindowOpenedAt(); !got.Equal(now) {
		t.Errorf("WindowOpenedAt = %v, want %v", got, now)
	}

	s.CloseWindow()
	if s.WindowOpen() {
		t.Error("window still open after CloseWindow")
	}
}

func TestHealthCounters(t *testing.T) {
	t.Parallel()

	s := New(1.0, 2.0)
	s.CountSendFailure()
	s.CountSendFailure()
	s.CountDisconnect()
	s.CountAdmissionDrop()
	s.CountStaleDrop()
	now := time.Now()
	s.MarkSendSuccess(now)

	h := s.Health()
	if h.SendFailures != 2 || h.Disconnects != 1 || h.AdmissionDrops != 1 || h.StaleDrops != 1 {
		t.Errorf("snapshot = %+v", h)
	}
	if !h.LastSendSuccess.Equal(now) {
		t.Errorf("LastSendSuccess = %v, want %v", h.LastSendSuccess, now)
	}
}
