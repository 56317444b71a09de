package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePurger struct {
	cutoff time.Time
	n      int64
	err    error
}

func (p *fakePurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.n, p.err
}

func TestSweeper_SweepOnce(t *testing.T) {
	p := &fakePurger{n: 7}
	s := NewSweeper(p, 90, time.Hour, zerolog.Nop())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 deleted, got %d", n)
	}
	want := now.Add(-90 * 24 * time.Hour)
	if !p.cutoff.Equal(want) {
		t.Errorf("expected cutoff %s, got %s", want, p.cutoff)
	}
}

func TestSweeper_Defaults(t *testing.T) {
	s := NewSweeper(&fakePurger{}, 0, 0, zerolog.Nop())
	if s.retention != 90*24*time.Hour {
		t.Errorf("expected 90 day default, got %s", s.retention)
	}
	if s.interval != 24*time.Hour {
		t.Errorf("expected 24h default interval, got %s", s.interval)
	}
}

func TestSweeper_Error(t *testing.T) {
	p := &fakePurger{err: errors.New("db down")}
	s := NewSweeper(p, 30, time.Hour, zerolog.Nop())
	if _, err := s.SweepOnce(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	p := &fakePurger{}
	s := NewSweeper(p, 30, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
