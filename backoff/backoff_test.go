package backoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/alex-ant/gomath/rational"

	"github.com/qiniu/go-tus/backoff"
)

func TestDelaysBackoff(t *testing.T) {
	b := backoff.NewDelaysBackoff([]time.Duration{0, time.Second, 3 * time.Second})
	expected := []time.Duration{0, time.Second, 3 * time.Second, 3 * time.Second}
	for attempts, wait := range expected {
		if got := b.Time(context.Background(), &backoff.BackoffOptions{Attempts: attempts}); got != wait {
			t.Fatalf("attempt %d: unexpected wait %s", attempts, got)
		}
	}
	if b.Time(context.Background(), nil) != 0 {
		t.Fatal("unexpected")
	}
	if backoff.NewDelaysBackoff(nil).Time(context.Background(), &backoff.BackoffOptions{Attempts: 3}) != 0 {
		t.Fatal("unexpected")
	}
}

func TestRandomizedBackoff(t *testing.T) {
	b := backoff.NewRandomizedBackoff(backoff.NewDelaysBackoff([]time.Duration{100, 1000}), rational.New(1, 2), rational.New(3, 2))
	for i := 0; i < 1000; i++ {
		if wait := b.Time(context.Background(), &backoff.BackoffOptions{Attempts: 0}); wait < 50 || wait > 150 {
			t.Fatalf("unexpected wait %s", wait)
		}
		if wait := b.Time(context.Background(), &backoff.BackoffOptions{Attempts: 1}); wait < 500 || wait > 1500 {
			t.Fatalf("unexpected wait %s", wait)
		}
	}
}

func TestRandomizedZeroBackoff(t *testing.T) {
	b := backoff.NewRandomizedBackoff(backoff.NewDelaysBackoff([]time.Duration{0}), rational.New(1, 2), rational.New(3, 2))
	if wait := b.Time(context.Background(), &backoff.BackoffOptions{}); wait != 0 {
		t.Fatal("unexpected")
	}
}

func TestJitteredBackoff(t *testing.T) {
	base := backoff.NewDelaysBackoff([]time.Duration{1000})
	for i := 0; i < 100; i++ {
		if backoff.NewJitteredBackoff(base, 0).Time(context.Background(), &backoff.BackoffOptions{}) != 1000 {
			t.Fatal("zero jitter should keep the base backoff")
		}
	}

	b := backoff.NewJitteredBackoff(base, 20)
	varied := false
	for i := 0; i < 1000; i++ {
		wait := b.Time(context.Background(), &backoff.BackoffOptions{})
		if wait < 800 || wait > 1200 {
			t.Fatalf("unexpected wait %s", wait)
		}
		varied = varied || wait != 1000
	}
	if !varied {
		t.Fatal("jitter was not applied")
	}

	b = backoff.NewJitteredBackoff(base, 150)
	for i := 0; i < 1000; i++ {
		if wait := b.Time(context.Background(), &backoff.BackoffOptions{}); wait < 0 || wait > 2000 {
			t.Fatalf("unexpected wait %s", wait)
		}
	}
}
