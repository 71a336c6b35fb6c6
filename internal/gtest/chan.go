package gtest

import (
	"testing"
	"time"
)

// ScaleMs returns ms milliseconds as a duration.
// Tests route every timing assumption through it so the scale can be adjusted in one place.
func ScaleMs(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ReceiveSoon returns the value received from ch,
// failing the test if no value arrives within a short deadline.
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScaleMs(500))
	defer timer.Stop()

	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed before value received")
		}
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", ScaleMs(500))
	}

	panic("unreachable")
}

// NotSending fails the test if ch has a value ready within a brief window.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(ScaleMs(20))
	defer timer.Stop()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, got %v", v)
	case <-timer.C:
	}
}

// SendSoon sends v on ch, failing the test if the send blocks past a short deadline.
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScaleMs(500))
	defer timer.Stop()

	select {
	case ch <- v:
	case <-timer.C:
		t.Fatalf("send blocked for %s", ScaleMs(500))
	}
}
