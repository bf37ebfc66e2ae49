// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClockStandsStill(t *testing.T) {
	epoch := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	fake := Fake(epoch)

	if !fake.Now().Equal(epoch) {
		t.Errorf("Now() = %v, want %v", fake.Now(), epoch)
	}
	if !fake.Now().Equal(fake.Now()) {
		t.Error("successive Now() calls differ without Advance")
	}
}

func TestFakeClockAdvance(t *testing.T) {
	epoch := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	fake := Fake(epoch)

	fake.Advance(90 * time.Second)
	want := epoch.Add(90 * time.Second)
	if !fake.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", fake.Now(), want)
	}
}

func TestFakeClockSet(t *testing.T) {
	fake := Fake(time.Unix(0, 0))
	target := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	fake.Set(target)
	if !fake.Now().Equal(target) {
		t.Errorf("Now() after Set = %v, want %v", fake.Now(), target)
	}
}

func TestRealClockTracksWallTime(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real().Now() = %v outside [%v, %v]", got, before, after)
	}
}
