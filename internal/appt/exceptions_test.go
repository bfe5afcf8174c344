package appt

import (
	"testing"
	"time"

	"palmcal/internal/model"
)

func TestExplicitExceptions(t *testing.T) {
	t.Parallel()

	got := ExplicitExceptions([]model.Instant{
		{Time: time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC)},
		{Time: time.Date(2024, time.March, 12, 0, 0, 0, 0, time.FixedZone("X", 5*3600)), DateOnly: true},
		{},
	}, NewNormalizer(nil))

	want := []time.Time{
		time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d exceptions, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("exception %d: got %v want %v", i, got[i], want[i])
		}
	}

	if ExplicitExceptions(nil, NewNormalizer(nil)) != nil {
		t.Fatalf("expected nil for no exdates")
	}
}

func TestWithImpliedException_DoesNotAlias(t *testing.T) {
	t.Parallel()

	first := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	existing := make([]time.Time, 1, 8)
	existing[0] = first

	grown := WithImpliedException(existing, time.Date(2024, time.March, 12, 10, 0, 0, 0, time.UTC))
	if len(grown) != 2 || len(existing) != 1 {
		t.Fatalf("unexpected lengths: grown=%d existing=%d", len(grown), len(existing))
	}
	if !grown[1].Equal(time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("implied exception not truncated to date: %v", grown[1])
	}

	grown[0] = time.Time{}
	if !existing[0].Equal(first) {
		t.Fatalf("mutating the grown list changed the original")
	}
	again := WithImpliedException(existing, first)
	if &again[0] == &grown[0] {
		t.Fatalf("successive growth shares a backing array")
	}
}

func TestWithImpliedException_KeepsDuplicates(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	got := WithImpliedException([]time.Time{day}, day.Add(10*time.Hour))
	if len(got) != 2 {
		t.Fatalf("expected duplicate to be kept, got %v", got)
	}
}
