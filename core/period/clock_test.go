package period

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tPtr(t time.Time) *time.Time { return &t }

func TestDeriveStatus(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	reviewEnd := end.Add(24 * time.Hour)

	scheduled := Period{Status: StatusScheduled, StartsAt: &start, EndsAt: &end, ReviewEndsAt: &reviewEnd}
	noReviewEnd := Period{Status: StatusActive, StartsAt: &start, EndsAt: &end}
	emptyWindow := Period{Status: StatusScheduled, StartsAt: &start, EndsAt: tPtr(start), ReviewEndsAt: &reviewEnd}

	tests := []struct {
		name string
		now  time.Time
		p    Period
		want Status
	}{
		{name: "before start", now: start.Add(-time.Minute), p: scheduled, want: StatusScheduled},
		{name: "at start", now: start, p: scheduled, want: StatusActive},
		{name: "inside window", now: start.Add(time.Hour), p: scheduled, want: StatusActive},
		{name: "at end", now: end, p: scheduled, want: StatusReview},
		{name: "inside review", now: end.Add(time.Hour), p: scheduled, want: StatusReview},
		{name: "at review end", now: reviewEnd, p: scheduled, want: StatusFinished},
		{name: "review forever", now: end.Add(365 * 24 * time.Hour), p: noReviewEnd, want: StatusReview},
		{name: "empty window: before", now: start.Add(-time.Second), p: emptyWindow, want: StatusScheduled},
		{name: "empty window: at start", now: start, p: emptyWindow, want: StatusReview},
		{name: "draft is frozen", now: start.Add(time.Hour), p: Period{Status: StatusDraft, StartsAt: &start, EndsAt: &end}, want: StatusDraft},
		{
			name: "finished is frozen", now: start.Add(time.Hour),
			p: Period{Status: StatusFinished, StartsAt: &start, EndsAt: &end}, want: StatusFinished,
		},
		{name: "incomplete schedule", now: start, p: Period{Status: StatusScheduled, StartsAt: &start}, want: StatusScheduled},
		{name: "other timezone", now: start.In(time.FixedZone("WAT", 3600)).Add(time.Minute), p: scheduled, want: StatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.now, tt.p))
		})
	}
}

func TestDeriveStatus_monotonic(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 200; i++ {
		start := base.Add(time.Duration(r.Intn(1000)) * time.Minute)
		end := start.Add(time.Duration(r.Intn(300)) * time.Minute)
		p := Period{Status: StatusScheduled, StartsAt: &start, EndsAt: &end}
		if r.Intn(2) == 0 {
			p.ReviewEndsAt = tPtr(end.Add(time.Duration(r.Intn(300)) * time.Minute))
		}

		prev := StatusScheduled
		for now := base.Add(-time.Hour); now.Before(base.Add(48 * time.Hour)); now = now.Add(7 * time.Minute) {
			got := DeriveStatus(now, p)
			if got.Rank() < prev.Rank() {
				t.Fatalf("status went back from %s to %s at %v (start %v, end %v)", prev, got, now, start, end)
			}
			prev = got
		}
	}
}

func TestCanAttempt_CanReview(t *testing.T) {
	tests := []struct {
		status     Status
		canAttempt bool
		canReview  bool
	}{
		{StatusDraft, false, false},
		{StatusScheduled, false, false},
		{StatusActive, true, false},
		{StatusReview, false, true},
		{StatusFinished, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			p := Period{Status: tt.status}
			assert.Equal(t, tt.canAttempt, CanAttempt(p))
			assert.Equal(t, tt.canReview, CanReview(p))
		})
	}
}

func Test_pickCurrent(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { return tPtr(now.Add(d)) }

	active1 := Period{ID: "active1", Status: StatusActive, StartsAt: at(-2 * time.Hour), EndsAt: at(3 * time.Hour)}
	active2 := Period{ID: "active2", Status: StatusActive, StartsAt: at(-time.Hour), EndsAt: at(time.Hour)}
	oldReview := Period{ID: "oldReview", Status: StatusReview, StartsAt: at(-72 * time.Hour), EndsAt: at(-48 * time.Hour)}
	review := Period{ID: "review", Status: StatusReview, StartsAt: at(-26 * time.Hour), EndsAt: at(-24 * time.Hour)}
	farScheduled := Period{ID: "farScheduled", Status: StatusScheduled, StartsAt: at(72 * time.Hour), EndsAt: at(74 * time.Hour)}
	scheduled := Period{ID: "scheduled", Status: StatusScheduled, StartsAt: at(24 * time.Hour), EndsAt: at(26 * time.Hour)}

	tests := []struct {
		name      string
		periods   []Period
		wantID    string
		wantFound bool
	}{
		{name: "none", periods: nil},
		{name: "only finished", periods: []Period{{ID: "f", Status: StatusFinished}}},
		{name: "active wins", periods: []Period{scheduled, review, active1}, wantID: "active1", wantFound: true},
		{name: "overlapping actives", periods: []Period{active1, active2}, wantID: "active2", wantFound: true},
		{name: "most recent review", periods: []Period{oldReview, scheduled, review}, wantID: "review", wantFound: true},
		{name: "nearest scheduled", periods: []Period{farScheduled, scheduled}, wantID: "scheduled", wantFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, found := pickCurrent(tt.periods)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantID, p.ID)
		})
	}
}
