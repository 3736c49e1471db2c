package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingRepo struct{}

func (failingRepo) Append(ctx context.Context, rec *Record) error {
	return errors.New("storage down")
}

func (failingRepo) Query(ctx context.Context, f Filter) ([]*Record, error) {
	return nil, nil
}

func TestSinkWritesAsynchronously(t *testing.T) {
	repo := NewMemoryRepository()
	sink := NewSink(repo, 16, nil)

	for i := 0; i < 5; i++ {
		sink.Write(Record{
			Category:    CategoryConsensus,
			Action:      "BlockSealed",
			Description: "sealed a block",
			EntityID:    "block-1",
			IsSuccess:   true,
		})
	}
	sink.Close()

	got, err := repo.Query(context.Background(), Filter{Category: CategoryConsensus})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("records persisted: got %d, want 5", len(got))
	}
	for _, rec := range got {
		if rec.ID.String() == "00000000-0000-0000-0000-000000000000" {
			t.Error("record id not assigned")
		}
		if rec.Timestamp.IsZero() {
			t.Error("record timestamp not stamped")
		}
	}
}

func TestSinkNeverFailsCaller(t *testing.T) {
	sink := NewSink(failingRepo{}, 4, nil)
	// A failing repository must not panic or propagate anything.
	for i := 0; i < 10; i++ {
		sink.Write(Record{Category: CategorySecurity, Action: "Login"})
	}
	sink.Close()
}

func TestQueryFilters(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ok := true
	fail := false
	records := []Record{
		{Category: CategoryShipment, Action: "Created", PrincipalID: "p1", EntityID: "sh-1", IsSuccess: ok, Timestamp: base},
		{Category: CategoryShipment, Action: "StatusUpdated", PrincipalID: "p2", EntityID: "sh-1", IsSuccess: fail, Timestamp: base.Add(time.Hour)},
		{Category: CategoryConsensus, Action: "BlockSealed", PrincipalID: "p1", EntityID: "block-2", IsSuccess: ok, Timestamp: base.Add(2 * time.Hour)},
	}
	for i := range records {
		rec := records[i]
		if err := repo.Append(ctx, &rec); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by category", Filter{Category: CategoryShipment}, 2},
		{"by principal", Filter{PrincipalID: "p1"}, 2},
		{"by entity", Filter{EntityID: "sh-1"}, 2},
		{"by success", Filter{Success: &fail}, 1},
		{"by time range", Filter{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)}, 1},
		{"with limit", Filter{Limit: 2}, 2},
		{"with offset", Filter{Offset: 2}, 1},
		{"offset past end", Filter{Offset: 10}, 0},
	}
	for _, tc := range cases {
		got, err := repo.Query(ctx, tc.filter)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(got) != tc.want {
			t.Errorf("%s: got %d records, want %d", tc.name, len(got), tc.want)
		}
	}
}
