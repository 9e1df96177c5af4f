package sensorservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/sensor"
	"github.com/starford/sensorhub/internal/testutil"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	_, files := testutil.TestDataDir(t)
	db := testutil.TestDB(t)
	quakes := testutil.StubSensor(t, files, "EarthQuakeSensor",
		models.Record{K: "q1", Caption: "Quake near Julian", Summary: "Magnitude: 3.1"},
		models.Record{K: "q2", Caption: "Quake near Ramona", Summary: "Magnitude: 2.4"},
	)
	uv := testutil.StubSensor(t, files, "UVIndex", models.Record{K: "1710374400", Caption: "2024-03-14 | UV Index: 7"})

	about := "---\ntitle: Earthquakes\ntags: [quake, usgs]\n---\n# Earthquakes\n\nRecent **seismic** activity.\n"
	if err := files.Write("EarthQuakeSensor.md", []byte(about)); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if _, err := db.UpsertRecord("EarthQuakeSensor", models.Record{K: "q1", Caption: "Quake near Julian", Summary: "Magnitude: 3.1"}, now); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertRecord("UVIndex", models.Record{K: "1710374400", Caption: "UV Index: 7"}, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	return NewService([]*sensor.Sensor{uv, quakes}, db, files, testutil.QuietLogger())
}

func TestNames_Sorted(t *testing.T) {
	svc := newTestService(t)
	names := svc.Names()
	if len(names) != 2 || names[0] != "EarthQuakeSensor" || names[1] != "UVIndex" {
		t.Errorf("Names = %v", names)
	}
}

func TestSensor_Unknown(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Sensor("Nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Records(context.Background(), "Nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Records err = %v, want ErrNotFound", err)
	}
	if err := svc.Reload("Nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Reload err = %v, want ErrNotFound", err)
	}
}

func TestListSensors(t *testing.T) {
	svc := newTestService(t)
	list := svc.ListSensors(context.Background())
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Name != "EarthQuakeSensor" || !list[0].FetchAllowed {
		t.Errorf("first = %+v", list[0])
	}
}

func TestGetSensor_AboutDocument(t *testing.T) {
	svc := newTestService(t)
	d, err := svc.GetSensor(context.Background(), "EarthQuakeSensor")
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "Earthquakes" {
		t.Errorf("Title = %q", d.Title)
	}
	if len(d.Tags) != 2 {
		t.Errorf("Tags = %v", d.Tags)
	}

	d, err = svc.GetSensor(context.Background(), "UVIndex")
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "" || d.Tags == nil {
		t.Errorf("detail without about doc = %+v", d)
	}
}

func TestRecordsAndDiff(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	all, err := svc.Records(ctx, "EarthQuakeSensor")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("Records = %d, want 2", len(all))
	}

	n, err := svc.HasUpdates(ctx, "EarthQuakeSensor", "q1")
	if err != nil || n != 1 {
		t.Errorf("HasUpdates(q1) = %d, %v; want 1", n, err)
	}
	got, err := svc.Content(ctx, "EarthQuakeSensor", "q1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].K != "q2" {
		t.Errorf("Content(q1) = %+v", got)
	}
}

func TestFetch_AdvancesLastUsed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	recs, err := svc.Fetch(ctx, "UVIndex")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Fetch returned %d records, want 1", len(recs))
	}
	for _, st := range svc.ListSensors(ctx) {
		if st.Name == "UVIndex" && st.FetchAllowed {
			t.Error("fetch still allowed right after a forced fetch")
		}
	}
}

func TestFetch_RateLimitedInsideDelta(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Fetch(ctx, "UVIndex"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	_, err := svc.Fetch(ctx, "UVIndex")
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("second Fetch err = %v, want ErrRateLimited", err)
	}
}

func TestHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	items, total, err := svc.History(ctx, "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("total=%d len=%d, want 2", total, len(items))
	}
	if items[0].Sensor != "UVIndex" {
		t.Errorf("newest first: got %s", items[0].Sensor)
	}

	items, total, err = svc.History(ctx, "EarthQuakeSensor", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].K != "q1" {
		t.Errorf("filtered history = %+v (total %d)", items, total)
	}

	if _, _, err := svc.History(ctx, "Nope", 10, 0); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown sensor err = %v", err)
	}
}

func TestSearch(t *testing.T) {
	svc := newTestService(t)
	results, err := svc.Search(context.Background(), "Julian", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Sensor != "EarthQuakeSensor" {
		t.Errorf("results = %+v", results)
	}
}

func TestNilLedger(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	items, total, err := svc.History(context.Background(), "", 10, 0)
	if err != nil || total != 0 || len(items) != 0 {
		t.Errorf("History = %v, %d, %v", items, total, err)
	}
	results, err := svc.Search(context.Background(), "x", 10)
	if err != nil || len(results) != 0 {
		t.Errorf("Search = %v, %v", results, err)
	}
}
