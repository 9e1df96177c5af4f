//go:build sqlite_fts5

package ledger

import (
	"testing"
	"time"

	"github.com/starford/sensorhub/internal/models"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM records_fts`).Scan(&count); err != nil {
		t.Fatalf("records_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	rec := models.Record{
		K:       "fts",
		Caption: "Library hours",
		Summary: "The campus library offers powerful new study rooms.",
	}
	if _, err := db.UpsertRecord("CampusNews", rec, time.Now()); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].K != "fts" || results[0].Sensor != "CampusNews" {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_DeleteSensorRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	_, _ = db.UpsertRecord("Gone", models.Record{K: "g", Caption: "c", Summary: "vanishing content"}, time.Now())
	_ = db.DeleteSensor("Gone")

	results, _ := db.Search("vanishing", 10)
	if len(results) != 0 {
		t.Errorf("deleted sensor still in FTS index: %+v", results)
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_, _ = db.UpsertRecord("Evo", models.Record{K: "e", Caption: "Old", Summary: "original text"}, now)
	_, _ = db.UpsertRecord("Evo", models.Record{K: "e", Caption: "New", Summary: "replacement text"}, now)

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Caption != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
