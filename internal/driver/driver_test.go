package driver

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/buffer"
	"github.com/starford/sensorhub/internal/ledger"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/publisher"
	"github.com/starford/sensorhub/internal/testutil"
)

// fakeSensor serves a fixed record list with the after-k semantics of the
// real sensor.
type fakeSensor struct {
	name    string
	records []models.Record
	calls   int
}

func (s *fakeSensor) Name() string { return s.name }
func (s *fakeSensor) Settings() models.Settings { return models.Settings{} }
func (s *fakeSensor) GetFeaturedImage() string { return "" }

func (s *fakeSensor) after(k models.Key) []models.Record {
	i := models.IndexOf(s.records, k)
	if i < 0 {
		return s.records
	}
	return s.records[i+1:]
}

func (s *fakeSensor) HasUpdates(_ context.Context, k models.Key) int {
	s.calls++
	return len(s.after(k))
}

func (s *fakeSensor) GetContent(_ context.Context, k models.Key) []models.Record {
	return append([]models.Record(nil), s.after(k)...)
}

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]models.Record
	announced map[string]bool
	cursors   map[string]models.Key
	failSet   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:   map[string]models.Record{},
		announced: map[string]bool{},
		cursors:   map[string]models.Key{},
	}
}

func (f *fakeStore) MarkAnnounced(sensor string, k models.Key, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sensor + "/" + string(k)
	if f.announced[key] {
		return false, nil
	}
	f.announced[key] = true
	return true, nil
}

func (f *fakeStore) UpsertRecord(sensor string, rec models.Record, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sensor + "/" + string(rec.K)
	_, seen := f.records[key]
	f.records[key] = rec
	return !seen, nil
}

func (f *fakeStore) Cursor(sensor string) (models.Key, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.cursors[sensor]
	return k, ok, nil
}

func (f *fakeStore) SetCursor(sensor string, k models.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return errors.New("disk full")
	}
	f.cursors[sensor] = k
	return nil
}

type fakePublisher struct {
	published []models.Key
	failOn    models.Key
}

func (p *fakePublisher) Publish(_ context.Context, _ publisher.Source, rec models.Record) (*ledger.Publication, error) {
	if rec.K == p.failOn {
		return nil, apperr.ErrUpstream
	}
	if !rec.Publishable() {
		return nil, apperr.ErrIncomplete
	}
	for _, k := range p.published {
		if k == rec.K {
			return nil, apperr.ErrAlreadyExists
		}
	}
	p.published = append(p.published, rec.K)
	return &ledger.Publication{K: rec.K}, nil
}

type fakeEvents struct {
	created []models.Key
}

func (e *fakeEvents) RecordCreated(_ string, rec models.Record) {
	e.created = append(e.created, rec.K)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func recs(keys ...string) []models.Record {
	out := make([]models.Record, len(keys))
	for i, k := range keys {
		out[i] = models.Record{K: models.Key(k), Caption: "caption " + k, Summary: "summary " + k}
	}
	return out
}

func TestPoll_NewRecordsFlowDownstream(t *testing.T) {
	s := &fakeSensor{name: "UVIndex", records: recs("1", "2", "3")}
	store := newFakeStore()
	pub := &fakePublisher{}
	events := &fakeEvents{}
	d := New([]Sensor{s}, store, WithPublisher(pub), WithEvents(events), WithLogger(quietLogger()))

	res, err := d.Poll(context.Background(), s)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Updates != 3 || res.Created != 3 || res.Published != 3 {
		t.Errorf("result = %+v", res)
	}
	if res.Cursor != "3" {
		t.Errorf("cursor = %q, want 3", res.Cursor)
	}
	if len(events.created) != 3 {
		t.Errorf("events = %v", events.created)
	}

	// Nothing after the cursor: no work.
	res, _ = d.Poll(context.Background(), s)
	if res.Updates != 0 || res.Created != 0 {
		t.Errorf("second poll = %+v, want no updates", res)
	}

	s.records = append(s.records, recs("4")...)
	res, _ = d.Poll(context.Background(), s)
	if res.Updates != 1 || res.Created != 1 || res.Cursor != "4" {
		t.Errorf("third poll = %+v", res)
	}
}

func TestPoll_CursorMissingFromBufferDedups(t *testing.T) {
	s := &fakeSensor{name: "EarthQuakeSensor", records: recs("a", "b")}
	store := newFakeStore()
	pub := &fakePublisher{}
	d := New([]Sensor{s}, store, WithPublisher(pub), WithLogger(quietLogger()))
	_, _ = d.Poll(context.Background(), s)

	// Upstream rotated: the cursor is gone, so the whole list comes back.
	s.records = recs("b", "c")
	store.cursors["EarthQuakeSensor"] = "a"
	res, err := d.Poll(context.Background(), s)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Updates != 2 || res.Created != 1 || res.Published != 1 {
		t.Errorf("result = %+v, want 2 updates, 1 created, 1 published", res)
	}
}

func TestPoll_PublishFailureHoldsCursor(t *testing.T) {
	s := &fakeSensor{name: "SatSensor", records: recs("1", "2", "3")}
	store := newFakeStore()
	pub := &fakePublisher{failOn: "2"}
	d := New([]Sensor{s}, store, WithPublisher(pub), WithLogger(quietLogger()))

	res, err := d.Poll(context.Background(), s)
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if res.Cursor != "1" || store.cursors["SatSensor"] != "1" {
		t.Errorf("cursor = %q/%q, want 1", res.Cursor, store.cursors["SatSensor"])
	}

	pub.failOn = ""
	res, err = d.Poll(context.Background(), s)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Published != 2 || res.Cursor != "3" {
		t.Errorf("retry = %+v", res)
	}
}

func TestPoll_IncompleteRecordsAdvanceCursor(t *testing.T) {
	s := &fakeSensor{name: "Feed", records: []models.Record{{K: "1"}, {K: "2", Caption: "c", Summary: "s"}}}
	store := newFakeStore()
	pub := &fakePublisher{}
	d := New([]Sensor{s}, store, WithPublisher(pub), WithLogger(quietLogger()))

	res, err := d.Poll(context.Background(), s)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Published != 1 || res.Cursor != "2" {
		t.Errorf("result = %+v", res)
	}
}

func TestPoll_WithoutPublisher(t *testing.T) {
	s := &fakeSensor{name: "UVIndex", records: recs("1")}
	store := newFakeStore()
	d := New([]Sensor{s}, store, WithLogger(quietLogger()))
	res, err := d.Poll(context.Background(), s)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Created != 1 || res.Published != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestPoll_AnnouncesRecordsAlreadySyncedFromBuffer(t *testing.T) {
	db := testutil.TestDB(t)
	_, files := testutil.TestDataDir(t)
	s := &fakeSensor{name: "UVIndex", records: recs("1", "2")}

	// A fetch outside the driver leaves a buffer that the ledger picks up
	// before the next poll.
	if err := buffer.NewStore(files, quietLogger()).Save("UVIndex", s.records); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Sync(db, files, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	events := &fakeEvents{}
	d := New([]Sensor{s}, db, WithEvents(events), WithLogger(quietLogger()))
	res, err := d.Poll(context.Background(), s)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Updates != 2 || res.Created != 2 {
		t.Errorf("result = %+v, want 2 updates and 2 created", res)
	}
	if len(events.created) != 2 {
		t.Errorf("record.created events = %v, want 2", events.created)
	}

	// Forgetting the cursor replays the content without a second announcement.
	if err := db.SetCursor("UVIndex", "gone"); err != nil {
		t.Fatal(err)
	}
	res, _ = d.Poll(context.Background(), s)
	if res.Created != 0 || len(events.created) != 2 {
		t.Errorf("replay = %+v, events = %v", res, events.created)
	}
}

func TestPoll_CursorWriteFailure(t *testing.T) {
	s := &fakeSensor{name: "UVIndex", records: recs("1")}
	store := newFakeStore()
	store.failSet = true
	d := New([]Sensor{s}, store, WithLogger(quietLogger()))
	if _, err := d.Poll(context.Background(), s); err == nil {
		t.Error("expected cursor error")
	}
}

func TestTick_PollsEverySensor(t *testing.T) {
	a := &fakeSensor{name: "A", records: recs("1")}
	b := &fakeSensor{name: "B", records: recs("1", "2")}
	d := New([]Sensor{a, b}, newFakeStore(), WithLogger(quietLogger()))
	results := d.Tick(context.Background())
	if len(results) != 2 || results[0].Created != 1 || results[1].Created != 2 {
		t.Errorf("results = %+v", results)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := &fakeSensor{name: "A", records: recs("1")}
	d := New([]Sensor{s}, newFakeStore(), WithInterval(10*time.Millisecond), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
