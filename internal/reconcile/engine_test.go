package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/storage"
	"github.com/starford/sift/internal/testutil"
)

func newEngine(t *testing.T, opts ...Option) (*Engine, storage.Provider) {
	t.Helper()
	p := testutil.TestProvider(t)
	e, err := New(context.Background(), testutil.TestStore(t, p), testutil.Logger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, p
}

func ids(items []models.Record) []int {
	out := make([]int, len(items))
	for i, r := range items {
		out[i] = r.ID
	}
	return out
}

func assertSorted(t *testing.T, b *models.Board) {
	t.Helper()
	for id, c := range b.Categories {
		for i := 1; i < len(c.Items); i++ {
			if c.Items[i-1].Likes < c.Items[i].Likes {
				t.Fatalf("category %s not sorted by likes: %v", id, c.Items)
			}
		}
	}
}

func boardJSON(t *testing.T, b *models.Board) []byte {
	t.Helper()
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestIngest_MergesIntoUncategorizedSorted(t *testing.T) {
	e, _ := newEngine(t)
	res, err := e.Ingest(context.Background(), "https://example.test", "abc", testutil.Records(3, 9, 1))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Received != 3 || res.Added != 3 || res.Skipped != 0 || res.BatchID == "" {
		t.Errorf("result = %+v", res)
	}
	b := e.Board()
	if got := ids(b.Categories[models.UncategorizedID].Items); !slices.Equal(got, []int{2, 1, 3}) {
		t.Errorf("uncategorized = %v", got)
	}
	raw := e.RawLog()
	if len(raw) != 1 || raw[0].HTMLSum != "abc" || len(raw[0].Records) != 3 {
		t.Errorf("raw log = %+v", raw)
	}
}

func texts(b *models.Board) []string {
	var out []string
	for _, r := range b.Records() {
		out = append(out, r.Text)
	}
	return out
}

func TestIngest_MatchesExistingRecordsByContent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(5, 4)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ApplyClassification(ctx, map[int]models.Classification{
		1: {Category: "ai", Sentiment: "positive"},
	}); err != nil {
		t.Fatal(err)
	}

	ts := "01 May 2025 10:00"
	incoming := []models.Record{
		{ID: 1, Timestamp: ts, Text: "a", Likes: 5, Sentiment: models.SentimentNegative},
		{ID: 2, Timestamp: ts, Text: "new", Likes: 2, Sentiment: models.SentimentQuestion},
		{ID: 3, Timestamp: ts, Text: "new", Likes: 50},
	}
	res, err := e.Ingest(ctx, "s", "", incoming)
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 1 || res.Skipped != 2 || res.Refreshed != 0 {
		t.Errorf("result = %+v", res)
	}
	b := e.Board()
	ai := b.Categories["ai"].Items
	if len(ai) != 1 || ai[0].ID != 1 || ai[0].Sentiment != models.SentimentPositive {
		t.Errorf("existing record must keep id, category and sentiment: %+v", ai)
	}
	unc := b.Categories[models.UncategorizedID].Items
	if !slices.Equal(ids(unc), []int{2, 3}) {
		t.Errorf("uncategorized = %v", ids(unc))
	}
	if unc[1].Text != "new" || unc[1].Sentiment != models.SentimentAbsent {
		t.Errorf("new record should take the next free id with sentiment cleared: %+v", unc[1])
	}
	if n := len(e.RawLog().Records()); n != 5 {
		t.Errorf("raw log keeps every received record, got %d", n)
	}
}

func TestIngest_RescrapeOfGrownPage(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ts := "02 May 2025 09:00"
	first := []models.Record{
		{ID: 1, Timestamp: ts, Text: "a", Likes: 5},
		{ID: 2, Timestamp: ts, Text: "b", Likes: 3},
	}
	if _, err := e.Ingest(ctx, "https://example.test/t", "", first); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ApplyClassification(ctx, map[int]models.Classification{
		1: {Category: "library", Sentiment: "neutral"},
	}); err != nil {
		t.Fatal(err)
	}

	// ranks shift: the new message outranks both old ones
	second := []models.Record{
		{ID: 1, Timestamp: ts, Text: "c", Likes: 10},
		{ID: 2, Timestamp: ts, Text: "a", Likes: 6},
		{ID: 3, Timestamp: ts, Text: "b", Likes: 3},
	}
	res, err := e.Ingest(ctx, "https://example.test/t", "", second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Received != 3 || res.Added != 1 || res.Skipped != 2 || res.Refreshed != 1 {
		t.Errorf("result = %+v", res)
	}

	b := e.Board()
	got := texts(b)
	slices.Sort(got)
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("board texts = %v", got)
	}
	lib := b.Categories["library"].Items
	if len(lib) != 1 || lib[0].ID != 1 || lib[0].Likes != 6 || lib[0].Sentiment != models.SentimentNeutral {
		t.Errorf("library = %+v", lib)
	}
	unc := b.Categories[models.UncategorizedID].Items
	if len(unc) != 2 || unc[0].Text != "c" || unc[0].ID != 3 || unc[1].Text != "b" || unc[1].ID != 2 {
		t.Errorf("uncategorized = %+v", unc)
	}
	seen := map[int]bool{}
	for _, r := range b.Records() {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d on board", r.ID)
		}
		seen[r.ID] = true
	}
	assertSorted(t, b)
}

func TestApplyClassification_RoutesAndRepartitions(t *testing.T) {
	ctx := context.Background()
	p := testutil.TestProvider(t)
	testutil.Seed(t, p, storage.KeyBoard, `{"version":2,"categories":{
		"uncategorized":{"items":[{"id":1,"likes":1}]},
		"ui_ux":{"items":[]},
		"library":{"items":[{"id":5,"likes":7},{"id":6,"likes":2}]},
		"ai":{"items":[]},
		"headless":{"items":[{"id":7,"likes":3}]}
	},"categoryOrder":["uncategorized","ui_ux","library","ai","headless"]}`)
	e, err := New(ctx, testutil.TestStore(t, p), testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.ApplyClassification(ctx, map[int]models.Classification{
		5: {Category: "AI", Sentiment: "positive"},
	})
	if err != nil {
		t.Fatalf("ApplyClassification: %v", err)
	}
	b := e.Board()
	ai := b.Categories["ai"].Items
	if len(ai) != 1 || ai[0].ID != 5 || ai[0].Sentiment != models.SentimentPositive {
		t.Errorf("ai = %+v", ai)
	}
	if got := ids(b.Categories[models.UncategorizedID].Items); !slices.Equal(got, []int{7, 6, 1}) {
		t.Errorf("uncategorized = %v", got)
	}
	for _, id := range []string{"library", "headless", "ui_ux"} {
		if n := len(b.Categories[id].Items); n != 0 {
			t.Errorf("%s should be empty, has %d", id, n)
		}
	}
	if res.Records != 4 || res.Classified != 1 || res.Defaulted != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestApplyClassification_UnknownCategoryKeepsSentiment(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	recs := []models.Record{{ID: 9, Text: "sheet", Likes: 4}}
	if _, err := e.Ingest(ctx, "s", "", recs); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ApplyClassification(ctx, map[int]models.Classification{
		9: {Category: "spreadsheet", Sentiment: "neutral"},
	}); err != nil {
		t.Fatal(err)
	}
	unc := e.Board().Categories[models.UncategorizedID].Items
	if len(unc) != 1 || unc[0].Sentiment != models.SentimentNeutral {
		t.Errorf("uncategorized = %+v", unc)
	}
}

func TestApplyClassification_MalformedAndOutOfVocabulary(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ApplyClassification(ctx, map[int]models.Classification{
		1: {Category: "ai", Sentiment: "question"},
		2: {Category: "library", Sentiment: "ecstatic"},
		3: {Category: "headless"},
	}); err != nil {
		t.Fatal(err)
	}
	// the second pass checks that malformed entries leave sentiment alone
	if _, err := e.ApplyClassification(ctx, map[int]models.Classification{
		1: {Category: "", Sentiment: "negative"},
	}); err != nil {
		t.Fatal(err)
	}
	b := e.Board()
	unc := b.Categories[models.UncategorizedID].Items
	if !slices.Equal(ids(unc), []int{3, 2, 1}) {
		t.Fatalf("uncategorized = %v", ids(unc))
	}
	if unc[2].Sentiment != models.SentimentQuestion {
		t.Errorf("record 1 sentiment = %q", unc[2].Sentiment)
	}
	if unc[1].Sentiment != models.SentimentAbsent {
		t.Errorf("out-of-vocabulary sentiment must not be written: %q", unc[1].Sentiment)
	}
}

func TestApplyClassification_ConservesRecords(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(4, 8, 1, 6, 2, 9)); err != nil {
		t.Fatal(err)
	}
	before := ids(e.Board().Records())
	slices.Sort(before)

	results := map[int]models.Classification{
		1: {Category: "UI_UX", Sentiment: "Positive"},
		2: {Category: " library ", Sentiment: "negative"},
		3: {Category: "ai", Sentiment: "neutral"},
		4: {Category: "headless", Sentiment: "question"},
		9: {Category: "ai", Sentiment: "neutral"},
	}
	if _, err := e.ApplyClassification(ctx, results); err != nil {
		t.Fatal(err)
	}
	b := e.Board()
	after := ids(b.Records())
	slices.Sort(after)
	if !slices.Equal(before, after) {
		t.Errorf("records changed: before %v after %v", before, after)
	}
	assertSorted(t, b)
	if got := ids(b.Categories["ui_ux"].Items); !slices.Equal(got, []int{1}) {
		t.Errorf("ui_ux = %v", got)
	}
	if got := ids(b.Categories["library"].Items); !slices.Equal(got, []int{2}) {
		t.Errorf("library = %v", got)
	}
}

func TestMove_ResortsDestination(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(5, 1, 3)); err != nil {
		t.Fatal(err)
	}
	// uncategorized is [1(5), 3(3), 2(1)]
	changed, err := e.Move(ctx, models.UncategorizedID, 2, "ai", 0)
	if err != nil || !changed {
		t.Fatalf("Move = %v, %v", changed, err)
	}
	changed, err = e.Move(ctx, models.UncategorizedID, 0, "ai", 0)
	if err != nil || !changed {
		t.Fatalf("Move = %v, %v", changed, err)
	}
	b := e.Board()
	// dropped at index 0 but re-sorted by likes
	if got := ids(b.Categories["ai"].Items); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("ai = %v", got)
	}
	if got := ids(b.Categories[models.UncategorizedID].Items); !slices.Equal(got, []int{3}) {
		t.Errorf("uncategorized = %v", got)
	}
	assertSorted(t, b)
}

func TestMove_NoOps(t *testing.T) {
	ctx := context.Background()
	var events int
	e, _ := newEngine(t, WithOnChange(func(string, *models.Board) { events++ }))
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(2, 7)); err != nil {
		t.Fatal(err)
	}
	before := boardJSON(t, e.Board())
	events = 0

	cases := []struct {
		name           string
		src            string
		srcIdx, dstIdx int
		dst            string
	}{
		{"same position", models.UncategorizedID, 1, 1, models.UncategorizedID},
		{"unknown source", "nope", 0, 0, "ai"},
		{"unknown destination", models.UncategorizedID, 0, 0, "nope"},
		{"source index past end", models.UncategorizedID, 2, 0, "ai"},
		{"negative source index", models.UncategorizedID, -1, 0, "ai"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changed, err := e.Move(ctx, tc.src, tc.srcIdx, tc.dst, tc.dstIdx)
			if err != nil || changed {
				t.Fatalf("Move = %v, %v", changed, err)
			}
			if after := boardJSON(t, e.Board()); !bytes.Equal(before, after) {
				t.Errorf("board changed:\n%s\n%s", before, after)
			}
		})
	}
	if events != 0 {
		t.Errorf("no-op moves fired %d change events", events)
	}
}

func TestMove_ClampsDestinationIndex(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(2, 7)); err != nil {
		t.Fatal(err)
	}
	if changed, err := e.Move(ctx, models.UncategorizedID, 0, "headless", 99); err != nil || !changed {
		t.Fatalf("Move = %v, %v", changed, err)
	}
	if got := ids(e.Board().Categories["headless"].Items); !slices.Equal(got, []int{2}) {
		t.Errorf("headless = %v", got)
	}
}

func TestState_SurvivesReload(t *testing.T) {
	ctx := context.Background()
	e, p := newEngine(t)
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(1, 2)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Move(ctx, models.UncategorizedID, 0, "library", 0); err != nil {
		t.Fatal(err)
	}
	again, err := New(ctx, testutil.TestStore(t, p), testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(boardJSON(t, e.Board()), boardJSON(t, again.Board())) {
		t.Error("reloaded board differs")
	}
	if len(again.RawLog()) != 1 {
		t.Errorf("raw log = %+v", again.RawLog())
	}
}

func TestReset_StartsOver(t *testing.T) {
	ctx := context.Background()
	var kinds []string
	e, p := newEngine(t, WithOnChange(func(kind string, _ *models.Board) { kinds = append(kinds, kind) }))
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := e.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if e.Board().Len() != 0 || len(e.RawLog()) != 0 {
		t.Error("state not cleared")
	}
	if _, err := p.Get(ctx, storage.KeyBoard); err == nil {
		t.Error("board blob still persisted")
	}
	if !slices.Equal(kinds, []string{EventIngested, EventReset}) {
		t.Errorf("events = %v", kinds)
	}
}

// rawDeleteFails lets the board key go but refuses to drop the raw log.
type rawDeleteFails struct {
	storage.Provider
}

func (p rawDeleteFails) Delete(ctx context.Context, key string) error {
	if key == storage.KeyRawLog {
		return errDisk
	}
	return p.Provider.Delete(ctx, key)
}

func TestReset_PartialFailureDropsStaleBoard(t *testing.T) {
	ctx := context.Background()
	p := testutil.TestProvider(t)
	var kinds []string
	e, err := New(ctx, testutil.TestStore(t, rawDeleteFails{p}), testutil.Logger(),
		WithOnChange(func(kind string, _ *models.Board) { kinds = append(kinds, kind) }))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(4, 2)); err != nil {
		t.Fatal(err)
	}

	err = e.Reset(ctx)
	if !errors.Is(err, apperr.ErrPartialReset) || !errors.Is(err, errDisk) {
		t.Fatalf("Reset err = %v", err)
	}
	if _, err := p.Get(ctx, storage.KeyBoard); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("board key err = %v, want not found", err)
	}
	if e.Board().Len() != 0 {
		t.Errorf("memory still serves %d records after the board key was deleted", e.Board().Len())
	}
	if len(e.RawLog()) != 1 {
		t.Errorf("raw log = %d batches, want the persisted one kept", len(e.RawLog()))
	}
	if !slices.Equal(kinds, []string{EventIngested, EventReset}) {
		t.Errorf("events = %v", kinds)
	}
}

type failingStore struct {
	Store
	failSave bool
	failRaw  bool
}

var errDisk = errors.New("disk full")

func (f *failingStore) Save(ctx context.Context, b *models.Board) error {
	if f.failSave {
		return errDisk
	}
	return f.Store.Save(ctx, b)
}

func (f *failingStore) SaveRawLog(ctx context.Context, raw models.RawLog) error {
	if f.failRaw {
		return errDisk
	}
	return f.Store.SaveRawLog(ctx, raw)
}

func TestMutation_FailedSaveLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	p := testutil.TestProvider(t)
	fs := &failingStore{Store: testutil.TestStore(t, p)}
	e, err := New(ctx, fs, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(3, 1)); err != nil {
		t.Fatal(err)
	}
	before := boardJSON(t, e.Board())

	fs.failSave = true
	if _, err := e.Move(ctx, models.UncategorizedID, 0, "ai", 0); !errors.Is(err, errDisk) {
		t.Errorf("Move err = %v", err)
	}
	if _, err := e.ApplyClassification(ctx, map[int]models.Classification{1: {Category: "ai", Sentiment: "neutral"}}); !errors.Is(err, errDisk) {
		t.Errorf("ApplyClassification err = %v", err)
	}
	if !bytes.Equal(before, boardJSON(t, e.Board())) {
		t.Error("in-memory board changed after failed save")
	}

	fs.failSave = false
	fs.failRaw = true
	if _, err := e.Ingest(ctx, "s", "", []models.Record{{ID: 50, Likes: 1}}); !errors.Is(err, errDisk) {
		t.Errorf("Ingest err = %v", err)
	}
	if len(e.RawLog()) != 1 || e.Board().Len() != 2 {
		t.Error("failed ingest changed state")
	}
}

func TestPendingAndStats(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(1, 5)); err != nil {
		t.Fatal(err)
	}
	pending := e.Pending()
	if len(pending) != 2 || pending[0].ID != 2 || pending[0].Text != "b" {
		t.Errorf("pending = %+v", pending)
	}
	st := e.Stats()
	if st.Records != 2 || st.Batches != 1 || st.PerCategory[models.UncategorizedID] != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestParseClassification(t *testing.T) {
	got, err := ParseClassification([]byte(`{
		"1": {"category": "ai", "sentiment": "positive"},
		"x": {"category": "ai", "sentiment": "positive"},
		"2": "ai",
		"3": {"category": 7, "sentiment": "neutral"},
		"4": {}
	}`))
	if err != nil {
		t.Fatalf("ParseClassification: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %v", got)
	}
	if got[1] != (models.Classification{Category: "ai", Sentiment: "positive"}) {
		t.Errorf("entry 1 = %+v", got[1])
	}
	if got[3].Complete() || got[4].Complete() {
		t.Error("incomplete entries must not count as complete")
	}

	for _, bad := range []string{`[]`, `"text"`, `12`, ``, `{broken`} {
		if _, err := ParseClassification([]byte(bad)); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestParseClassification_NonCanonicalKeysDropped(t *testing.T) {
	for i := 0; i < 20; i++ {
		got, err := ParseClassification([]byte(`{
			"5": {"category": "ai", "sentiment": "positive"},
			" 05": {"category": "retired", "sentiment": "negative"},
			"+5": {"category": "retired", "sentiment": "negative"},
			"007": {"category": "retired", "sentiment": "negative"}
		}`))
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[5] != (models.Classification{Category: "ai", Sentiment: "positive"}) {
			t.Fatalf("entries = %+v", got)
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	in := "Here you go:\n```json\n{\"1\": {\"category\": \"ai\"}}\n```"
	if got := ExtractJSONObject(in); got != `{"1": {"category": "ai"}}` {
		t.Errorf("got %q", got)
	}
	if got := ExtractJSONObject("no object"); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestMoveRecord(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	if _, err := e.Ingest(ctx, "s", "", testutil.Records(4, 6)); err != nil {
		t.Fatal(err)
	}
	changed, err := e.MoveRecord(ctx, 1, "Headless")
	if err != nil || !changed {
		t.Fatalf("MoveRecord = %v, %v", changed, err)
	}
	if got := ids(e.Board().Categories["headless"].Items); !slices.Equal(got, []int{1}) {
		t.Errorf("headless = %v", got)
	}
	for _, tc := range []struct {
		id  int
		dst string
	}{{1, "headless"}, {99, "ai"}, {2, "nowhere"}} {
		if changed, err := e.MoveRecord(ctx, tc.id, tc.dst); err != nil || changed {
			t.Errorf("MoveRecord(%d, %s) = %v, %v", tc.id, tc.dst, changed, err)
		}
	}
}
