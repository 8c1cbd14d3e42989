package storage_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"calidad/internal/domain"
	"calidad/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Record store tests — run against the SQLite driver so the whole
// stage/verify/swap sequence executes on a real database.
// ─────────────────────────────────────────────────────────────

const testDataType = "calidad_producto_terminado"

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "calidad.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) *storage.RecordStore {
	t.Helper()
	return storage.NewRecordStore(newTestDB(t), []string{
		"EMPRESA", "VARIEDAD", "DESTINO", "N° FCL",
	})
}

func makeRecord(id string, order int, data map[string]any) domain.Record {
	return domain.Record{
		ID:         id,
		SourceFile: "test.xlsx",
		DataType:   testDataType,
		SortOrder:  order,
		ProcessedData: domain.ProcessedData{
			RecordID:    id,
			RowIndex:    order - 1,
			ProcessedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Data:        data,
		},
	}
}

func makeBatch(n int) []domain.Record {
	records := make([]domain.Record, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, makeRecord(fmt.Sprintf("calidad_%08d", i), i, map[string]any{
			"VARIEDAD": "VENTURA",
			"EMPRESA":  "AGRICOLA BLUE GOLD S.A.C.",
			"N° FCL":   fmt.Sprintf("FCL-%03d", i),
		}))
	}
	return records
}

// ── Atomic load ────────────────────────────────────────────

func TestReplaceDataType_InitialLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	summary, err := store.ReplaceDataType(ctx, testDataType, makeBatch(3))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if summary.PreviousCount != 0 || summary.NewCount != 3 {
		t.Errorf("summary counts: previous=%d new=%d", summary.PreviousCount, summary.NewCount)
	}

	n, err := store.CountByDataType(ctx, testDataType)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 live records, got %d", n)
	}
}

func TestReplaceDataType_SwapReplacesWholePartition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ReplaceDataType(ctx, testDataType, makeBatch(3)); err != nil {
		t.Fatalf("first load: %v", err)
	}

	next := []domain.Record{
		makeRecord("calidad_aaaa0001", 1, map[string]any{"VARIEDAD": "BILOXI"}),
		makeRecord("calidad_aaaa0002", 2, map[string]any{"VARIEDAD": "BILOXI"}),
	}
	summary, err := store.ReplaceDataType(ctx, testDataType, next)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if summary.PreviousCount != 3 || summary.NewCount != 2 {
		t.Errorf("summary counts: previous=%d new=%d", summary.PreviousCount, summary.NewCount)
	}

	records, err := store.Query(ctx, storage.QueryParams{DataType: testDataType})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after swap, got %d", len(records))
	}
	for _, rec := range records {
		if rec.ProcessedData.Data["VARIEDAD"] != "BILOXI" {
			t.Errorf("old batch record survived the swap: %s", rec.ID)
		}
	}
}

func TestReplaceDataType_OtherPartitionsUntouched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	other := makeRecord("otro_00000001", 1, map[string]any{"VARIEDAD": "X"})
	other.DataType = "otro_tipo"
	if _, err := store.ReplaceDataType(ctx, "otro_tipo", []domain.Record{other}); err != nil {
		t.Fatalf("load other partition: %v", err)
	}
	if _, err := store.ReplaceDataType(ctx, testDataType, makeBatch(2)); err != nil {
		t.Fatalf("load main partition: %v", err)
	}

	n, err := store.CountByDataType(ctx, "otro_tipo")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("other partition changed: got %d records", n)
	}
}

func TestReplaceDataType_DuplicateIDsRollBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ReplaceDataType(ctx, testDataType, makeBatch(3)); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	// Two records sharing an id: the staging insert skips the second,
	// and the count verification must refuse to swap.
	bad := []domain.Record{
		makeRecord("calidad_dup00001", 1, map[string]any{"VARIEDAD": "A"}),
		makeRecord("calidad_dup00001", 2, map[string]any{"VARIEDAD": "B"}),
	}
	_, err := store.ReplaceDataType(ctx, testDataType, bad)
	if !errors.Is(err, storage.ErrVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}
	var verr *storage.VerificationError
	if !errors.As(err, &verr) || verr.Stage != "staging" || verr.Want != 2 || verr.Got != 1 {
		t.Errorf("wrong verification detail: %+v", verr)
	}

	// The failed load must leave the prior dataset fully intact.
	records, err := store.Query(ctx, storage.QueryParams{DataType: testDataType})
	if err != nil {
		t.Fatalf("query after failed load: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("prior dataset damaged: %d records", len(records))
	}
	for _, rec := range records {
		if rec.ProcessedData.Data["VARIEDAD"] != "VENTURA" {
			t.Errorf("unexpected record after rollback: %s", rec.ID)
		}
	}
}

func TestReplaceDataType_FailedLoadThenCleanRetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bad := []domain.Record{
		makeRecord("calidad_dup00001", 1, nil),
		makeRecord("calidad_dup00001", 2, nil),
	}
	if _, err := store.ReplaceDataType(ctx, testDataType, bad); err == nil {
		t.Fatal("expected duplicate load to fail")
	}

	// Leftover staging rows from the failed attempt must not pollute
	// the next load.
	summary, err := store.ReplaceDataType(ctx, testDataType, makeBatch(2))
	if err != nil {
		t.Fatalf("retry load: %v", err)
	}
	if summary.NewCount != 2 {
		t.Errorf("retry loaded %d records, want 2", summary.NewCount)
	}
}

func TestReplaceDataType_EmptyBatchClearsPartition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ReplaceDataType(ctx, testDataType, makeBatch(2)); err != nil {
		t.Fatalf("initial load: %v", err)
	}
	summary, err := store.ReplaceDataType(ctx, testDataType, nil)
	if err != nil {
		t.Fatalf("empty load: %v", err)
	}
	if summary.PreviousCount != 2 || summary.NewCount != 0 {
		t.Errorf("summary counts: previous=%d new=%d", summary.PreviousCount, summary.NewCount)
	}
}

// ── Query service ──────────────────────────────────────────

func varietyBatch() []domain.Record {
	return []domain.Record{
		makeRecord("calidad_q0000001", 1, map[string]any{
			"VARIEDAD": "VENTURA", "EMPRESA": "AGRICOLA BLUE GOLD S.A.C.", "DESTINO": "EUROPA"}),
		makeRecord("calidad_q0000002", 2, map[string]any{
			"VARIEDAD": "BILOXI", "EMPRESA": "SAN LUCAR S.A.", "DESTINO": "EUROPA"}),
		makeRecord("calidad_q0000003", 3, map[string]any{
			"VARIEDAD": "VENTURA", "EMPRESA": "SAN LUCAR S.A.", "DESTINO": "ASIA"}),
	}
}

func TestQuery_SubstringCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.ReplaceDataType(ctx, testDataType, varietyBatch()); err != nil {
		t.Fatalf("load: %v", err)
	}

	records, err := store.Query(ctx, storage.QueryParams{
		DataType: testDataType,
		Filters:  map[string]string{"VARIEDAD": "vent"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 VENTURA records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.ProcessedData.Data["VARIEDAD"] != "VENTURA" {
			t.Errorf("filter leaked record %s", rec.ID)
		}
	}
}

func TestQuery_FiltersCombineAsAND(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.ReplaceDataType(ctx, testDataType, varietyBatch()); err != nil {
		t.Fatalf("load: %v", err)
	}

	records, err := store.Query(ctx, storage.QueryParams{
		DataType: testDataType,
		Filters:  map[string]string{"VARIEDAD": "VENTURA", "DESTINO": "EUROPA"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0].ID != "calidad_q0000001" {
		t.Fatalf("AND semantics broken: %+v", ids(records))
	}
}

func TestQuery_EmpresaAlongsideFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.ReplaceDataType(ctx, testDataType, varietyBatch()); err != nil {
		t.Fatalf("load: %v", err)
	}

	records, err := store.Query(ctx, storage.QueryParams{
		DataType: testDataType,
		Filters:  map[string]string{"VARIEDAD": "VENTURA"},
		Empresa:  "san lucar",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0].ID != "calidad_q0000003" {
		t.Fatalf("empresa filter broken: %+v", ids(records))
	}
}

func TestQuery_UnknownFilterFieldRejected(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Query(context.Background(), storage.QueryParams{
		DataType: testDataType,
		Filters:  map[string]string{"id; DROP TABLE records": "x"},
	})
	if !errors.Is(err, storage.ErrUnknownFilterField) {
		t.Fatalf("expected unknown filter field error, got %v", err)
	}
}

func TestQuery_NoMatchIsEmptyNotError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.ReplaceDataType(ctx, testDataType, varietyBatch()); err != nil {
		t.Fatalf("load: %v", err)
	}

	records, err := store.Query(ctx, storage.QueryParams{
		DataType: testDataType,
		Filters:  map[string]string{"VARIEDAD": "NO EXISTE"},
	})
	if err != nil {
		t.Fatalf("no-match query errored: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", records)
	}
}

func TestQuery_LimitOffsetStableOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.ReplaceDataType(ctx, testDataType, makeBatch(5)); err != nil {
		t.Fatalf("load: %v", err)
	}

	records, err := store.Query(ctx, storage.QueryParams{
		DataType: testDataType, Limit: 2, Offset: 3,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := ids(records)
	want := []string{"calidad_00000004", "calidad_00000005"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("pagination order: got %v, want %v", got, want)
	}

	// Offset past the end: empty, not an error.
	records, err = store.Query(ctx, storage.QueryParams{
		DataType: testDataType, Limit: 2, Offset: 50,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("offset past end returned %d records", len(records))
	}

	// Offset without a limit still applies.
	records, err = store.Query(ctx, storage.QueryParams{
		DataType: testDataType, Offset: 4,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 || records[0].ID != "calidad_00000005" {
		t.Fatalf("offset without limit: got %v", ids(records))
	}
}

func TestQuery_RoundTripsRecordFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := makeRecord("calidad_rt000001", 1, map[string]any{
		"VARIEDAD": "VENTURA", "OBSERVACIONES": nil, "TURNO": float64(2),
	})
	if _, err := store.ReplaceDataType(ctx, testDataType, []domain.Record{in}); err != nil {
		t.Fatalf("load: %v", err)
	}

	records, err := store.Query(ctx, storage.QueryParams{DataType: testDataType})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	out := records[0]

	if out.ID != in.ID || out.SourceFile != in.SourceFile || out.DataType != in.DataType {
		t.Errorf("identity fields changed: %+v", out)
	}
	if out.RawData != nil {
		t.Errorf("raw_data should stay null, got %v", out.RawData)
	}
	if out.ProcessedData.RecordID != in.ID || out.ProcessedData.RowIndex != 0 {
		t.Errorf("provenance changed: %+v", out.ProcessedData)
	}
	if v, present := out.ProcessedData.Data["OBSERVACIONES"]; !present || v != nil {
		t.Errorf("explicit null not preserved: %v (present=%v)", v, present)
	}
	if out.ProcessedData.Data["TURNO"] != float64(2) {
		t.Errorf("numeric value changed: %v", out.ProcessedData.Data["TURNO"])
	}
	if out.CreatedAt.IsZero() || !out.CreatedAt.Equal(out.UpdatedAt) {
		t.Errorf("batch timestamps wrong: created=%v updated=%v", out.CreatedAt, out.UpdatedAt)
	}
}

// ── Stats ──────────────────────────────────────────────────

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.ReplaceDataType(ctx, testDataType, makeBatch(4)); err != nil {
		t.Fatalf("load: %v", err)
	}

	st, err := store.Stats(ctx, testDataType)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.RecordCount != 4 || st.SourceFiles != 1 {
		t.Errorf("counts: %+v", st)
	}
	if st.EarliestRecord.IsZero() || st.LatestRecord.IsZero() {
		t.Errorf("timestamp range not populated: %+v", st)
	}
	if st.LatestRecord.Before(st.EarliestRecord) {
		t.Errorf("timestamp range inverted: %+v", st)
	}

	// One load means one batch timestamp: the range collapses to the
	// stored created_at, driver string form and all.
	stored, err := store.Query(ctx, storage.QueryParams{DataType: testDataType, Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	batch := stored[0].CreatedAt
	if !st.EarliestRecord.Equal(batch) || !st.LatestRecord.Equal(batch) {
		t.Errorf("range should equal the batch timestamp %v: %+v", batch, st)
	}
}

func TestStats_EmptyPartition(t *testing.T) {
	store := newTestStore(t)

	st, err := store.Stats(context.Background(), "nunca_cargado")
	if err != nil {
		t.Fatalf("stats on empty partition: %v", err)
	}
	if st.RecordCount != 0 {
		t.Errorf("expected zero count, got %d", st.RecordCount)
	}
	if !st.EarliestRecord.IsZero() || !st.LatestRecord.IsZero() {
		t.Errorf("empty partition should have zero timestamps: %+v", st)
	}
}

func ids(records []domain.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
