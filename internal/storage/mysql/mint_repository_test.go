package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"
)

func sampleRecord(tx string, createdAt int64) MintRecord {
	return MintRecord{
		RecordKey:       "Minty/user-1/data",
		Participant:     "user-1",
		Recipient:       "vitalik.eth",
		ResolvedAddress: "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
		TokenURI:        "ipfs://bafy",
		TxHash:          tx,
		ChainID:         84532,
		CreatedAt:       createdAt,
	}
}

func TestMemoryMintRepositoryPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryMintRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	if err := repo.Save(ctx, sampleRecord("0x01", 10)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := repo.Save(ctx, sampleRecord("0x02", 20)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	list, err := repo.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].TxHash != "0x02" || list[0].ID != 2 {
		t.Fatalf("unexpected list result: %+v", list)
	}

	reopened, err := NewMemoryMintRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	restored, err := reopened.ListLatest(ctx, 1)
	if err != nil {
		t.Fatalf("list after reopen failed: %v", err)
	}
	if len(restored) != 1 || restored[0].TxHash != "0x02" {
		t.Fatalf("unexpected restored records: %+v", restored)
	}
	if err := reopened.Save(ctx, sampleRecord("0x03", 30)); err != nil {
		t.Fatalf("save after reopen failed: %v", err)
	}
	latest, _ := reopened.ListLatest(ctx, 1)
	if latest[0].ID != 3 {
		t.Fatalf("expected id sequence to continue, got %d", latest[0].ID)
	}
}

func TestSQLMintRepositorySave(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertMintSQL, mockResult{lastInsertID: 42, rowsAffected: 1}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLMintRepository{db: db}
	if err := repo.Save(context.Background(), sampleRecord("0xabc", 1)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestSQLMintRepositorySaveError(t *testing.T) {
	t.Parallel()

	op := execOp(insertMintSQL, mockResult{})
	op.err = errors.New("duplicate entry")
	db, driver := newMockDB(t, []mockOperation{op})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLMintRepository{db: db}
	err := repo.Save(context.Background(), sampleRecord("0xabc", 1))
	if err == nil || !strings.Contains(err.Error(), "duplicate entry") {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestSQLMintRepositoryListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "record_key", "participant", "recipient", "resolved_address", "token_uri", "tx_hash", "chain_id", "created_at"},
		values: [][]driver.Value{
			{int64(2), "Minty/u2/data", "u2", "0x20c6F9006d563240031A1388f4f25726029a6368", "0x20c6F9006d563240031A1388f4f25726029a6368", "ipfs://b", "0x02", int64(84532), int64(20)},
			{int64(1), "Minty/u1/data", "u1", "vitalik.eth", "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", "ipfs://a", "0x01", int64(84532), int64(10)},
		},
	}

	db, driver := newMockDB(t, []mockOperation{queryOp(listMintsSQL, rows)})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLMintRepository{db: db}
	list, err := repo.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != 2 || list[1].Recipient != "vitalik.eth" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestMigrateAppliesPendingVersions(t *testing.T) {
	t.Parallel()

	source := fstest.MapFS{
		"0001_create_mints.sql": {Data: []byte("CREATE TABLE mints (id BIGINT);")},
		"0002_add_index.sql":    {Data: []byte("CREATE INDEX a ON mints (id); CREATE INDEX b ON mints (id);")},
	}
	ops := []mockOperation{
		execOp(createSchemaMigrationsSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
		beginOp(),
		execOp(`CREATE INDEX a ON mints (id)`, mockResult{}),
		execOp(`CREATE INDEX b ON mints (id)`, mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	now := func() time.Time { return time.Unix(1_700_000_000, 0) }
	if err := migrate(context.Background(), db, source, now); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestMigrateRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	source := fstest.MapFS{"0001_create_mints.sql": {Data: []byte("CREATE TABLE mints (id BIGINT)")}}
	failing := execOp(`CREATE TABLE mints (id BIGINT)`, mockResult{})
	failing.err = errors.New("syntax error")
	ops := []mockOperation{
		execOp(createSchemaMigrationsSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		failing,
		rollbackOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	err := migrate(context.Background(), db, source, time.Now)
	if err == nil || !strings.Contains(err.Error(), "0001_create_mints.sql") {
		t.Fatalf("expected migration failure, got %v", err)
	}
}

func TestEmbeddedMigrationsCreateMintsTable(t *testing.T) {
	t.Parallel()

	list, err := loadMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	if len(list) == 0 || list[0].version != "0001" {
		t.Fatalf("unexpected migrations: %+v", list)
	}
	if !strings.Contains(list[0].statements[0], "CREATE TABLE IF NOT EXISTS mints") {
		t.Fatalf("unexpected first statement: %s", list[0].statements[0])
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
