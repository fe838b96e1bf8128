package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"FestSync/internal/codec"
	"FestSync/internal/model"
	"FestSync/internal/quota"
	"FestSync/internal/repository"
	"FestSync/internal/sheets"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory RecordStore enforcing natural-key uniqueness per type.
type memStore struct {
	mu      sync.Mutex
	seq     int
	base    time.Time
	records map[model.SyncType][]*model.Record
	err     error
}

func newMemStore() *memStore {
	return &memStore{
		base:    time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC),
		records: make(map[model.SyncType][]*model.Record),
	}
}

func cloneRecord(r *model.Record) *model.Record {
	c := *r
	c.Fields = r.Fields.Clone()
	return &c
}

func (s *memStore) FindAll(_ context.Context, t model.SyncType) ([]*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*model.Record, 0, len(s.records[t]))
	for _, r := range s.records[t] {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (s *memStore) FindByID(_ context.Context, t model.SyncType, id string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range s.records[t] {
		if r.ID == id {
			return cloneRecord(r), nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (s *memStore) FindByKey(_ context.Context, t model.SyncType, key string) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range s.records[t] {
		if r.NaturalKey() == model.NormalizeKey(key) {
			return cloneRecord(r), nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (s *memStore) Insert(_ context.Context, rec *model.Record) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	key := rec.NaturalKey()
	if key == "" {
		return nil, errors.New("missing natural key")
	}
	if s.taken(rec.Type, key, "") {
		return nil, fmt.Errorf("%w: %s", repository.ErrDuplicateKey, key)
	}
	s.seq++
	stored := cloneRecord(rec)
	stored.ID = fmt.Sprintf("%s-%03d", rec.Type, s.seq)
	stored.CreatedAt = s.base.Add(time.Duration(s.seq) * time.Second)
	stored.UpdatedAt = stored.CreatedAt
	s.records[rec.Type] = append(s.records[rec.Type], stored)
	return cloneRecord(stored), nil
}

func (s *memStore) Update(_ context.Context, t model.SyncType, id string, fields model.Fields) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	candidate := &model.Record{Type: t, Fields: fields}
	if s.taken(t, candidate.NaturalKey(), id) {
		return nil, repository.ErrDuplicateKey
	}
	for _, r := range s.records[t] {
		if r.ID == id {
			s.seq++
			r.Fields = fields.Clone()
			r.UpdatedAt = s.base.Add(time.Duration(s.seq) * time.Second)
			return cloneRecord(r), nil
		}
	}
	return nil, repository.ErrRecordNotFound
}

func (s *memStore) Delete(_ context.Context, t model.SyncType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	list := s.records[t]
	for i, r := range list {
		if r.ID == id {
			s.records[t] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return repository.ErrRecordNotFound
}

func (s *memStore) taken(t model.SyncType, key, exceptID string) bool {
	for _, r := range s.records[t] {
		if r.ID != exceptID && r.NaturalKey() == key {
			return true
		}
	}
	return false
}

func (s *memStore) count(t model.SyncType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[t])
}

// flakyMirror wraps MemoryMirror with scripted failures.
type flakyMirror struct {
	*sheets.MemoryMirror
	mu     sync.Mutex
	queued map[string][]error
	broken map[string]error
	calls  map[string]int
}

func newFlakyMirror() *flakyMirror {
	return &flakyMirror{
		MemoryMirror: sheets.NewMemoryMirror(),
		queued:       make(map[string][]error),
		broken:       make(map[string]error),
		calls:        make(map[string]int),
	}
}

func (m *flakyMirror) failNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[op] = append(m.queued[op], errs...)
}

func (m *flakyMirror) breakSheet(sheet string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken[sheet] = err
}

func (m *flakyMirror) check(op, sheet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if err := m.broken[sheet]; err != nil {
		return err
	}
	if q := m.queued[op]; len(q) > 0 {
		m.queued[op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *flakyMirror) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *flakyMirror) ReadRange(ctx context.Context, sheet string) ([][]string, error) {
	if err := m.check("ReadRange", sheet); err != nil {
		return nil, err
	}
	return m.MemoryMirror.ReadRange(ctx, sheet)
}

func (m *flakyMirror) WriteRange(ctx context.Context, sheet string, rows [][]string) error {
	if err := m.check("WriteRange", sheet); err != nil {
		return err
	}
	return m.MemoryMirror.WriteRange(ctx, sheet, rows)
}

func (m *flakyMirror) AppendRow(ctx context.Context, sheet string, row []string) error {
	if err := m.check("AppendRow", sheet); err != nil {
		return err
	}
	return m.MemoryMirror.AppendRow(ctx, sheet, row)
}

func (m *flakyMirror) WriteRow(ctx context.Context, sheet string, rowIndex int, row []string) error {
	if err := m.check("WriteRow", sheet); err != nil {
		return err
	}
	return m.MemoryMirror.WriteRow(ctx, sheet, rowIndex, row)
}

func (m *flakyMirror) DeleteRow(ctx context.Context, sheet string, rowIndex int) error {
	if err := m.check("DeleteRow", sheet); err != nil {
		return err
	}
	return m.MemoryMirror.DeleteRow(ctx, sheet, rowIndex)
}

// stepClock advances virtual time on Sleep.
type stepClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *stepClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fixture struct {
	svc    *SheetsSyncService
	store  *memStore
	mirror *flakyMirror
	clock  *stepClock
	gov    *quota.Governor
	hook   *test.Hook
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	clock := &stepClock{now: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)}
	gov := quota.NewGovernor(quota.Config{MaxCalls: 100, Buffer: 10, Window: time.Minute, Cooldown: time.Minute}, clock)
	store := newMemStore()
	mirror := newFlakyMirror()
	return &fixture{
		svc:    NewSheetsSyncService(store, mirror, gov, logger, opts...),
		store:  store,
		mirror: mirror,
		clock:  clock,
		gov:    gov,
		hook:   hook,
	}
}

func header(t *testing.T, st model.SyncType) []string {
	t.Helper()
	s, err := codec.SchemaFor(st)
	require.NoError(t, err)
	return s.Header()
}

// teamRow id, code, name, color, description, leaders, points, createdAt, updatedAt
func teamRow(id, code, name string) []string {
	return []string{id, code, name, "", "", "", "0", "", ""}
}

func team(code, name string) map[string]interface{} {
	return map[string]interface{}{"code": code, "name": name}
}

func hasWarning(hook *test.Hook, fragment string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, fragment) {
			return true
		}
	}
	return false
}

func TestAddRecord_AppendsRowWithPrimaryID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.AddRecord(ctx, model.SyncTeams, map[string]interface{}{
		"code":    "SMD",
		"name":    "Samad",
		"leaders": []interface{}{"Anas", " Rishad "},
		"points":  10,
	})
	require.NoError(t, err)
	assert.True(t, res.MirrorSynced)
	assert.Empty(t, res.Warning)
	assert.NotEmpty(t, res.ID)

	rows := f.mirror.Rows("Teams")
	require.Len(t, rows, 2)
	assert.Equal(t, header(t, model.SyncTeams), rows[0], "empty sheet gets a header first")
	assert.Equal(t, res.ID, rows[1][0])
	assert.Equal(t, "SMD", rows[1][1])
	assert.Equal(t, "Anas;Rishad", rows[1][5])
	assert.Equal(t, "10", rows[1][6])

	second, err := f.svc.AddRecord(ctx, model.SyncTeams, team("KRL", "Kerala"))
	require.NoError(t, err)
	rows = f.mirror.Rows("Teams")
	require.Len(t, rows, 3)
	assert.Equal(t, second.ID, rows[2][0])
}

func seedHeader(t *testing.T, f *fixture, st model.SyncType) {
	t.Helper()
	require.NoError(t, f.mirror.WriteRange(context.Background(), st.SheetName(), [][]string{header(t, st)}))
}

func TestAddRecord_ValidationFailsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddRecord(ctx, model.SyncTeams, map[string]interface{}{"code": "SMD"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "name")

	_, err = f.svc.AddRecord(ctx, model.SyncTeams, map[string]interface{}{"code": "SMD", "name": "Samad", "mascot": "lion"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, codec.ErrUnknownField)

	_, err = f.svc.AddRecord(ctx, model.SyncType("results"), team("R1", "x"))
	assert.True(t, IsValidation(err))

	assert.Zero(t, f.store.count(model.SyncTeams))
	assert.Zero(t, f.mirror.totalCalls())
}

func TestAddRecord_MirrorFailureKeepsPrimaryWrite(t *testing.T) {
	f := newFixture(t)
	seedHeader(t, f, model.SyncTeams)
	f.mirror.failNext("AppendRow", errors.New("connection reset by peer"))

	res, err := f.svc.AddRecord(context.Background(), model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	assert.False(t, res.MirrorSynced)
	assert.Contains(t, res.Warning, string(KindRemoteUnavailable))
	assert.Equal(t, 1, f.store.count(model.SyncTeams))
	assert.Len(t, f.mirror.Rows("Teams"), 1, "header only")

	last := f.hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.WarnLevel, last.Level)
	assert.Equal(t, res.ID, last.Data["id"])
	assert.Equal(t, "addRecord", last.Data["op"])
}

func TestAddRecord_RateLimitRetriedAfterCooldown(t *testing.T) {
	f := newFixture(t)
	seedHeader(t, f, model.SyncTeams)
	f.mirror.failNext("AppendRow", fmt.Errorf("googleapi: %w", quota.ErrRateLimited))

	res, err := f.svc.AddRecord(context.Background(), model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	assert.True(t, res.MirrorSynced)
	assert.Equal(t, []time.Duration{time.Minute}, f.clock.slept())
	assert.Len(t, f.mirror.Rows("Teams"), 2)
	assert.Equal(t, 1, f.gov.Snapshot().Count, "window restarts after cooldown, only the retry is counted")
}

func TestAddRecord_RateLimitExhausted(t *testing.T) {
	f := newFixture(t, WithMaxRetries(1))
	seedHeader(t, f, model.SyncTeams)
	f.mirror.failNext("AppendRow", quota.ErrRateLimited, quota.ErrRateLimited)

	res, err := f.svc.AddRecord(context.Background(), model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	assert.False(t, res.MirrorSynced)
	assert.True(t, strings.HasPrefix(res.Warning, string(KindRateLimit)))
	assert.Len(t, f.clock.slept(), 2)
	assert.Equal(t, 1, f.store.count(model.SyncTeams))
}

func TestUpdateRecord_RewritesMatchingRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	smd, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	krl, err := f.svc.AddRecord(ctx, model.SyncTeams, team("KRL", "Kerala"))
	require.NoError(t, err)
	_, err = f.svc.SyncToSheets(ctx, model.SyncTeams)
	require.NoError(t, err)

	res, err := f.svc.UpdateRecord(ctx, model.SyncTeams, krl.ID, map[string]interface{}{"code": "KRL", "name": "Kerala Royals", "points": "25"})
	require.NoError(t, err)
	assert.True(t, res.MirrorSynced)
	assert.Equal(t, krl.ID, res.ID)

	rows := f.mirror.Rows("Teams")
	require.Len(t, rows, 3)
	assert.Equal(t, smd.ID, rows[1][0])
	assert.Equal(t, "Samad", rows[1][2])
	assert.Equal(t, krl.ID, rows[2][0])
	assert.Equal(t, "Kerala Royals", rows[2][2])
	assert.Equal(t, "25", rows[2][6])
}

func TestUpdateRecord_KeyChangeLocatesRowByOldKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Insert(ctx, &model.Record{Type: model.SyncTeams, Fields: model.Fields{"code": "SMD", "name": "Samad"}})
	require.NoError(t, err)
	// row typed by hand, id cell never filled
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{header(t, model.SyncTeams), teamRow("", "smd", "Samad")}))

	res, err := f.svc.UpdateRecord(ctx, model.SyncTeams, rec.ID, team("SMX", "Samad X"))
	require.NoError(t, err)
	assert.True(t, res.MirrorSynced)

	rows := f.mirror.Rows("Teams")
	require.Len(t, rows, 2)
	assert.Equal(t, rec.ID, rows[1][0])
	assert.Equal(t, "SMX", rows[1][1])
}

func TestUpdateRecord_AppendsWhenRowMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Insert(ctx, &model.Record{Type: model.SyncTeams, Fields: model.Fields{"code": "SMD", "name": "Samad"}})
	require.NoError(t, err)
	seedHeader(t, f, model.SyncTeams)

	res, err := f.svc.UpdateRecord(ctx, model.SyncTeams, rec.ID, team("SMD", "Samad Updated"))
	require.NoError(t, err)
	assert.True(t, res.MirrorSynced)

	rows := f.mirror.Rows("Teams")
	require.Len(t, rows, 2)
	assert.Equal(t, rec.ID, rows[1][0])
	assert.Equal(t, "Samad Updated", rows[1][2])
}

func TestUpdateRecord_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateRecord(ctx, model.SyncTeams, "missing", team("SMD", "Samad"))
	assert.True(t, IsNotFound(err))

	_, err = f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	krl, err := f.svc.AddRecord(ctx, model.SyncTeams, team("KRL", "Kerala"))
	require.NoError(t, err)

	_, err = f.svc.UpdateRecord(ctx, model.SyncTeams, krl.ID, team("smd", "Kerala"))
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	_, err = f.svc.UpdateRecord(ctx, model.SyncTeams, krl.ID, map[string]interface{}{"name": "Kerala"})
	assert.True(t, IsValidation(err))
}

func TestDeleteRecord_RemovesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	smd, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	krl, err := f.svc.AddRecord(ctx, model.SyncTeams, team("KRL", "Kerala"))
	require.NoError(t, err)
	_, err = f.svc.SyncToSheets(ctx, model.SyncTeams)
	require.NoError(t, err)

	res, err := f.svc.DeleteRecord(ctx, model.SyncTeams, smd.ID)
	require.NoError(t, err)
	assert.True(t, res.MirrorSynced)
	assert.Empty(t, res.Warning)

	rows := f.mirror.Rows("Teams")
	require.Len(t, rows, 2)
	assert.Equal(t, krl.ID, rows[1][0])
	assert.Equal(t, 1, f.store.count(model.SyncTeams))
}

func TestDeleteRecord_MissingRowLogsWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Insert(ctx, &model.Record{Type: model.SyncTeams, Fields: model.Fields{"code": "SMD", "name": "Samad"}})
	require.NoError(t, err)
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{header(t, model.SyncTeams), teamRow("other", "KRL", "Kerala")}))

	res, err := f.svc.DeleteRecord(ctx, model.SyncTeams, rec.ID)
	require.NoError(t, err)
	assert.False(t, res.MirrorSynced)
	assert.NotEmpty(t, res.Warning)
	assert.Zero(t, f.store.count(model.SyncTeams))
	assert.Len(t, f.mirror.Rows("Teams"), 2, "unrelated rows untouched")
	assert.True(t, hasWarning(f.hook, "未找到对应行"))
}

func TestDeleteRecord_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DeleteRecord(context.Background(), model.SyncTeams, "nope")
	assert.True(t, IsNotFound(err))
	assert.Zero(t, f.mirror.totalCalls())
}

// swapCodeAndName reorders the code and name columns the way a hand edit would.
func swapCodeAndName(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		c := append([]string(nil), r...)
		c[1], c[2] = c[2], c[1]
		out[i] = c
	}
	return out
}

func TestUpdateRecord_ReorderedHeaderIsNotWritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	smd, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	reordered := swapCodeAndName(f.mirror.Rows("Teams"))
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", reordered))

	res, err := f.svc.UpdateRecord(ctx, model.SyncTeams, smd.ID, team("SMD", "Samad Renamed"))
	require.NoError(t, err)
	assert.False(t, res.MirrorSynced)
	assert.True(t, strings.HasPrefix(res.Warning, string(KindValidation)), res.Warning)
	assert.Zero(t, f.mirror.calls["WriteRow"])
	assert.Zero(t, f.mirror.calls["AppendRow"])
	assert.Equal(t, reordered, f.mirror.Rows("Teams"), "sheet left as the user arranged it")

	rec, err := f.store.FindByID(ctx, model.SyncTeams, smd.ID)
	require.NoError(t, err)
	assert.Equal(t, "Samad Renamed", rec.Fields["name"], "primary store still updated")
}

func TestDeleteRecord_ReorderedHeaderKeepsRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	smd, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	reordered := swapCodeAndName(f.mirror.Rows("Teams"))
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", reordered))

	res, err := f.svc.DeleteRecord(ctx, model.SyncTeams, smd.ID)
	require.NoError(t, err)
	assert.False(t, res.MirrorSynced)
	assert.True(t, strings.HasPrefix(res.Warning, string(KindValidation)), res.Warning)
	assert.Zero(t, f.mirror.calls["DeleteRow"])
	assert.Equal(t, reordered, f.mirror.Rows("Teams"))
	assert.Zero(t, f.store.count(model.SyncTeams))
}

func TestAddRecord_ReorderedHeaderIsNotAppended(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reordered := swapCodeAndName([][]string{header(t, model.SyncTeams)})
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", reordered))

	res, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	assert.False(t, res.MirrorSynced)
	assert.True(t, strings.HasPrefix(res.Warning, string(KindValidation)), res.Warning)
	assert.Contains(t, res.Warning, codec.ErrHeaderMismatch.Error())
	assert.Zero(t, f.mirror.calls["AppendRow"])
	assert.Equal(t, reordered, f.mirror.Rows("Teams"))
	assert.Equal(t, 1, f.store.count(model.SyncTeams))
}

func TestSyncToSheets_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, code := range []string{"SMD", "KRL", "MLP"} {
		_, err := f.svc.AddRecord(ctx, model.SyncTeams, team(code, "Team "+code))
		require.NoError(t, err)
	}

	first, err := f.svc.SyncToSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Count)
	snapshot := f.mirror.Rows("Teams")

	second, err := f.svc.SyncToSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Count)
	assert.Equal(t, snapshot, f.mirror.Rows("Teams"))

	require.Len(t, snapshot, 4)
	assert.Equal(t, header(t, model.SyncTeams), snapshot[0])
	assert.Equal(t, "SMD", snapshot[1][1])
	assert.Equal(t, "MLP", snapshot[3][1])
}

func TestSyncToSheets_RemoteFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)

	f.mirror.failNext("WriteRange", errors.New("503 backend error"))
	_, err = f.svc.SyncToSheets(ctx, model.SyncTeams)
	require.Error(t, err)
	assert.True(t, IsRemoteUnavailable(err))
	assert.Equal(t, 1, f.store.count(model.SyncTeams))
}

func TestSyncFromSheets_UpsertsByNaturalKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	smd, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{
		header(t, model.SyncTeams),
		teamRow("", " smd ", "Samad Edited"),
		teamRow("", "KRL", "Kerala"),
		{"", "", "", ""},
		teamRow("", "", "No Code"),
	}))

	res, err := f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, f.store.count(model.SyncTeams))

	got, err := f.store.FindByID(ctx, model.SyncTeams, smd.ID)
	require.NoError(t, err)
	assert.Equal(t, "Samad Edited", got.Fields["name"])

	krl, err := f.store.FindByKey(ctx, model.SyncTeams, "KRL")
	require.NoError(t, err)

	rows := f.mirror.Rows("Teams")
	assert.Equal(t, smd.ID, rows[1][0], "authoritative id back-filled")
	assert.Equal(t, krl.ID, rows[2][0])
	assert.Equal(t, "Kerala", rows[2][2], "other cells kept")
	assert.Equal(t, "", rows[4][0], "skipped row untouched")
}

func TestSyncFromSheets_SecondPullIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{
		header(t, model.SyncTeams),
		teamRow("", "SMD", "Samad"),
		teamRow("", "KRL", "Kerala"),
	}))

	first, err := f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	after := f.mirror.Rows("Teams")
	writes := f.mirror.calls["WriteRow"]

	second, err := f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 2, f.store.count(model.SyncTeams))
	assert.Equal(t, after, f.mirror.Rows("Teams"))
	assert.Equal(t, writes, f.mirror.calls["WriteRow"], "no back-fill when ids already match")
}

func TestSyncFromSheets_StaleIDIsOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	smd, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{
		header(t, model.SyncTeams),
		teamRow("stale-id", "SMD", "Samad"),
	}))

	res, err := f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, smd.ID, f.mirror.Rows("Teams")[1][0])
}

func TestSyncFromSheets_MalformedCellIsWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := teamRow("", "SMD", "Samad")
	row[6] = "ten"
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{header(t, model.SyncTeams), row}))

	res, err := f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], string(KindDecode))
	assert.Contains(t, res.Warnings[0], "points")

	got, err := f.store.FindByKey(ctx, model.SyncTeams, "SMD")
	require.NoError(t, err)
	assert.Equal(t, float64(0), got.Fields["points"])
}

func TestSyncFromSheets_HeaderMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{{"code", "name"}, {"SMD", "Samad"}}))

	_, err := f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, codec.ErrHeaderMismatch)
	assert.Zero(t, f.store.count(model.SyncTeams))
}

func TestSyncFromSheets_EmptySheet(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.SyncFromSheets(context.Background(), model.SyncProgrammes)
	require.NoError(t, err)
	assert.Equal(t, &PullResult{Type: model.SyncProgrammes}, res)
}

func TestSyncFromSheets_StoreFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{header(t, model.SyncTeams), teamRow("", "SMD", "Samad")}))
	f.store.err = errors.New("connection refused")

	_, err := f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.Error(t, err)
	assert.Equal(t, KindStore, KindOf(err))
}

func TestSyncFromSheets_BackfillFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", [][]string{header(t, model.SyncTeams), teamRow("", "SMD", "Samad")}))
	f.mirror.failNext("WriteRow", errors.New("socket closed"))

	res, err := f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], string(KindRemoteUnavailable))
}

// A team created through the API, pushed, edited in the sheet and pulled back
// keeps a single primary record with the same identifier throughout.
func TestRoundTrip_IdentityIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)

	_, err = f.svc.SyncToSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	_, err = f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)

	rec, err := f.store.FindByKey(ctx, model.SyncTeams, "SMD")
	require.NoError(t, err)
	assert.Equal(t, created.ID, rec.ID)
	assert.Equal(t, 1, f.store.count(model.SyncTeams))

	// manual edit in the sheet wins on the next pull
	rows := f.mirror.Rows("Teams")
	rows[1][2] = "Samad Champions"
	require.NoError(t, f.mirror.WriteRange(ctx, "Teams", rows))
	_, err = f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)

	rec, err = f.store.FindByID(ctx, model.SyncTeams, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Samad Champions", rec.Fields["name"])
	assert.Equal(t, 1, f.store.count(model.SyncTeams))

	// and an API edit after that overwrites the sheet row in place
	_, err = f.svc.UpdateRecord(ctx, model.SyncTeams, created.ID, team("SMD", "Samad"))
	require.NoError(t, err)
	rows = f.mirror.Rows("Teams")
	require.Len(t, rows, 2)
	assert.Equal(t, created.ID, rows[1][0])
	assert.Equal(t, "Samad", rows[1][2])
}

func TestAddRecord_ConcurrentDuplicateChestNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.AddRecord(ctx, model.SyncCandidates, map[string]interface{}{
				"chestNumber": "101",
				"name":        fmt.Sprintf("Candidate %d", i),
			})
		}()
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case IsConflict(err):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, f.store.count(model.SyncCandidates))
	assert.Len(t, f.mirror.Rows("Candidates"), 2, "header plus the winning row")
}

func TestSyncAll_FansOutPerType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	_, err = f.svc.AddRecord(ctx, model.SyncCandidates, map[string]interface{}{"chestNumber": "101", "name": "Anas", "team": "SMD"})
	require.NoError(t, err)

	results, err := f.svc.SyncAll(ctx, DirectionPush, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, st := range model.SyncTypes() {
		assert.Equal(t, st, results[i].Type)
		assert.Empty(t, results[i].Error)
		require.NotNil(t, results[i].Push)
		assert.Equal(t, header(t, st), f.mirror.Rows(st.SheetName())[0])
	}
	assert.Equal(t, 1, results[0].Push.Count)
	assert.Equal(t, 1, results[1].Push.Count)
	assert.Zero(t, results[2].Push.Count)
}

func TestSyncAll_OneTypeFailingDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mirror.breakSheet("Candidates", errors.New("permission denied"))

	results, err := f.svc.SyncAll(ctx, DirectionPush, nil)
	require.Error(t, err)
	assert.True(t, IsRemoteUnavailable(err))
	require.Len(t, results, 3)
	assert.NotNil(t, results[0].Push)
	assert.NotEmpty(t, results[1].Error)
	assert.NotNil(t, results[2].Push)
}

func TestSyncAll_UnknownDirection(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SyncAll(context.Background(), Direction("sideways"), []model.SyncType{model.SyncTeams})
	assert.True(t, IsValidation(err))
}

func TestEveryRemoteCallIsGoverned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	smd, err := f.svc.AddRecord(ctx, model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	_, err = f.svc.SyncToSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	_, err = f.svc.UpdateRecord(ctx, model.SyncTeams, smd.ID, team("SMD", "Samad 2"))
	require.NoError(t, err)
	_, err = f.svc.SyncFromSheets(ctx, model.SyncTeams)
	require.NoError(t, err)
	_, err = f.svc.DeleteRecord(ctx, model.SyncTeams, smd.ID)
	require.NoError(t, err)

	assert.Equal(t, f.mirror.totalCalls(), f.gov.Snapshot().Count)
}

// quotaAwareMirror stands in for a client that takes quota per HTTP request.
type quotaAwareMirror struct {
	*sheets.MemoryMirror
}

func (quotaAwareMirror) GovernsQuota() bool { return true }

func TestSelfGovernedClientIsNotCountedTwice(t *testing.T) {
	logger, _ := test.NewNullLogger()
	clock := &stepClock{now: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)}
	gov := quota.NewGovernor(quota.Config{MaxCalls: 100, Buffer: 10, Window: time.Minute, Cooldown: time.Minute}, clock)
	mirror := quotaAwareMirror{sheets.NewMemoryMirror()}
	svc := NewSheetsSyncService(newMemStore(), mirror, gov, logger)

	res, err := svc.AddRecord(context.Background(), model.SyncTeams, team("SMD", "Samad"))
	require.NoError(t, err)
	assert.True(t, res.MirrorSynced)
	assert.Zero(t, gov.Snapshot().Count)
	assert.Len(t, mirror.Rows("Teams"), 2)
}

func TestListAndGetRecord_NormalizeStoredFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// shape of a document loaded back from jsonb
	rec, err := f.store.Insert(ctx, &model.Record{Type: model.SyncTeams, Fields: model.Fields{
		"code":    "SMD",
		"name":    "Samad",
		"leaders": []interface{}{"Anas"},
		"points":  "12",
	}})
	require.NoError(t, err)

	list, err := f.svc.ListRecords(ctx, model.SyncTeams)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"Anas"}, list[0].Fields["leaders"])
	assert.Equal(t, float64(12), list[0].Fields["points"])
	assert.Equal(t, "", list[0].Fields["color"])

	got, err := f.svc.GetRecord(ctx, model.SyncTeams, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = f.svc.GetRecord(ctx, model.SyncTeams, "missing")
	assert.True(t, IsNotFound(err))
	_, err = f.svc.ListRecords(ctx, model.SyncType("schedules"))
	assert.True(t, IsValidation(err))
}
