package sqlite

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userstore/pkg/retry"
)

// step - запланированный результат одного шага фейкового выражения.
type step struct {
	code Code     // успешный код (CodeRow или CodeDone)
	fail Code     // если не ноль, шаг завершается ошибкой с этим кодом
	row  []string // колонки строки при CodeRow
}

type fakeStmt struct {
	steps     []step
	pos       int
	row       []string
	resets    int
	binds     map[int][]byte
	bindFail  Code
	finalized int
}

func (s *fakeStmt) BindBlob(param int, data []byte) error {
	if s.bindFail != 0 {
		return newEngineError(s.bindFail, "bind %d", param)
	}
	if s.binds == nil {
		s.binds = make(map[int][]byte)
	}
	s.binds[param] = append([]byte{}, data...)
	return nil
}

func (s *fakeStmt) Step(context.Context) (Code, error) {
	if s.pos >= len(s.steps) {
		return CodeDone, nil
	}
	r := s.steps[s.pos]
	s.pos++
	if r.fail != 0 {
		return r.fail, newEngineError(r.fail, "scripted step failure")
	}
	s.row = r.row
	return r.code, nil
}

func (s *fakeStmt) Reset() error {
	s.resets++
	return nil
}

func (s *fakeStmt) ColumnCount() int { return len(s.row) }

func (s *fakeStmt) ColumnText(i int) string {
	if i < 0 || i >= len(s.row) {
		return ""
	}
	return s.row[i]
}

func (s *fakeStmt) Finalize() error {
	s.finalized++
	return nil
}

type fakeEngine struct {
	prepareFails []Code
	execFails    []Code
	stmt         *fakeStmt
	prepared     []string
	scripts      []string
	rollbacks    int
}

func (e *fakeEngine) Prepare(_ context.Context, query string) (Stmt, error) {
	e.prepared = append(e.prepared, query)
	if len(e.prepareFails) > 0 {
		code := e.prepareFails[0]
		e.prepareFails = e.prepareFails[1:]
		return nil, newEngineError(code, "scripted prepare failure")
	}
	return e.stmt, nil
}

func (e *fakeEngine) Exec(_ context.Context, script string) error {
	if script == "ROLLBACK" {
		e.rollbacks++
		return nil
	}
	e.scripts = append(e.scripts, script)
	if len(e.execFails) > 0 {
		code := e.execFails[0]
		e.execFails = e.execFails[1:]
		return newEngineError(code, "scripted exec failure")
	}
	return nil
}

// quickPolicy повторяет без пауз.
func quickPolicy(attempts int) retry.Config {
	return retry.Config{MaxAttempts: attempts}
}

func newCapturingExecutor(engine Engine, policy retry.Config) (*Executor, *bytes.Buffer) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewExecutor(engine, policy, log), &buf
}

func busy(n int) []step {
	steps := make([]step, n)
	for i := range steps {
		steps[i] = step{fail: CodeBusy}
	}
	return steps
}

func TestExecutor_ExecSuccess(t *testing.T) {
	stmt := &fakeStmt{steps: []step{{code: CodeDone}}}
	engine := &fakeEngine{stmt: stmt}
	exec, _ := newCapturingExecutor(engine, quickPolicy(5))

	q := MustQuery("INSERT INTO users VALUES (NULL, '%s', ?, '%s')", Escape("o'neil"), Escape("a@x.com")).
		WithBlob(1, []byte("pw"))

	code, err := exec.Exec(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, CodeDone, code)

	require.Len(t, engine.prepared, 1)
	assert.Equal(t, "INSERT INTO users VALUES (NULL, 'o''neil', ?, 'a@x.com')", engine.prepared[0])
	assert.Equal(t, []byte("pw"), stmt.binds[1])
	assert.Equal(t, 1, stmt.finalized, "Exec must finalize the statement")
}

func TestExecutor_BusyThenSuccess(t *testing.T) {
	stmt := &fakeStmt{steps: append(busy(3), step{code: CodeDone})}
	exec, logs := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(10))

	code, err := exec.Exec(context.Background(), MustQuery("DELETE FROM users"))
	require.NoError(t, err)
	assert.Equal(t, CodeDone, code)
	assert.Equal(t, 4, stmt.pos)
	assert.Zero(t, stmt.resets, "BUSY does not reset the statement")
	assert.Contains(t, logs.String(), "step retried under contention")
}

func TestExecutor_FewRetriesNotWarned(t *testing.T) {
	stmt := &fakeStmt{steps: append(busy(2), step{code: CodeDone})}
	exec, logs := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(10))

	_, err := exec.Exec(context.Background(), MustQuery("DELETE FROM users"))
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "step retried under contention")
}

func TestExecutor_LockedResetsStatement(t *testing.T) {
	stmt := &fakeStmt{steps: []step{{fail: CodeLocked}, {fail: CodeLocked}, {code: CodeDone}}}
	exec, _ := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(10))

	_, err := exec.Exec(context.Background(), MustQuery("DELETE FROM users"))
	require.NoError(t, err)
	assert.Equal(t, 2, stmt.resets)
}

func TestExecutor_RetriesExhausted(t *testing.T) {
	stmt := &fakeStmt{steps: busy(10)}
	exec, logs := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(4))

	code, err := exec.Exec(context.Background(), MustQuery("DELETE FROM users"))
	require.Error(t, err)
	assert.Equal(t, CodeBusy, code)

	var exceeded *retry.RetriesExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, 4, exceeded.Attempts)
	assert.Equal(t, 4, stmt.pos, "No attempts beyond the policy")
	assert.Equal(t, 1, stmt.finalized, "Statement is released on failure")

	out := logs.String()
	assert.Contains(t, out, "step timeout")
	assert.Contains(t, out, "query execution failed")
	assert.Contains(t, out, "DELETE FROM users")
}

func TestExecutor_MisuseIsNotRetried(t *testing.T) {
	stmt := &fakeStmt{steps: []step{{fail: CodeMisuse}, {code: CodeDone}}}
	exec, logs := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(10))

	code, err := exec.Exec(context.Background(), MustQuery("DELETE FROM users"))
	require.Error(t, err)
	assert.Equal(t, CodeMisuse, code)
	assert.Equal(t, 1, stmt.pos)
	assert.Contains(t, logs.String(), "engine misuse")
}

func TestExecutor_ConstraintIsNotRetried(t *testing.T) {
	stmt := &fakeStmt{steps: []step{{fail: CodeConstraint}}}
	exec, _ := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(10))

	code, err := exec.Exec(context.Background(), MustQuery("DELETE FROM users"))
	require.Error(t, err)
	assert.Equal(t, CodeConstraint, code)
	assert.Equal(t, 1, stmt.pos)
}

func TestExecutor_PrepareRetried(t *testing.T) {
	engine := &fakeEngine{
		prepareFails: []Code{CodeBusy, CodeLocked},
		stmt:         &fakeStmt{steps: []step{{code: CodeDone}}},
	}
	exec, _ := newCapturingExecutor(engine, quickPolicy(5))

	_, err := exec.Exec(context.Background(), MustQuery("DELETE FROM users"))
	require.NoError(t, err)
	assert.Len(t, engine.prepared, 3)
}

func TestExecutor_PrepareFailure(t *testing.T) {
	engine := &fakeEngine{prepareFails: []Code{CodeError}}
	exec, logs := newCapturingExecutor(engine, quickPolicy(5))

	code, err := exec.Exec(context.Background(), MustQuery("SELEC nonsense"))
	require.Error(t, err)
	assert.Equal(t, CodeError, code)
	assert.Len(t, engine.prepared, 1)
	assert.Contains(t, logs.String(), "prepare failed")
}

func TestExecutor_BindFailure(t *testing.T) {
	stmt := &fakeStmt{bindFail: CodeRange}
	exec, _ := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(5))

	q := MustQuery("INSERT INTO users VALUES (NULL, 'a', ?, 'b')").WithBlob(7, []byte("pw"))
	code, err := exec.Exec(context.Background(), q)
	require.Error(t, err)
	assert.Equal(t, CodeRange, code)
	assert.Equal(t, 1, stmt.finalized)
	assert.Zero(t, stmt.pos, "Statement is not stepped after a failed bind")
}

func TestExecutor_ContextCanceled(t *testing.T) {
	stmt := &fakeStmt{steps: busy(10)}
	exec, _ := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Exec(ctx, MustQuery("DELETE FROM users"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_ExecScriptRetried(t *testing.T) {
	engine := &fakeEngine{execFails: []Code{CodeBusy, CodeBusy}}
	exec, _ := newCapturingExecutor(engine, quickPolicy(5))

	require.NoError(t, exec.ExecScript(context.Background(), "CREATE TABLE t (id INTEGER);"))
	require.Len(t, engine.scripts, 3)
	assert.Equal(t, 2, engine.rollbacks, "Every failed attempt is rolled back")
	for _, script := range engine.scripts {
		assert.True(t, strings.HasPrefix(script, "BEGIN IMMEDIATE;"))
		assert.Contains(t, script, "CREATE TABLE t (id INTEGER);")
		assert.True(t, strings.HasSuffix(script, "COMMIT;"))
	}
}

func TestExecutor_NilLogger(t *testing.T) {
	exec := NewExecutor(&fakeEngine{stmt: &fakeStmt{}}, quickPolicy(1), nil)
	require.NotNil(t, exec.Logger())

	_, err := exec.Exec(context.Background(), MustQuery("DELETE FROM users"))
	assert.NoError(t, err)
}

func TestCursor_Rows(t *testing.T) {
	stmt := &fakeStmt{steps: []step{
		{code: CodeRow, row: []string{"alice", "pw"}},
		{fail: CodeBusy},
		{code: CodeRow, row: []string{"bob", "pw2"}},
		{code: CodeDone},
	}}
	exec, _ := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(5))
	ctx := context.Background()

	cur, err := exec.Execute(ctx, MustQuery("SELECT user, password FROM users"))
	require.NoError(t, err)

	require.True(t, cur.HasRow())
	assert.Equal(t, 2, cur.Columns())
	assert.Equal(t, "alice", cur.Text(0))

	require.NoError(t, cur.Next(ctx))
	require.True(t, cur.HasRow())
	assert.Equal(t, "bob", cur.Text(0))

	require.NoError(t, cur.Next(ctx))
	assert.False(t, cur.HasRow())
	assert.Equal(t, CodeDone, cur.Code())

	// После Done шаг больше не выполняется
	require.NoError(t, cur.Next(ctx))
	assert.Equal(t, 4, stmt.pos)

	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close())
	assert.Equal(t, 1, stmt.finalized)
}

func TestCursor_NextAfterClose(t *testing.T) {
	stmt := &fakeStmt{steps: []step{{code: CodeRow, row: []string{"a"}}}}
	exec, logs := newCapturingExecutor(&fakeEngine{stmt: stmt}, quickPolicy(5))

	cur, err := exec.Execute(context.Background(), MustQuery("SELECT user FROM users"))
	require.NoError(t, err)
	require.NoError(t, cur.Close())

	err = cur.Next(context.Background())
	assert.Equal(t, CodeMisuse, CodeOf(err))
	assert.Contains(t, logs.String(), "engine misuse")
}
