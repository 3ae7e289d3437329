package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/groundstation/log2"
)

type mockdo struct {
	name   string
	called int32
	err    error
	lk     sync.Mutex
	last   time.Time
	v      ValidateFunc
}

func (self *mockdo) Validate() error { return useValidator(self.v) }
func (self *mockdo) Do(ctx context.Context) error {
	self.lk.Lock()
	self.called += 1
	self.last = time.Now()
	self.lk.Unlock()
	return self.err
}
func (self *mockdo) String() string { return self.name }

func testContext(t testing.TB) context.Context {
	return context.WithValue(context.Background(), log2.ContextKey, log2.NewTest(t, log2.LDebug))
}

func TestSeqFail(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	doErr := Func{Name: "fail", F: func(ctx context.Context) error {
		return errors.Errorf("intentional-error")
	}}
	first := &mockdo{name: "first"}
	check := &mockdo{name: "check"}
	tx := NewSeq("fail").Append(first).Append(doErr).Append(check)
	err := tx.Do(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "intentional-error"), "err=%v", err)
	assert.Equal(t, int32(1), first.called)
	assert.Equal(t, int32(0), check.called)

	// restart runs from the beginning
	require.Error(t, tx.Do(ctx))
	assert.Equal(t, int32(2), first.called)
}

func TestSeqValidate(t *testing.T) {
	t.Parallel()

	tx := NewSeq("validate").
		Append(&mockdo{name: "ok"}).
		Append(&mockdo{name: "bad1", v: func() error { return errors.New("bad1") }}).
		Append(Fail{E: errors.New("bad2")})
	err := tx.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node=bad1")
	assert.Contains(t, err.Error(), "bad2")
	assert.Equal(t, 3, tx.Len())
}

func TestRepeatN(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	d := &mockdo{name: "count"}
	DoCheckFatal(t, RepeatN{N: 5, D: d}, ctx)
	assert.Equal(t, int32(5), d.called)

	d.err = errors.New("stop")
	d.called = 0
	require.Error(t, RepeatN{N: 5, D: d}.Do(ctx))
	assert.Equal(t, int32(1), d.called)
}

func TestSleepCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	tbegin := time.Now()
	err := Sleep{time.Minute}.Do(ctx)
	assert.Equal(t, context.Canceled, err)
	assert.True(t, time.Since(tbegin) < time.Second)

	DoCheckFatal(t, Sleep{time.Millisecond}, testContext(t))
}

func TestEngineRegistry(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	d := &mockdo{name: "status"}
	e.Register("status", d)
	e.Register("ports", Nothing{"ports"})
	assert.Equal(t, []string{"ports", "status"}, e.Actions())
	assert.Nil(t, e.Resolve("launch"))

	ctx := context.WithValue(testContext(t), ContextKey, e)
	TestDo(t, ctx, "status")
	assert.Equal(t, int32(1), d.called)

	err := e.Exec(ctx, "launch")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

// Few actions in sequence is a common case worth optimizing.
func BenchmarkSequentialDo(b *testing.B) {
	mkbench := func(length int) func(b *testing.B) {
		return func(b *testing.B) {
			op := func(ctx context.Context) error { return nil }
			ctx := context.WithValue(context.Background(), log2.ContextKey, log2.NewTest(b, log2.LError))
			s := NewSeq(fmt.Sprintf("seq-%d", length))
			for i := 1; i <= length; i++ {
				s.Append(Func{Name: "stub-action", F: op})
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 1; i <= b.N; i++ {
				if err := s.Do(ctx); err != nil {
					b.Fatal(err)
				}
			}
		}
	}

	b.Run("seq-3", mkbench(3))
	b.Run("seq-5", mkbench(5))
}
