package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/clock"
)

type appState struct {
	Status string
	Number int
}

func reduce(s appState, a *action.Action) appState {
	switch a.Type {
	case "setA":
		s.Status = "A"
	case "setB":
		s.Status = "B"
	case "setOk":
		s.Status = "Ok"
	case "inc":
		s.Number++
	}
	return s
}

// recorder collects tap deliveries.
type recorder struct {
	mu     sync.Mutex
	types  []string
	states []appState
}

func (r *recorder) tap(a *action.Action, s appState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, a.Type)
	r.states = append(r.states, s)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

func TestStore_Dispatch(t *testing.T) {
	rec := &recorder{}
	s := New(reduce, appState{Status: "C"}, WithTap(rec.tap))

	s.Dispatch(action.New("setOk"))
	s.Dispatch(action.New("inc"))

	assert.Equal(t, appState{Status: "Ok", Number: 1}, s.State())
	assert.Equal(t, []string{"setOk", "inc"}, rec.seen())
	assert.Equal(t, appState{Status: "Ok"}, rec.states[0])
}

func TestStore_ContainerMethods(t *testing.T) {
	s := New(reduce, appState{})
	s.Submit(action.New("setA"))
	assert.Equal(t, "A", s.Snapshot().Status)
}

func TestStore_Subscribe(t *testing.T) {
	s := New(reduce, appState{})
	calls := 0
	unsubscribe := s.Subscribe(func() { calls++ })

	s.Dispatch(action.New("inc"))
	unsubscribe()
	s.Dispatch(action.New("inc"))

	assert.Equal(t, 1, calls)
}

func TestStore_NestedDispatchIsQueued(t *testing.T) {
	rec := &recorder{}
	var s *Store[appState]
	s = New(reduce, appState{}, WithTap(func(a *action.Action, st appState) {
		rec.tap(a, st)
		if a.Type == "setA" {
			s.Dispatch(action.New("setB"))
		}
	}))

	s.Dispatch(action.New("setA"))
	assert.Equal(t, []string{"setA", "setB"}, rec.seen())
	assert.Equal(t, "A", rec.states[0].Status)
}

func TestSaga_SynchronousPutsAtStart(t *testing.T) {
	rec := &recorder{}
	s := New(reduce, appState{}, WithTap(rec.tap), WithSaga(func(fx *Effects[appState]) {
		fx.Put(action.New("setA"))
		fx.Put(action.New("setB"))
	}))

	assert.Equal(t, []string{"setA", "setB"}, rec.seen())
	assert.Equal(t, "B", s.State().Status)
}

func TestSaga_TakeThenPut(t *testing.T) {
	rec := &recorder{}
	var taken *action.Action
	s := New(reduce, appState{}, WithTap(rec.tap), WithSaga(func(fx *Effects[appState]) {
		taken = fx.Take("setA")
		fx.Put(action.New("setOk"))
	}))

	first := action.New("setA")
	s.Dispatch(first)

	assert.Same(t, first, taken)
	assert.Equal(t, []string{"setA", "setOk"}, rec.seen())
}

func TestSaga_TakeAny(t *testing.T) {
	var got []string
	s := New(reduce, appState{}, WithSaga(func(fx *Effects[appState]) {
		for i := 0; i < 2; i++ {
			got = append(got, fx.Take().Type)
		}
	}))
	s.Dispatch(action.New("inc"))
	s.Dispatch(action.New("setA"))
	s.Dispatch(action.New("setB"))

	assert.Equal(t, []string{"inc", "setA"}, got)
}

func TestSaga_SelectAndCall(t *testing.T) {
	var seen appState
	called := false
	New(reduce, appState{Number: 41}, WithSaga(func(fx *Effects[appState]) {
		seen = fx.Select()
		fx.Call(func() { called = true })
	}))
	assert.Equal(t, 41, seen.Number)
	assert.True(t, called)
}

func TestSaga_Fork(t *testing.T) {
	rec := &recorder{}
	New(reduce, appState{}, WithTap(rec.tap), WithSaga(func(fx *Effects[appState]) {
		fx.Fork(func(child *Effects[appState]) {
			child.Put(action.New("setB"))
		})
		fx.Put(action.New("setA"))
	}))

	assert.ElementsMatch(t, []string{"setA", "setB"}, rec.seen())
}

func TestSaga_DelayUsesStoreClock(t *testing.T) {
	clk := clock.NewManual()
	rec := &recorder{}
	s := New(reduce, appState{}, WithTap(rec.tap), WithClock[appState](clk), WithSaga(func(fx *Effects[appState]) {
		fx.Put(action.New("setA"))
		fx.Delay(time.Second)
		fx.Put(action.New("inc"))
	}))
	require.Equal(t, []string{"setA"}, rec.seen())

	clk.BlockUntil(1)
	clk.Advance(time.Second)

	assert.Eventually(t, func() bool { return s.State().Number == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"setA", "inc"}, rec.seen())
}

func TestStore_Close(t *testing.T) {
	clk := clock.NewManual()
	rec := &recorder{}
	s := New(reduce, appState{}, WithTap(rec.tap), WithClock[appState](clk), WithSaga(func(fx *Effects[appState]) {
		fx.Delay(time.Second)
		fx.Put(action.New("inc"))
	}))

	s.Close()
	s.Close()
	s.Dispatch(action.New("setA"))
	clk.Advance(time.Second)

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.seen())
	assert.Equal(t, appState{}, s.State())
}

func TestStore_Idle(t *testing.T) {
	s := New(reduce, appState{})
	select {
	case <-s.Idle():
	default:
		t.Fatal("store should be idle")
	}
}

func TestConnect_InstallsTap(t *testing.T) {
	var got []string
	connect := Connect(reduce, appState{Status: "C"}, WithSaga(func(fx *Effects[appState]) {
		fx.Put(action.New("setA"))
	}))

	c := connect(func(a *action.Action, _ appState) { got = append(got, a.Type) })
	c.Submit(action.New("inc"))

	assert.Equal(t, []string{"setA", "inc"}, got)
	assert.Equal(t, appState{Status: "A", Number: 1}, c.Snapshot())
}
