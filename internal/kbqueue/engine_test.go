package kbqueue

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/char5742/kbqueue/internal/device"
	"github.com/char5742/kbqueue/internal/keymap"
	"github.com/char5742/kbqueue/internal/poller"
	"github.com/char5742/kbqueue/internal/registry"
	"github.com/char5742/kbqueue/internal/types"
)

// timedSampler は各ステップのキー状態とサンプリング時刻を再生する
type timedSampler struct {
	mu    sync.Mutex
	steps [][]int
	times []float64
	pos   int
	last  int
}

func (s *timedSampler) Sample() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.steps[s.pos]
	s.last = s.pos
	if s.pos < len(s.steps)-1 {
		s.pos++
	}
	return step, nil
}

// now は直前に返したステップの時刻
func (s *timedSampler) now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.times[s.last]
}

func (s *timedSampler) Name() string { return "timed" }
func (s *timedSampler) Close() error { return nil }

func newEngine(sampler *timedSampler) *Engine {
	var clock func() float64
	if sampler != nil {
		clock = sampler.now
	}
	return New(registry.New(registry.Options{
		Capacity: 8,
		Factory: func(int) (device.Sampler, error) {
			if sampler == nil {
				return nil, errors.New("no device")
			}
			return sampler, nil
		},
		Poller: poller.Options{
			Interval: time.Millisecond,
			Clock:    clock,
			Mapper: keymap.MapperFunc(func(code int, shift bool) int {
				if code == 42 {
					return '*'
				}
				return types.CookedNone
			}),
		},
	}))
}

func TestPressReleaseScenario(t *testing.T) {
	sampler := &timedSampler{
		steps: [][]int{{42}, {}},
		times: []float64{1.0, 1.2},
	}
	e := newEngine(sampler)
	defer e.Close()

	if err := e.Create(0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Start(0); err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := e.GetEvent(0, 2)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	ev, navail := res.Event, res.Navail
	if ev == nil {
		t.Fatalf("expected press event")
	}
	// 解放イベントが積まれるまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for navail == 0 {
		st, err := e.Check(0)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if st.Depth > 0 {
			navail = st.Depth
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("release event never queued")
		}
		time.Sleep(time.Millisecond)
	}
	if err := e.Stop(0); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := types.Event{Keycode: 42, Time: 1.0, Pressed: true, CookedKey: '*'}
	if *ev != want {
		t.Fatalf("first event = %+v, want %+v", *ev, want)
	}

	res, err = e.GetEvent(0, 0)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	ev, navail = res.Event, res.Navail
	if ev == nil || ev.Keycode != 42 || ev.Pressed || ev.Time != 1.2 {
		t.Fatalf("second event = %+v", ev)
	}
	if navail != 0 {
		t.Fatalf("expected navail 0, got %d", navail)
	}
}

func TestScenarioNavailCounts(t *testing.T) {
	e := newEngine(nil)
	if err := e.Create(0); err != nil {
		t.Fatalf("create: %v", err)
	}
	entry, _ := e.Registry().Lookup(0)
	entry.Queue.Push(types.Event{Keycode: 42, Time: 1.0, Pressed: true, CookedKey: '*'})
	entry.Queue.Push(types.Event{Keycode: 42, Time: 1.2, CookedKey: '*'})

	res, err := e.GetEvent(0, 0)
	if err != nil || res.Event == nil || !res.Event.Pressed || res.Event.Time != 1.0 || res.Navail != 1 {
		t.Fatalf("first GetEvent = %+v, %v", res, err)
	}
	res, err = e.GetEvent(DefaultDevice, 0)
	if err != nil || res.Event == nil || res.Event.Pressed || res.Event.Time != 1.2 || res.Navail != 0 {
		t.Fatalf("second GetEvent = %+v, %v", res, err)
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	e := newEngine(nil)
	_ = e.Create(2)
	entry, _ := e.Registry().Lookup(2)
	entry.Queue.Push(types.Event{Keycode: 4, Time: 3.0, Pressed: true})
	entry.Queue.Push(types.Event{Keycode: 5, Time: 4.0, Pressed: true})

	for i := 0; i < 5; i++ {
		st, err := e.Check(2)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !st.Pending || st.Depth != 2 {
			t.Fatalf("check %d: unexpected status %+v", i, st)
		}
		if i == 0 && (!st.KeyIsDown || st.Keys[4].FirstPress != 3.0) {
			t.Fatalf("first check missing key times: %+v", st)
		}
		if i > 0 && st.KeyIsDown {
			t.Fatalf("key times not reset by check")
		}
	}

	res, err := e.GetEvent(2, 0)
	if err != nil || res.Event == nil || res.Event.Keycode != 4 || res.Navail != 1 {
		t.Fatalf("GetEvent after checks = %+v, %v", res, err)
	}
}

func TestGetEventArguments(t *testing.T) {
	e := newEngine(nil)
	if _, err := e.GetEvent(0, 0); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.Check(0); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from check, got %v", err)
	}

	_ = e.Create(0)
	for _, wait := range []float64{-1, math.NaN()} {
		if _, err := e.GetEvent(0, wait); !errors.Is(err, types.ErrInvalidArgument) {
			t.Fatalf("wait %v: expected ErrInvalidArgument, got %v", wait, err)
		}
	}

	start := time.Now()
	res, err := e.GetEvent(0, 0)
	if err != nil || res.Event != nil || res.Navail != 0 || res.DeviceErr != nil {
		t.Fatalf("empty GetEvent = %+v, %v", res, err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Fatalf("zero wait blocked")
	}
}

func TestGetEventWaitsForPush(t *testing.T) {
	e := newEngine(nil)
	_ = e.Create(0)
	entry, _ := e.Registry().Lookup(0)

	go func() {
		time.Sleep(30 * time.Millisecond)
		entry.Queue.Push(types.Event{Keycode: 9, Time: 1, Pressed: true})
	}()

	start := time.Now()
	res, err := e.GetEvent(0, 5)
	if err != nil || res.Event == nil || res.Event.Keycode != 9 {
		t.Fatalf("GetEvent = %+v, %v", res, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("waited %v, expected wake on push", elapsed)
	}

	start = time.Now()
	res, _ = e.GetEvent(0, 0.05)
	if res.Event != nil {
		t.Fatalf("expected timeout, got %+v", res.Event)
	}
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Fatalf("timed out early after %v", elapsed)
	}
}

func TestDeviceErrorSurfacedInCheck(t *testing.T) {
	e := newEngine(nil)
	_ = e.Create(0)
	if err := e.Start(0); !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable from start, got %v", err)
	}
	st, err := e.Check(0)
	if err != nil {
		t.Fatalf("check must not fail on device error: %v", err)
	}
	if !errors.Is(st.DeviceErr, types.ErrDeviceUnavailable) || st.Running {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestDeviceErrorSurfacedInGetEvent(t *testing.T) {
	e := newEngine(nil)
	_ = e.Create(0)
	entry, _ := e.Registry().Lookup(0)
	entry.Queue.Push(types.Event{Keycode: 7, Time: 1, Pressed: true})
	if err := e.Start(0); !errors.Is(err, types.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable from start, got %v", err)
	}

	// 喪失前に積まれたイベントは取り出せる
	res, err := e.GetEvent(0, 0)
	if err != nil {
		t.Fatalf("get event must not fail on device error: %v", err)
	}
	if res.Event == nil || res.Event.Keycode != 7 {
		t.Fatalf("expected queued event, got %+v", res)
	}
	if !errors.Is(res.DeviceErr, types.ErrDeviceUnavailable) || res.Error == "" {
		t.Fatalf("device error not reported: %+v", res)
	}

	// 空のキューでは待たずに戻る
	start := time.Now()
	res, err = e.GetEvent(0, 5)
	if err != nil || res.Event != nil || res.Navail != 0 {
		t.Fatalf("empty GetEvent = %+v, %v", res, err)
	}
	if !errors.Is(res.DeviceErr, types.ErrDeviceUnavailable) {
		t.Fatalf("device error not reported on empty queue: %+v", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("waited %v on a lost device", elapsed)
	}
}
