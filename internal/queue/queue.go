// Package queue はデバイスごとのイベントキューを提供する
//
// キューは容量固定のリングバッファで、満杯時は最も古いイベントを捨てて
// 新しいイベントを格納する（drop-oldest）。捨てた件数は Overflow で取得できる。
package queue

import (
	"sync"
	"time"

	"github.com/char5742/kbqueue/internal/types"
)

// DefaultCapacity はキュー容量の既定値
const DefaultCapacity = 10000

// KeyTime はキーコードごとの最初/最後の押下・解放時刻（秒）
// Pressed / Released が false の時刻は無効
type KeyTime struct {
	Pressed      bool    `json:"pressed"`
	Released     bool    `json:"released"`
	FirstPress   float64 `json:"firstPress"`
	FirstRelease float64 `json:"firstRelease"`
	LastPress    float64 `json:"lastPress"`
	LastRelease  float64 `json:"lastRelease"`
}

// Queue はスレッドセーフな有界FIFO
type Queue struct {
	mu       sync.Mutex
	buf      []types.Event
	head     int // 最古のイベントの位置
	size     int
	overflow uint64
	keys     map[int]KeyTime
	// signal はPushのたびにcloseされ、新しいチャネルに差し替えられる
	signal chan struct{}
}

// New は指定容量のキューを作成する
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		buf:    make([]types.Event, capacity),
		keys:   make(map[int]KeyTime),
		signal: make(chan struct{}),
	}
}

// Cap はキュー容量を返す
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Push はイベントを末尾に追加する。呼び出し側をブロックしない
func (q *Queue) Push(ev types.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == len(q.buf) {
		// 満杯なので最古を捨てる
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.overflow++
	}
	q.buf[(q.head+q.size)%len(q.buf)] = ev
	q.size++

	kt := q.keys[ev.Keycode]
	if ev.Pressed {
		if !kt.Pressed {
			kt.Pressed = true
			kt.FirstPress = ev.Time
		}
		kt.LastPress = ev.Time
	} else {
		if !kt.Released {
			kt.Released = true
			kt.FirstRelease = ev.Time
		}
		kt.LastRelease = ev.Time
	}
	q.keys[ev.Keycode] = kt

	close(q.signal)
	q.signal = make(chan struct{})
}

// Poll は保留中のイベントがあるかを返す。イベントは取り出さない
func (q *Queue) Poll() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size > 0
}

// Len は保留中のイベント数を返す
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Overflow は容量超過で捨てたイベント数を返す
func (q *Queue) Overflow() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}

// PopOldest は最古のイベントを取り出す
//
// イベントがなく maxWait が0以下ならすぐに ok=false を返す。
// maxWait が正ならイベント到着か期限切れまで待つ。
// remaining は取り出し直後のキューの長さ。
func (q *Queue) PopOldest(maxWait time.Duration) (ev types.Event, remaining int, ok bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		q.mu.Lock()
		if q.size > 0 {
			ev = q.buf[q.head]
			q.buf[q.head] = types.Event{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			remaining = q.size
			q.mu.Unlock()
			return ev, remaining, true
		}
		if maxWait <= 0 {
			q.mu.Unlock()
			return types.Event{}, 0, false
		}
		signal := q.signal
		q.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(maxWait)
		}
		select {
		case <-signal:
			// 他の消費者に先を越された場合はもう一度待つ
		case <-timer.C:
			q.mu.Lock()
			if q.size > 0 {
				q.mu.Unlock()
				// 期限と同時に到着したイベントは取り出す
				maxWait = 0
				continue
			}
			q.mu.Unlock()
			return types.Event{}, 0, false
		}
	}
}

// Flush は保留中のイベントをすべて捨て、キー時刻もリセットする
// 捨てたイベント数を返す
func (q *Queue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	for i := range q.buf {
		q.buf[i] = types.Event{}
	}
	q.head = 0
	q.size = 0
	q.keys = make(map[int]KeyTime)
	return n
}

// KeyTimes は前回のリセット以降のキー時刻のスナップショットを返す
// reset が true なら取得後に記録を消去する
func (q *Queue) KeyTimes(reset bool) map[int]KeyTime {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[int]KeyTime, len(q.keys))
	for code, kt := range q.keys {
		out[code] = kt
	}
	if reset {
		q.keys = make(map[int]KeyTime)
	}
	return out
}
