// Package poller はデバイスのキー状態を定期的にサンプリングし、
// 状態の変化をイベントとしてキューへ積む
package poller

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/char5742/kbqueue/internal/device"
	"github.com/char5742/kbqueue/internal/keymap"
	"github.com/char5742/kbqueue/internal/types"
)

// 既定値
const (
	DefaultInterval   = 2 * time.Millisecond
	DefaultMaxRetries = 3
)

// Pusher はイベントの書き込み先
type Pusher interface {
	Push(ev types.Event)
}

// Options はPollerの設定
type Options struct {
	Interval   time.Duration // サンプリング間隔
	MaxRetries int           // 連続したサンプリング失敗の許容回数
	Clock      func() float64
	Mapper     keymap.Mapper
	// OnFailure はデバイスを見失って停止する時に一度だけ呼ばれる
	OnFailure func(err error)
	Logger    *slog.Logger
}

// Poller は1台のデバイスを監視するバックグラウンド処理
type Poller struct {
	sampler  device.Sampler
	queue    Pusher
	opts     Options
	pressed  map[int]bool
	last     float64 // 直前に積んだイベントの時刻
	stopChan chan struct{}
	done     chan struct{}
	start    sync.Once
	stop     sync.Once
}

var (
	clockBase  = time.Now()
	clockEpoch = float64(clockBase.UnixNano()) / 1e9
)

// Now は既定のクロック。起動時のUnix時刻を起点に、単調時計で進めた秒数を返す
// 壁時計が巻き戻っても値は減らない
func Now() float64 {
	return clockEpoch + time.Since(clockBase).Seconds()
}

// New は新しいPollerを作成する。samplerの所有権はPollerに移る
func New(sampler device.Sampler, queue Pusher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Clock == nil {
		opts.Clock = Now
	}
	if opts.Mapper == nil {
		opts.Mapper = keymap.US
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Poller{
		sampler:  sampler,
		queue:    queue,
		opts:     opts,
		pressed:  make(map[int]bool),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start はサンプリングを開始する
func (p *Poller) Start() {
	p.start.Do(func() {
		go p.run()
	})
}

// Stop はサンプリングを停止し、ゴルーチンの終了を待つ
func (p *Poller) Stop() {
	p.stop.Do(func() {
		close(p.stopChan)
	})
	p.start.Do(func() {
		// 一度も開始していない場合
		p.sampler.Close()
		close(p.done)
	})
	<-p.done
}

// Done はPollerが終了するとcloseされる
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run() {
	defer close(p.done)
	defer p.sampler.Close()

	log := p.opts.Logger.With("device", p.sampler.Name())
	log.Info("デバイスのポーリングを開始します")

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-p.stopChan:
			log.Info("デバイスのポーリングを停止します")
			return
		case <-ticker.C:
		}

		pressed, err := p.sampler.Sample()
		if err != nil {
			failures++
			log.Warn("キー状態の取得に失敗しました", "error", err, "failures", failures)
			if failures > p.opts.MaxRetries {
				err = fmt.Errorf("%w: %s: %v", types.ErrDeviceUnavailable, p.sampler.Name(), err)
				log.Error("デバイスを見失ったためポーリングを終了します", "error", err)
				if p.opts.OnFailure != nil {
					p.opts.OnFailure(err)
				}
				return
			}
			continue
		}
		failures = 0
		p.diff(pressed, p.opts.Clock())
	}
}

// diff は前回のサンプルとの差分をイベントとして積む
// 同一サンプル内のイベントはキーコード順
func (p *Poller) diff(pressed []int, now float64) {
	current := make(map[int]bool, len(pressed))
	for _, code := range pressed {
		current[code] = true
	}

	var changed []int
	for code := range current {
		if !p.pressed[code] {
			changed = append(changed, code)
		}
	}
	for code := range p.pressed {
		if !current[code] {
			changed = append(changed, code)
		}
	}
	if len(changed) == 0 {
		return
	}
	sort.Ints(changed)

	// キューの時刻順を保つ
	if now < p.last {
		now = p.last
	}
	p.last = now

	shift := false
	for code := range current {
		if keymap.IsShift(code) {
			shift = true
			break
		}
	}

	for _, code := range changed {
		p.queue.Push(types.Event{
			Keycode:   code,
			Time:      now,
			Pressed:   current[code],
			CookedKey: p.opts.Mapper.Cook(code, shift),
		})
	}
	p.pressed = current
}
