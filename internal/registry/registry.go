// Package registry はデバイス番号とイベントキューの対応を管理する
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/char5742/kbqueue/internal/device"
	"github.com/char5742/kbqueue/internal/poller"
	"github.com/char5742/kbqueue/internal/queue"
	"github.com/char5742/kbqueue/internal/types"
)

// DefaultDevice は既定デバイスを表すデバイス番号
const DefaultDevice = -1

// SamplerFactory はデバイス番号に対応するSamplerを開く
type SamplerFactory func(index int) (device.Sampler, error)

// Options はRegistryの設定
type Options struct {
	DefaultIndex int // DefaultDevice の解決先
	Capacity     int // キュー容量
	Factory      SamplerFactory
	Poller       poller.Options // OnFailure はエントリごとに上書きされる
	Logger       *slog.Logger
}

// Entry は1台のデバイスのキューと稼働状態
type Entry struct {
	Index int
	Queue *queue.Queue

	mu       sync.Mutex
	running  bool
	released bool
	poller   *poller.Poller
	lastErr  error
}

// Running はポーリング中かどうかを返す
func (e *Entry) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Err は記録されたデバイスエラーを返す
func (e *Entry) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Info はエントリの状態のスナップショット
type Info struct {
	Index    int    `json:"index"`
	Running  bool   `json:"running"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Overflow uint64 `json:"overflow"`
	Error    string `json:"error,omitempty"`
}

// Registry はデバイス番号ごとに高々1つのエントリを保持する
type Registry struct {
	mutex   sync.RWMutex
	entries map[int]*Entry
	opts    Options
	logger  *slog.Logger
}

// New は新しいRegistryを作成する
func New(opts Options) *Registry {
	if opts.Capacity <= 0 {
		opts.Capacity = queue.DefaultCapacity
	}
	if opts.DefaultIndex < 0 {
		opts.DefaultIndex = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Poller.Logger == nil {
		opts.Poller.Logger = opts.Logger
	}

	return &Registry{
		entries: make(map[int]*Entry),
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Resolve は DefaultDevice を既定のデバイス番号に置き換える
func (r *Registry) Resolve(index int) (int, error) {
	switch {
	case index == DefaultDevice:
		return r.opts.DefaultIndex, nil
	case index < DefaultDevice:
		return 0, fmt.Errorf("%w: device index %d", types.ErrInvalidArgument, index)
	default:
		return index, nil
	}
}

// Create は新しいキューを作成する。状態は停止中
func (r *Registry) Create(index int) (*Entry, error) {
	index, err := r.Resolve(index)
	if err != nil {
		return nil, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[index]; exists {
		return nil, fmt.Errorf("%w: device %d", types.ErrAlreadyExists, index)
	}
	e := &Entry{Index: index, Queue: queue.New(r.opts.Capacity)}
	r.entries[index] = e
	r.logger.Info("キューを作成しました", "device", index, "capacity", r.opts.Capacity)
	return e, nil
}

// Lookup はエントリを取得する
func (r *Registry) Lookup(index int) (*Entry, error) {
	index, err := r.Resolve(index)
	if err != nil {
		return nil, err
	}

	r.mutex.RLock()
	e, ok := r.entries[index]
	r.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device %d", types.ErrNotFound, index)
	}
	return e, nil
}

// Release はポーリングを停止してエントリを破棄する
func (r *Registry) Release(index int) error {
	e, err := r.Lookup(index)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return fmt.Errorf("%w: device %d", types.ErrNotFound, e.Index)
	}
	e.released = true
	p := e.detach()
	e.mu.Unlock()

	// キューを捨てる前にポーラーを止める
	if p != nil {
		p.Stop()
	}

	r.mutex.Lock()
	if r.entries[e.Index] == e {
		delete(r.entries, e.Index)
	}
	r.mutex.Unlock()

	r.logger.Info("キューを解放しました", "device", e.Index)
	return nil
}

// Start はポーリングを開始する。実行中なら何もしない
func (r *Registry) Start(index int) error {
	e, err := r.Lookup(index)
	if err != nil {
		return err
	}
	if r.opts.Factory == nil {
		return fmt.Errorf("%w: device %d: no sampler configured", types.ErrDeviceUnavailable, e.Index)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return fmt.Errorf("%w: device %d", types.ErrNotFound, e.Index)
	}
	if e.running {
		return nil
	}

	sampler, err := r.opts.Factory(e.Index)
	if err != nil {
		e.lastErr = fmt.Errorf("%w: device %d: %v", types.ErrDeviceUnavailable, e.Index, err)
		return e.lastErr
	}

	opts := r.opts.Poller
	opts.Logger = opts.Logger.With("index", e.Index)
	var p *poller.Poller
	opts.OnFailure = func(err error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.poller == p {
			e.running = false
			e.poller = nil
			e.lastErr = err
		}
	}
	p = poller.New(sampler, e.Queue, opts)

	e.poller = p
	e.running = true
	e.lastErr = nil
	p.Start()
	return nil
}

// Stop はポーリングを停止する。停止中なら何もしない
func (r *Registry) Stop(index int) error {
	e, err := r.Lookup(index)
	if err != nil {
		return err
	}

	e.mu.Lock()
	p := e.detach()
	e.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	return nil
}

// MarkUnavailable はデバイスの喪失を記録し、ポーリングを停止する
func (r *Registry) MarkUnavailable(index int, cause error) {
	e, err := r.Lookup(index)
	if err != nil {
		return
	}

	e.mu.Lock()
	p := e.detach()
	e.lastErr = fmt.Errorf("%w: device %d: %v", types.ErrDeviceUnavailable, e.Index, cause)
	e.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	r.logger.Warn("デバイスが利用できなくなりました", "device", e.Index, "cause", cause)
}

// Flush は保留中のイベントを捨て、捨てた件数を返す
func (r *Registry) Flush(index int) (int, error) {
	e, err := r.Lookup(index)
	if err != nil {
		return 0, err
	}
	return e.Queue.Flush(), nil
}

// List は全エントリの状態をデバイス番号順に返す
func (r *Registry) List() []Info {
	r.mutex.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mutex.RUnlock()

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		info := Info{
			Index:    e.Index,
			Running:  e.Running(),
			Depth:    e.Queue.Len(),
			Capacity: e.Queue.Cap(),
			Overflow: e.Queue.Overflow(),
		}
		if err := e.Err(); err != nil {
			info.Error = err.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Index < infos[j].Index })
	return infos
}

// Close は全エントリを解放する
func (r *Registry) Close() {
	r.mutex.RLock()
	indexes := make([]int, 0, len(r.entries))
	for index := range r.entries {
		indexes = append(indexes, index)
	}
	r.mutex.RUnlock()

	for _, index := range indexes {
		_ = r.Release(index)
	}
}

// detach は e.mu を保持した状態で呼ぶ
func (e *Entry) detach() *poller.Poller {
	p := e.poller
	e.poller = nil
	e.running = false
	return p
}
