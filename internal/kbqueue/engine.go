// Package kbqueue は入力デバイスのイベントキューに対する操作をまとめる
//
// キューの状態遷移:
//
//	未作成 → 作成済み(停止) → 実行中 ⇄ 停止 → 解放済み
package kbqueue

import (
	"fmt"
	"math"
	"time"

	"github.com/char5742/kbqueue/internal/queue"
	"github.com/char5742/kbqueue/internal/registry"
	"github.com/char5742/kbqueue/internal/types"
)

// DefaultDevice は既定デバイスを表すデバイス番号
const DefaultDevice = registry.DefaultDevice

// Status は Check の結果
type Status struct {
	Index    int    `json:"index"`
	Pending  bool   `json:"pending"` // 未取得のイベントがある
	Depth    int    `json:"depth"`
	Running  bool   `json:"running"`
	Overflow uint64 `json:"overflow"`
	// KeyIsDown は前回の Check 以降にいずれかのキーが押されたかどうか
	KeyIsDown bool                  `json:"keyIsDown"`
	Keys      map[int]queue.KeyTime `json:"keys"`
	// DeviceErr はデバイス喪失などの記録されたエラー。呼び出し自体は成功扱い
	DeviceErr error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// Engine はキューの確認と取り出しを提供する
type Engine struct {
	registry *registry.Registry
}

// New はRegistryを使うEngineを作成する
func New(r *registry.Registry) *Engine {
	return &Engine{registry: r}
}

// Registry は内部のRegistryを返す
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Check はキューの状態を返す。イベントは取り出さない
// キーごとの押下/解放時刻は返した後にリセットされる
func (e *Engine) Check(index int) (Status, error) {
	entry, err := e.registry.Lookup(index)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Index:    entry.Index,
		Pending:  entry.Queue.Poll(),
		Depth:    entry.Queue.Len(),
		Running:  entry.Running(),
		Overflow: entry.Queue.Overflow(),
		Keys:     entry.Queue.KeyTimes(true),
	}
	for _, kt := range st.Keys {
		if kt.Pressed {
			st.KeyIsDown = true
			break
		}
	}
	if err := entry.Err(); err != nil {
		st.DeviceErr = err
		st.Error = err.Error()
	}
	return st, nil
}

// Result は GetEvent の結果
type Result struct {
	Event  *types.Event `json:"event"`  // イベントがなければ nil
	Navail int          `json:"navail"` // 取り出し後に残っている件数
	// DeviceErr はデバイス喪失などの記録されたエラー。呼び出し自体は成功扱い
	DeviceErr error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// GetEvent は最古のイベントを取り出す
//
// maxWaitSecs が0ならすぐに戻り、正ならイベント到着か期限切れまで待つ。
// デバイスを失って停止したキューでは新しいイベントが届かないため待たない。
func (e *Engine) GetEvent(index int, maxWaitSecs float64) (Result, error) {
	if math.IsNaN(maxWaitSecs) || maxWaitSecs < 0 {
		return Result{}, fmt.Errorf("%w: maxWaitTimeSecs %v", types.ErrInvalidArgument, maxWaitSecs)
	}

	entry, err := e.registry.Lookup(index)
	if err != nil {
		return Result{}, err
	}

	wait := time.Duration(0)
	if maxWaitSecs > 0 && !degraded(entry) {
		if maxWaitSecs > math.MaxInt64/float64(time.Second) {
			wait = time.Duration(math.MaxInt64)
		} else {
			wait = time.Duration(maxWaitSecs * float64(time.Second))
		}
	}

	var res Result
	if got, remaining, ok := entry.Queue.PopOldest(wait); ok {
		res.Event = &got
		res.Navail = remaining
	}
	if err := entry.Err(); err != nil {
		res.DeviceErr = err
		res.Error = err.Error()
	}
	return res, nil
}

func degraded(entry *registry.Entry) bool {
	return entry.Err() != nil && !entry.Running()
}

// Create はキューを作成する
func (e *Engine) Create(index int) error {
	_, err := e.registry.Create(index)
	return err
}

// Release はキューを解放する
func (e *Engine) Release(index int) error {
	return e.registry.Release(index)
}

// Start はイベントの記録を開始する
func (e *Engine) Start(index int) error {
	return e.registry.Start(index)
}

// Stop はイベントの記録を停止する
func (e *Engine) Stop(index int) error {
	return e.registry.Stop(index)
}

// Flush は保留中のイベントを捨てる
func (e *Engine) Flush(index int) (int, error) {
	return e.registry.Flush(index)
}

// List は全キューの状態を返す
func (e *Engine) List() []registry.Info {
	return e.registry.List()
}

// Close は全キューを解放する
func (e *Engine) Close() {
	e.registry.Close()
}
