package types

import "fmt"

// CookedKey の特別値
const (
	CookedNone        = 0  // 対応する文字がない
	CookedUnsupported = -1 // このイベント種別では文字変換をサポートしない
)

// Event はキュー内の1件のキー/ボタンイベントを表す
// 生成後は変更しない
type Event struct {
	Keycode   int     `json:"keycode"`   // キーコード
	Time      float64 `json:"time"`      // サンプリング時刻（秒）
	Pressed   bool    `json:"pressed"`   // true: 押下, false: 解放
	CookedKey int     `json:"cookedKey"` // 文字コード、0 または CookedUnsupported
}

func (e Event) String() string {
	state := "release"
	if e.Pressed {
		state = "press"
	}
	return fmt.Sprintf("%s keycode=%d time=%.6f cooked=%d", state, e.Keycode, e.Time, e.CookedKey)
}
