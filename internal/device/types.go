// Package device は入力デバイスのキー状態サンプリングと監視を提供する
package device

import (
	"fmt"
	"strings"
)

// Sampler はデバイスの現在のキー状態を取得する
type Sampler interface {
	// Sample は押されているキーコードを昇順で返す
	Sample() ([]int, error)
	// Name はデバイス名を返す
	Name() string
	Close() error
}

// Backend はサンプリングの実装の種類
type Backend string

const (
	BackendIoctl Backend = "ioctl" // EVIOCGKEY を直接呼ぶ
	BackendEvdev Backend = "evdev" // holoplot/go-evdev を使う
)

// ParseBackend は文字列からバックエンドを得る。空文字は ioctl
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendIoctl:
		return BackendIoctl, nil
	case BackendEvdev:
		return BackendEvdev, nil
	default:
		return "", fmt.Errorf("unknown sampler backend %q", s)
	}
}

// Open は指定バックエンドでデバイスを開く
func Open(backend Backend, path string) (Sampler, error) {
	switch backend {
	case BackendEvdev:
		return OpenEvdev(path)
	case BackendIoctl, "":
		return OpenIoctl(path)
	default:
		return nil, fmt.Errorf("unknown sampler backend %q", backend)
	}
}
