// Package keymap はキーコードから文字コードへの変換を行う
package keymap

import (
	"fmt"
	"strings"

	evdev "github.com/holoplot/go-evdev"

	"github.com/char5742/kbqueue/internal/types"
)

// Mapper はキーコードを文字コード（CookedKey）に変換する
type Mapper interface {
	// Cook は文字コードを返す。文字がなければ types.CookedNone、
	// 変換をサポートしないコードなら types.CookedUnsupported
	Cook(keycode int, shift bool) int
}

// MapperFunc は関数を Mapper として扱うためのアダプタ
type MapperFunc func(keycode int, shift bool) int

func (f MapperFunc) Cook(keycode int, shift bool) int {
	return f(keycode, shift)
}

type pair struct {
	normal, shifted rune
}

// usLayout はUS配列の文字表
var usLayout = map[evdev.EvCode]pair{
	evdev.KEY_1: {'1', '!'}, evdev.KEY_2: {'2', '@'}, evdev.KEY_3: {'3', '#'},
	evdev.KEY_4: {'4', '$'}, evdev.KEY_5: {'5', '%'}, evdev.KEY_6: {'6', '^'},
	evdev.KEY_7: {'7', '&'}, evdev.KEY_8: {'8', '*'}, evdev.KEY_9: {'9', '('},
	evdev.KEY_0: {'0', ')'},

	evdev.KEY_MINUS: {'-', '_'}, evdev.KEY_EQUAL: {'=', '+'},
	evdev.KEY_LEFTBRACE: {'[', '{'}, evdev.KEY_RIGHTBRACE: {']', '}'},
	evdev.KEY_SEMICOLON: {';', ':'}, evdev.KEY_APOSTROPHE: {'\'', '"'},
	evdev.KEY_GRAVE: {'`', '~'}, evdev.KEY_BACKSLASH: {'\\', '|'},
	evdev.KEY_COMMA: {',', '<'}, evdev.KEY_DOT: {'.', '>'},
	evdev.KEY_SLASH: {'/', '?'},

	evdev.KEY_SPACE: {' ', ' '}, evdev.KEY_TAB: {'\t', '\t'},
	evdev.KEY_ENTER: {'\r', '\r'}, evdev.KEY_BACKSPACE: {'\b', '\b'},
	evdev.KEY_ESC: {0x1b, 0x1b},

	evdev.KEY_KP0: {'0', '0'}, evdev.KEY_KP1: {'1', '1'}, evdev.KEY_KP2: {'2', '2'},
	evdev.KEY_KP3: {'3', '3'}, evdev.KEY_KP4: {'4', '4'}, evdev.KEY_KP5: {'5', '5'},
	evdev.KEY_KP6: {'6', '6'}, evdev.KEY_KP7: {'7', '7'}, evdev.KEY_KP8: {'8', '8'},
	evdev.KEY_KP9: {'9', '9'},
	evdev.KEY_KPASTERISK: {'*', '*'}, evdev.KEY_KPMINUS: {'-', '-'},
	evdev.KEY_KPPLUS: {'+', '+'}, evdev.KEY_KPDOT: {'.', '.'},
	evdev.KEY_KPSLASH: {'/', '/'}, evdev.KEY_KPENTER: {'\r', '\r'},
}

var letters = []evdev.EvCode{
	evdev.KEY_A, evdev.KEY_B, evdev.KEY_C, evdev.KEY_D, evdev.KEY_E, evdev.KEY_F,
	evdev.KEY_G, evdev.KEY_H, evdev.KEY_I, evdev.KEY_J, evdev.KEY_K, evdev.KEY_L,
	evdev.KEY_M, evdev.KEY_N, evdev.KEY_O, evdev.KEY_P, evdev.KEY_Q, evdev.KEY_R,
	evdev.KEY_S, evdev.KEY_T, evdev.KEY_U, evdev.KEY_V, evdev.KEY_W, evdev.KEY_X,
	evdev.KEY_Y, evdev.KEY_Z,
}

func init() {
	for i, code := range letters {
		usLayout[code] = pair{rune('a' + i), rune('A' + i)}
	}
}

// US はUS配列のマッパー
var US Mapper = MapperFunc(cookUS)

func cookUS(keycode int, shift bool) int {
	// ボタン類（BTN_MISC以降）は文字変換の対象外
	if keycode < 0 || keycode >= int(evdev.BTN_MISC) {
		return types.CookedUnsupported
	}
	p, ok := usLayout[evdev.EvCode(keycode)]
	if !ok {
		return types.CookedNone
	}
	if shift {
		return int(p.shifted)
	}
	return int(p.normal)
}

// IsShift はシフトキーかどうかを返す
func IsShift(keycode int) bool {
	return keycode == int(evdev.KEY_LEFTSHIFT) || keycode == int(evdev.KEY_RIGHTSHIFT)
}

// Name はキーコードの名前（KEY_A など）を返す
func Name(keycode int) string {
	return evdev.CodeName(evdev.EV_KEY, evdev.EvCode(keycode))
}

// ByName は配列名からマッパーを返す
func ByName(name string) (Mapper, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "us":
		return US, nil
	default:
		return nil, fmt.Errorf("unknown keyboard layout %q", name)
	}
}
