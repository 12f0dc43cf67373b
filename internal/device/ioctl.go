package device

import (
	"bytes"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/char5742/kbqueue/internal/consts"
)

type ioctlSampler struct {
	file    *os.File
	name    string
	keyBits []byte
}

// OpenIoctl は監視するデバイスのパスを指定して EVIOCGKEY でサンプリングする Sampler を作成する
func OpenIoctl(path string) (Sampler, error) {
	// デバイスを読み取り、非ブロッキングモードで開く
	f, err := os.OpenFile(path, syscall.O_RDONLY|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("デバイスファイルを開くのに失敗しました: %w", err)
	}

	s := &ioctlSampler{
		file:    f,
		name:    path,
		keyBits: make([]byte, consts.KeyBitsSize),
	}
	if name, err := readName(f); err == nil && name != "" {
		s.name = name
	}
	return s, nil
}

func (s *ioctlSampler) Name() string {
	return s.name
}

func (s *ioctlSampler) Close() error {
	return s.file.Close()
}

func (s *ioctlSampler) Sample() ([]int, error) {
	if err := ioctl(s.file, consts.EVIOCGKEY(len(s.keyBits)), s.keyBits); err != nil {
		return nil, fmt.Errorf("EVIOCGKEY: %w", err)
	}
	return pressedFromBits(s.keyBits), nil
}

// pressedFromBits はキー状態のビット列から押されているキーコードを取り出す
func pressedFromBits(keyBits []byte) []int {
	var pressed []int
	for keyCode := 0; keyCode <= consts.KeyMax && keyCode/8 < len(keyBits); keyCode++ {
		byteIndex := keyCode / 8
		bitIndex := keyCode % 8
		if (keyBits[byteIndex] & (1 << bitIndex)) != 0 {
			pressed = append(pressed, keyCode)
		}
	}
	return pressed
}

func readName(file *os.File) (string, error) {
	buf := make([]byte, consts.MaxNameSize)
	if err := ioctl(file, consts.EVIOCGNAME(len(buf)), buf); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

func ioctl(file *os.File, req uintptr, buf []byte) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		file.Fd(),
		req,
		uintptr(unsafe.Pointer(&buf[0])),
	)
	if errno != 0 {
		return errno
	}
	return nil
}
