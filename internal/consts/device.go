package consts

// evdev デバイスの定数（input.h / input-event-codes.h から）
const (
	KeyMax      = 0x2ff        // キーコードの最大値
	KeyBitsSize = KeyMax/8 + 1 // キー状態ビット列のバイト数
	MaxNameSize = 256          // デバイス名の最大サイズ
)

// ioctl 番号の組み立て（asm-generic/ioctl.h）
const (
	iocRead      = 2
	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

// EVIOCGKEY はキー状態取得用のIOCTL番号を返す
func EVIOCGKEY(size int) uintptr {
	return ioc(iocRead, 'E', 0x18, uintptr(size))
}

// EVIOCGNAME はデバイス名取得用のIOCTL番号を返す
func EVIOCGNAME(size int) uintptr {
	return ioc(iocRead, 'E', 0x06, uintptr(size))
}
