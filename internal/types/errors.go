package types

import "errors"

// キューエンジン共通のエラー
var (
	ErrNotFound          = errors.New("queue not found")
	ErrAlreadyExists     = errors.New("queue already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrDeviceUnavailable = errors.New("device unavailable")
)
