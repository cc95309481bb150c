package service

import (
	"errors"
	"fmt"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBanned             = errors.New("account banned")
	ErrNoPermission       = errors.New("no permission")
	ErrUserResolution     = errors.New("user error")
	ErrUserNotFound       = errors.New("user not found")
	ErrRankNotFound       = errors.New("rank not found")
	ErrProtectedRank      = errors.New("rank is protected")
	ErrMeetingNotFound    = errors.New("meeting point not found")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidInput       = errors.New("invalid input")
)

// BanError 携带封禁剩余秒数，errors.Is(err, ErrBanned) 成立。
type BanError struct {
	Remaining int64
}

func (e *BanError) Error() string {
	return fmt.Sprintf("account banned for %d more seconds", e.Remaining)
}

func (e *BanError) Unwrap() error { return ErrBanned }
