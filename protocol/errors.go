package protocol

import "errors"

var (
	// ErrMalformed 载荷结构非法（长度、取值范围、非有限浮点）
	ErrMalformed = errors.New("malformed payload")
	// ErrUnknownKind 未知的消息类型
	ErrUnknownKind = errors.New("unknown message kind")
)
