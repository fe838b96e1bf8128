package service

import (
	"errors"
	"fmt"

	"FestSync/internal/model"
	"FestSync/internal/repository"
)

// ErrorKind 同步错误分类，HTTP 层据此映射状态码
type ErrorKind string

const (
	// KindValidation 未知类型、缺少必填字段、业务主键冲突；不重试
	KindValidation ErrorKind = "VALIDATION"
	// KindNotFound 主库ID或表格行不存在；不自动重试
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindRateLimit 限流重试耗尽
	KindRateLimit ErrorKind = "RATE_LIMIT"
	// KindRemoteUnavailable 与表格服务通信失败
	KindRemoteUnavailable ErrorKind = "REMOTE_UNAVAILABLE"
	// KindDecode 表格单元格数据异常，仅影响单个字段/行
	KindDecode ErrorKind = "DECODE"
	// KindStore 主库读写失败，对当前操作总是致命
	KindStore ErrorKind = "STORE"
)

// SyncError 同步操作失败，携带足够的上下文用于人工对账
type SyncError struct {
	Kind    ErrorKind
	Op      string
	Type    model.SyncType
	ID      string
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Kind, e.Op)
	if e.Type != "" {
		msg += " " + string(e.Type)
	}
	if e.ID != "" {
		msg += " id=" + e.ID
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, t model.SyncType, id, message string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Type: t, ID: id, Message: message, Err: err}
}

// KindOf 取错误分类；非 SyncError 返回空串
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

func IsRemoteUnavailable(err error) bool { return KindOf(err) == KindRemoteUnavailable }

// IsConflict 业务主键重复（校验错误的一种）
func IsConflict(err error) bool {
	return IsValidation(err) && errors.Is(err, repository.ErrDuplicateKey)
}

// storeError 主库错误归类：不存在 / 主键冲突 / 其它
func storeError(op string, t model.SyncType, id string, err error) *SyncError {
	switch {
	case errors.Is(err, repository.ErrRecordNotFound):
		return newError(KindNotFound, op, t, id, "主库中不存在该记录", err)
	case errors.Is(err, repository.ErrDuplicateKey):
		return newError(KindValidation, op, t, id, "业务主键已存在", err)
	default:
		return newError(KindStore, op, t, id, "主库操作失败", err)
	}
}
