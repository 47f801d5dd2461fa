package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind 错误分类
type Kind string

const (
	KindValidation   Kind = "validation"
	KindEligibility  Kind = "eligibility"
	KindVerification Kind = "verification"
	KindConsistency  Kind = "consistency"
	KindDependency   Kind = "dependency"
	KindNotFound     Kind = "not_found"
)

// Reason 入金资格拒绝原因
type Reason string

const (
	ReasonNoPaymentMethod      Reason = "NO_PAYMENT_METHOD"
	ReasonNoActiveGame         Reason = "NO_ACTIVE_GAME"
	ReasonRateLimited          Reason = "RATE_LIMITED"
	ReasonDepositCapReached    Reason = "DEPOSIT_CAP_REACHED"
	ReasonDuplicateTransaction Reason = "DUPLICATE_TRANSACTION"
	ReasonTooManyRequests      Reason = "TOO_MANY_REQUESTS"
)

var reasonMessages = map[Reason]string{
	ReasonNoPaymentMethod:      "Connect a verified wallet address to your Farcaster account before joining a chain.",
	ReasonNoActiveGame:         "There is no active game right now. Check back when the next round starts.",
	ReasonRateLimited:          "You can only add one link per cooldown window. Please wait before depositing again.",
	ReasonDepositCapReached:    "You have reached the maximum number of deposits for this game.",
	ReasonDuplicateTransaction: "This transaction has already been used for a deposit.",
	ReasonTooManyRequests:      "Too many deposit attempts. Please slow down and try again shortly.",
}

// RetryLaterMessage 依赖不可用时返回给用户的通用提示
const RetryLaterMessage = "Something went wrong on our side. Please retry later."

// Error 业务错误
type Error struct {
	Kind       Kind
	Reason     Reason        // 仅 KindEligibility
	RetryAfter time.Duration // 仅 RATE_LIMITED
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + string(e.Reason)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation 输入不合法
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound 资源不存在
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Denied 资格检查未通过
func Denied(reason Reason) *Error {
	return &Error{Kind: KindEligibility, Reason: reason, Message: reasonMessages[reason]}
}

// RateLimited 冷却期内，retryAfter 为剩余等待时间
func RateLimited(retryAfter time.Duration) *Error {
	e := Denied(ReasonRateLimited)
	e.RetryAfter = retryAfter
	return e
}

// Throttled 入口按分钟限流，与业务冷却期区分
func Throttled(retryAfter time.Duration) *Error {
	e := Denied(ReasonTooManyRequests)
	e.RetryAfter = retryAfter
	return e
}

// Verification 链上确认失败（本次尝试终止，调用方可重新发起）
func Verification(err error, format string, args ...any) *Error {
	return &Error{Kind: KindVerification, Message: fmt.Sprintf(format, args...), Err: err}
}

// Consistency 写入时检测到唯一约束冲突
func Consistency(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConsistency, Message: fmt.Sprintf(format, args...), Err: err}
}

// Dependency 数据库/RPC/外部接口不可用，可重试
func Dependency(err error, format string, args ...any) *Error {
	return &Error{Kind: KindDependency, Message: fmt.Sprintf(format, args...), Err: err}
}

// As 取出 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 错误分类，非业务错误视为 KindDependency
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindDependency
}

// ReasonOf 拒绝原因；ConsistencyError 对外表现为 DUPLICATE_TRANSACTION
func ReasonOf(err error) Reason {
	e, ok := As(err)
	if !ok {
		return ""
	}
	if e.Kind == KindConsistency {
		return ReasonDuplicateTransaction
	}
	return e.Reason
}

// IsDenied 是否为资格拒绝（含一致性冲突）
func IsDenied(err error) bool {
	k := KindOf(err)
	return k == KindEligibility || k == KindConsistency
}

// ReasonMessage 拒绝原因的用户提示
func ReasonMessage(r Reason) string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return RetryLaterMessage
}

// HTTPStatus 映射 HTTP 状态码
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindEligibility, KindConsistency:
		switch ReasonOf(err) {
		case ReasonRateLimited, ReasonTooManyRequests:
			return http.StatusTooManyRequests
		case ReasonDuplicateTransaction:
			return http.StatusConflict
		default:
			return http.StatusForbidden
		}
	case KindVerification:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

// PublicMessage 返回给用户的文案：依赖错误统一为稍后重试
func PublicMessage(err error) string {
	e, ok := As(err)
	if !ok || e.Kind == KindDependency {
		return RetryLaterMessage
	}
	if e.Kind == KindEligibility || e.Kind == KindConsistency {
		return ReasonMessage(ReasonOf(err))
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}
