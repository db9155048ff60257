package pipeline

import (
	"errors"
	"fmt"
)

// パイプライン全体で使うエラーコード
const (
	CodePartition         = "PARTITION_FAILED"
	CodeBatchTransform    = "BATCH_TRANSFORM_FAILED"
	CodeAggregationFormat = "AGGREGATION_FORMAT"
	CodeAggregationKey    = "AGGREGATION_KEY"
	CodePartialFailure    = "PARTIAL_FAILURE"
	CodeFinalization      = "FINALIZATION_FAILED"
)

// Error はエラーコード付きのパイプラインエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError はエラーコード付きのエラーを生成します。
func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode は err が指定コードのパイプラインエラーを含むかを判定します。
func HasCode(err error, code string) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsAggregationError は出力の確定前に結合を中断したエラーかを判定します。
func IsAggregationError(err error) bool {
	return HasCode(err, CodeAggregationFormat) ||
		HasCode(err, CodeAggregationKey) ||
		HasCode(err, CodePartialFailure)
}
