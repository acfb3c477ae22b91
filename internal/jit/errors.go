package jit

import (
	"errors"
	"fmt"

	"github.com/tangzhangming/spujit/internal/bytecode"
	"github.com/tangzhangming/spujit/internal/jit/types"
)

// 错误类别，可用 errors.Is 判断
var (
	ErrInternal    = errors.New("internal compiler error")
	ErrUnsupported = errors.New("unsupported")
	ErrPhaseOrder  = errors.New("compiler phase out of order")
	ErrAllocation  = errors.New("register allocation failed")
	ErrNotFound    = errors.New("symbol not found")
)

// InternalError 字节码不合法或编译器自身不变量被破坏
type InternalError struct {
	Method string
	Offset int // 字节码偏移，-1 表示无
	Op     bytecode.OpCode
	Msg    string
}

func (e *InternalError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%s: %s: %s", ErrInternal, e.Method, e.Msg)
	}
	return fmt.Sprintf("%s: %s: IL_%04x %s: %s", ErrInternal, e.Method, e.Offset, e.Op, e.Msg)
}

func (e *InternalError) Unwrap() error { return ErrInternal }

// UnsupportedError 合法但目标机器或当前实现不支持的操作
type UnsupportedError struct {
	Method string
	Offset int
	Op     bytecode.OpCode
	Type   types.StackSlotType
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s: IL_%04x %s (%s): %s", ErrUnsupported, e.Method, e.Offset, e.Op, e.Type, e.Reason)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// PhaseError 编译阶段调用顺序错误
type PhaseError struct {
	Method    string
	Operation string
	Have      Phase
	Want      Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s: %s requires phase %s, method is in phase %s",
		ErrPhaseOrder, e.Method, e.Operation, e.Want, e.Have)
}

func (e *PhaseError) Unwrap() error { return ErrPhaseOrder }

// AllocationError 溢出轮数超过上限或寄存器池不足
type AllocationError struct {
	Method string
	Rounds int
	Reason string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("%s: %s: after %d rounds: %s", ErrAllocation, e.Method, e.Rounds, e.Reason)
}

func (e *AllocationError) Unwrap() error { return ErrAllocation }

// NotFoundError 链接时找不到引用的例程或数据对象
type NotFoundError struct {
	Symbol   string
	Referrer string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %q referenced from %s", ErrNotFound, e.Symbol, e.Referrer)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
