package types

import (
	"fmt"

	"github.com/tangzhangming/spujit/internal/bytecode"
)

// ============================================================================
// 运算结果类型
// ============================================================================

// numericResult 二元数值运算: 左操作数类别 x 右操作数类别
var numericResult = map[[2]Category]Category{
	{CategoryInt32, CategoryInt32}:         CategoryInt32,
	{CategoryInt32, CategoryNativeInt}:     CategoryNativeInt,
	{CategoryNativeInt, CategoryInt32}:     CategoryNativeInt,
	{CategoryNativeInt, CategoryNativeInt}: CategoryNativeInt,
	{CategoryInt64, CategoryInt64}:         CategoryInt64,
	{CategoryFloat32, CategoryFloat32}:     CategoryFloat32,
	{CategoryFloat64, CategoryFloat64}:     CategoryFloat64,
	{CategoryFloat32, CategoryFloat64}:     CategoryFloat64,
	{CategoryFloat64, CategoryFloat32}:     CategoryFloat64,
}

var categorySlot = map[Category]StackSlotType{
	CategoryInt32:     I4,
	CategoryInt64:     I8,
	CategoryNativeInt: NativeInt,
	CategoryFloat32:   R4,
	CategoryFloat64:   R8,
}

// BinaryResult 二元算术 / 位运算 / 移位 / 比较的结果类型
func BinaryResult(op bytecode.OpCode, a, b StackSlotType) (StackSlotType, error) {
	a, b = a.Widened(), b.Widened()
	switch op {
	case bytecode.OpCeq, bytecode.OpCgt, bytecode.OpCgtUn, bytecode.OpClt, bytecode.OpCltUn:
		if !Comparable(a, b) {
			return None, mismatch(op, a, b)
		}
		return I4, nil

	case bytecode.OpShl, bytecode.OpShr, bytecode.OpShrUn:
		if !(a.IsInteger() || (a.IsSimple() && a.Category == CategoryInt64)) || !b.IsInteger() {
			return None, mismatch(op, a, b)
		}
		return a, nil

	case bytecode.OpAdd, bytecode.OpSub:
		// 指针运算
		if a.IsPointer() || b.IsPointer() {
			switch {
			case a.IsPointer() && b.IsInteger():
				return a, nil
			case op == bytecode.OpAdd && a.IsInteger() && b.IsPointer():
				return b, nil
			case op == bytecode.OpSub && a.IsPointer() && b.IsPointer():
				return NativeInt, nil
			}
			return None, mismatch(op, a, b)
		}
	}

	if !a.IsSimple() || !b.IsSimple() {
		return None, mismatch(op, a, b)
	}
	cat, ok := numericResult[[2]Category{a.Category, b.Category}]
	if !ok {
		return None, mismatch(op, a, b)
	}
	switch op {
	case bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor, bytecode.OpDivUn, bytecode.OpRemUn:
		if cat == CategoryFloat32 || cat == CategoryFloat64 {
			return None, mismatch(op, a, b)
		}
	}
	res := categorySlot[cat]
	if !a.Signed && !b.Signed {
		res.Signed = false
	}
	return res, nil
}

// Comparable 两个值能否比较
func Comparable(a, b StackSlotType) bool {
	a, b = a.Widened(), b.Widened()
	if a.IsPointer() || b.IsPointer() {
		return (a.IsPointer() || a.IsInteger()) && (b.IsPointer() || b.IsInteger())
	}
	if a.IsArray || b.IsArray || a.Category == CategoryObject || b.Category == CategoryObject {
		return (a.IsArray || a.Category == CategoryObject) && (b.IsArray || b.Category == CategoryObject)
	}
	_, ok := numericResult[[2]Category{a.Category, b.Category}]
	return ok
}

// UnaryResult neg / not
func UnaryResult(op bytecode.OpCode, a StackSlotType) (StackSlotType, error) {
	a = a.Widened()
	if !a.IsSimple() {
		return None, fmt.Errorf("%s: invalid operand type %s", op, a)
	}
	switch op {
	case bytecode.OpNeg:
		if _, ok := categorySlot[a.Category]; ok {
			return a, nil
		}
	case bytecode.OpNot:
		if a.IsInteger() || a.Category == CategoryInt64 {
			return a, nil
		}
	}
	return None, fmt.Errorf("%s: invalid operand type %s", op, a)
}

// ConversionResult conv.* 的结果类型
func ConversionResult(op bytecode.OpCode, a StackSlotType) (StackSlotType, error) {
	if !a.IsSimple() && !a.IsPointer() {
		return None, fmt.Errorf("%s: invalid operand type %s", op, a)
	}
	switch op {
	case bytecode.OpConvI4:
		return I4, nil
	case bytecode.OpConvU4:
		return U4, nil
	case bytecode.OpConvI:
		return NativeInt, nil
	case bytecode.OpConvI8:
		return I8, nil
	case bytecode.OpConvR4:
		return R4, nil
	case bytecode.OpConvR8:
		return R8, nil
	}
	return None, fmt.Errorf("%s is not a conversion", op)
}

func mismatch(op bytecode.OpCode, a, b StackSlotType) error {
	return fmt.Errorf("%s: invalid operand types %s and %s", op, a, b)
}
