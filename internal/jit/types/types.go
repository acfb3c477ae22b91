// Package types 定义求值栈上的值类型 (StackSlotType) 及其运算规则
package types

import (
	"fmt"

	"github.com/tangzhangming/spujit/internal/bytecode"
)

// ============================================================================
// 栈槽类型
// ============================================================================

// Category 栈槽类别
type Category uint8

const (
	CategoryNone Category = iota
	CategoryInt32
	CategoryInt64
	CategoryNativeInt
	CategoryFloat32
	CategoryFloat64
	CategoryValueType
	CategoryObject
)

var categoryNames = [...]string{
	CategoryNone:      "none",
	CategoryInt32:     "int32",
	CategoryInt64:     "int64",
	CategoryNativeInt: "native int",
	CategoryFloat32:   "float32",
	CategoryFloat64:   "float64",
	CategoryValueType: "valuetype",
	CategoryObject:    "object",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", c)
}

// StackSlotType 求值栈上一个值的类型。可比较，可直接作为 map 键
type StackSlotType struct {
	Category    Category
	Width       int  // 字节宽度
	Signed      bool // 整数是否有符号
	Indirection int  // 指针层数
	IsArray     bool
	Complex     *bytecode.TypeDesc // 值类型 / 对象的元数据
}

// 常用栈槽类型
var (
	None      = StackSlotType{}
	I4        = StackSlotType{Category: CategoryInt32, Width: 4, Signed: true}
	U4        = StackSlotType{Category: CategoryInt32, Width: 4}
	I8        = StackSlotType{Category: CategoryInt64, Width: 8, Signed: true}
	NativeInt = StackSlotType{Category: CategoryNativeInt, Width: 4, Signed: true}
	R4        = StackSlotType{Category: CategoryFloat32, Width: 4, Signed: true}
	R8        = StackSlotType{Category: CategoryFloat64, Width: 8, Signed: true}
	Object    = StackSlotType{Category: CategoryObject, Width: 4}
)

// primitiveSlots 基本类型到栈槽类型的映射，窄整数按声明宽度记录
var primitiveSlots = map[bytecode.TypeKind]StackSlotType{
	bytecode.KindBool:   {Category: CategoryInt32, Width: 1},
	bytecode.KindChar:   {Category: CategoryInt32, Width: 2},
	bytecode.KindI1:     {Category: CategoryInt32, Width: 1, Signed: true},
	bytecode.KindU1:     {Category: CategoryInt32, Width: 1},
	bytecode.KindI2:     {Category: CategoryInt32, Width: 2, Signed: true},
	bytecode.KindU2:     {Category: CategoryInt32, Width: 2},
	bytecode.KindI4:     I4,
	bytecode.KindU4:     U4,
	bytecode.KindI8:     I8,
	bytecode.KindU8:     {Category: CategoryInt64, Width: 8},
	bytecode.KindI:      NativeInt,
	bytecode.KindU:      {Category: CategoryNativeInt, Width: 4},
	bytecode.KindR4:     R4,
	bytecode.KindR8:     R8,
	bytecode.KindObject: Object,
	bytecode.KindString: {Category: CategoryObject, Width: 4, Complex: bytecode.TypeStr},
}

// FromTypeDesc 从元数据类型得到栈槽类型
func FromTypeDesc(t *bytecode.TypeDesc) (StackSlotType, error) {
	if t == nil {
		return None, fmt.Errorf("nil type")
	}
	switch t.Kind {
	case bytecode.KindVoid:
		return None, nil
	case bytecode.KindPointer, bytecode.KindByRef:
		elem, err := FromTypeDesc(t.Elem)
		if err != nil {
			return None, err
		}
		if elem.Indirection > 0 {
			return None, fmt.Errorf("multi-level pointer %s is not supported", t)
		}
		return elem.PointerTo(), nil
	case bytecode.KindArray:
		elem, err := FromTypeDesc(t.Elem)
		if err != nil {
			return None, err
		}
		if !elem.IsSimple() {
			return None, fmt.Errorf("array of %s is not supported", t.Elem)
		}
		return elem.ArrayOf(), nil
	case bytecode.KindValueType:
		return StackSlotType{Category: CategoryValueType, Width: t.Size, Complex: t}, nil
	}
	if s, ok := primitiveSlots[t.Kind]; ok {
		return s, nil
	}
	return None, fmt.Errorf("no stack representation for %s", t)
}

// IsSimple 非指针、非数组
func (s StackSlotType) IsSimple() bool {
	return s.Indirection == 0 && !s.IsArray
}

// IsPointer 指针或托管引用
func (s StackSlotType) IsPointer() bool {
	return s.Indirection > 0
}

// IsInteger 32 位或 native 整数
func (s StackSlotType) IsInteger() bool {
	return s.IsSimple() && (s.Category == CategoryInt32 || s.Category == CategoryNativeInt)
}

// IsFloat 浮点
func (s StackSlotType) IsFloat() bool {
	return s.IsSimple() && (s.Category == CategoryFloat32 || s.Category == CategoryFloat64)
}

// IsWide 64 位值 (整数或浮点)，目标机器的标量运算不支持
func (s StackSlotType) IsWide() bool {
	return s.IsSimple() && (s.Category == CategoryInt64 || s.Category == CategoryFloat64)
}

// PointerTo 指向 s 的指针，s 本身不能是指针
func (s StackSlotType) PointerTo() StackSlotType {
	if s.Indirection != 0 {
		panic(fmt.Sprintf("types: PointerTo on pointer type %s", s))
	}
	p := s
	p.Indirection = 1
	return p
}

// Deref 解引用得到元素类型
func (s StackSlotType) Deref() StackSlotType {
	if s.Indirection == 0 {
		panic(fmt.Sprintf("types: Deref on non-pointer type %s", s))
	}
	e := s
	e.Indirection--
	return e
}

// ArrayOf 以 s 为元素的数组，s 必须是简单类型
func (s StackSlotType) ArrayOf() StackSlotType {
	if !s.IsSimple() {
		panic(fmt.Sprintf("types: ArrayOf on non-simple type %s", s))
	}
	a := s
	a.IsArray = true
	return a
}

// Elem 数组元素类型
func (s StackSlotType) Elem() StackSlotType {
	if !s.IsArray || s.Indirection != 0 {
		panic(fmt.Sprintf("types: Elem on non-array type %s", s))
	}
	e := s
	e.IsArray = false
	return e
}

// Widened 栈上的值：窄整数扩展为 int32
func (s StackSlotType) Widened() StackSlotType {
	if s.IsSimple() && s.Category == CategoryInt32 && s.Width < 4 {
		w := s
		w.Width = 4
		w.Signed = true
		return w
	}
	return s
}

func (s StackSlotType) String() string {
	if s.Category == CategoryNone {
		return "none"
	}
	str := s.Category.String()
	if s.Complex != nil && s.Category == CategoryValueType {
		str = s.Complex.String()
	} else if s.Category == CategoryInt32 && s.Width < 4 {
		str = fmt.Sprintf("int%d", s.Width*8)
	}
	if !s.Signed && (s.Category == CategoryInt32 || s.Category == CategoryInt64) {
		str = "u" + str
	}
	if s.IsArray {
		str += "[]"
	}
	for i := 0; i < s.Indirection; i++ {
		str += "*"
	}
	return str
}
