package types

import (
	"testing"

	"github.com/tangzhangming/spujit/internal/bytecode"
)

// TestFromTypeDesc 元数据类型映射
func TestFromTypeDesc(t *testing.T) {
	tests := []struct {
		in   *bytecode.TypeDesc
		want StackSlotType
	}{
		{bytecode.TypeI4, I4},
		{bytecode.TypeR4, R4},
		{bytecode.TypeI, NativeInt},
		{bytecode.PointerTo(bytecode.TypeI4), I4.PointerTo()},
		{bytecode.ByRefTo(bytecode.TypeR4), R4.PointerTo()},
		{bytecode.ArrayOf(bytecode.TypeI4), I4.ArrayOf()},
	}
	for _, tt := range tests {
		got, err := FromTypeDesc(tt.in)
		if err != nil {
			t.Errorf("FromTypeDesc(%s): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FromTypeDesc(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := FromTypeDesc(bytecode.PointerTo(bytecode.PointerTo(bytecode.TypeI4))); err == nil {
		t.Error("expected error for pointer to pointer")
	}
	if _, err := FromTypeDesc(bytecode.ArrayOf(bytecode.PointerTo(bytecode.TypeI4))); err == nil {
		t.Error("expected error for array of pointers")
	}
}

// TestSlotTypeComparable 值语义
func TestSlotTypeComparable(t *testing.T) {
	m := map[StackSlotType]int{I4: 1, R4: 2}
	if m[StackSlotType{Category: CategoryInt32, Width: 4, Signed: true}] != 1 {
		t.Error("equal slot types should hash equally")
	}
	if I4.PointerTo().Deref() != I4 {
		t.Error("PointerTo/Deref round trip failed")
	}
	if I4.ArrayOf().Elem() != I4 {
		t.Error("ArrayOf/Elem round trip failed")
	}
}

// TestIndirectionPanics 指针的指针和数组的数组不合法
func TestIndirectionPanics(t *testing.T) {
	mustPanic := func(name string, f func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		f()
	}
	mustPanic("PointerTo pointer", func() { I4.PointerTo().PointerTo() })
	mustPanic("ArrayOf array", func() { I4.ArrayOf().ArrayOf() })
	mustPanic("Deref simple", func() { I4.Deref() })
}

// TestBinaryResult 二元运算结果表
func TestBinaryResult(t *testing.T) {
	tests := []struct {
		op   bytecode.OpCode
		a, b StackSlotType
		want StackSlotType
		ok   bool
	}{
		{bytecode.OpAdd, I4, I4, I4, true},
		{bytecode.OpAdd, I4, NativeInt, NativeInt, true},
		{bytecode.OpMul, R4, R4, R4, true},
		{bytecode.OpAdd, R4, R8, R8, true},
		{bytecode.OpAdd, I4, R4, None, false},
		{bytecode.OpAnd, R4, R4, None, false},
		{bytecode.OpAdd, I4, I8, None, false},
		{bytecode.OpAdd, I4.PointerTo(), I4, I4.PointerTo(), true},
		{bytecode.OpSub, I4.PointerTo(), I4.PointerTo(), NativeInt, true},
		{bytecode.OpMul, I4.PointerTo(), I4, None, false},
		{bytecode.OpCgt, I4, I4, I4, true},
		{bytecode.OpCeq, Object, I4.ArrayOf(), I4, true},
		{bytecode.OpShl, I4, I4, I4, true},
		{bytecode.OpAdd, StackSlotType{Category: CategoryInt32, Width: 1}, I4, I4, true},
	}
	for _, tt := range tests {
		got, err := BinaryResult(tt.op, tt.a, tt.b)
		if (err == nil) != tt.ok {
			t.Errorf("%s(%s, %s): err = %v, want ok=%v", tt.op, tt.a, tt.b, err, tt.ok)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("%s(%s, %s) = %s, want %s", tt.op, tt.a, tt.b, got, tt.want)
		}
	}
}

// TestConversionResult conv.* 结果
func TestConversionResult(t *testing.T) {
	if got, _ := ConversionResult(bytecode.OpConvR4, I4); got != R4 {
		t.Errorf("conv.r4 = %s", got)
	}
	if got, _ := ConversionResult(bytecode.OpConvI4, R4); got != I4 {
		t.Errorf("conv.i4 = %s", got)
	}
	if _, err := ConversionResult(bytecode.OpAdd, I4); err == nil {
		t.Error("add is not a conversion")
	}
}
