package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Intrinsic 映射到硬件指令而不是真实调用的方法
type Intrinsic byte

const (
	IntrinsicNone Intrinsic = iota
	IntrinsicReadChannel
	IntrinsicWriteChannel
)

var intrinsicNames = map[string]Intrinsic{
	"":              IntrinsicNone,
	"read_channel":  IntrinsicReadChannel,
	"write_channel": IntrinsicWriteChannel,
}

// MethodRef 被调用方法的签名
type MethodRef struct {
	Name      string
	Params    []*TypeDesc
	Returns   *TypeDesc
	Intrinsic Intrinsic
}

// HasResult 是否有返回值
func (m *MethodRef) HasResult() bool {
	return m.Returns != nil && m.Returns.Kind != KindVoid
}

// FieldRef 静态字段引用
type FieldRef struct {
	Name string
	Type *TypeDesc
}

// Operand 指令的带标签操作数
type Operand struct {
	Kind   OperandKind
	Int    int64
	Float  float64
	Index  int // 局部变量 / 参数编号
	Target int // 分支目标字节偏移
	Method *MethodRef
	Field  *FieldRef
}

// Instruction 解码后的一条字节码指令
type Instruction struct {
	Offset  int
	Op      OpCode
	Operand Operand
}

// Size 编码长度
func (i Instruction) Size() int {
	return i.Op.Info().Size
}

// Next 下一条指令的偏移
func (i Instruction) Next() int {
	return i.Offset + i.Size()
}

func (i Instruction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "IL_%04x: %s", i.Offset, i.Op)
	switch i.Operand.Kind {
	case OperandInt:
		sb.WriteString(" " + strconv.FormatInt(i.Operand.Int, 10))
	case OperandFloat:
		sb.WriteString(" " + strconv.FormatFloat(i.Operand.Float, 'g', -1, 64))
	case OperandLocal, OperandParam:
		sb.WriteString(" " + strconv.Itoa(i.Operand.Index))
	case OperandTarget:
		fmt.Fprintf(&sb, " IL_%04x", i.Operand.Target)
	case OperandMethod:
		sb.WriteString(" " + i.Operand.Method.Name)
	case OperandField:
		sb.WriteString(" " + i.Operand.Field.Name)
	}
	return sb.String()
}

// Method 方法体与签名
type Method struct {
	Name    string
	Params  []*TypeDesc
	Locals  []*TypeDesc
	Returns *TypeDesc
	Body    []Instruction
}

// Ref 方法自身的引用，供调用方使用
func (m *Method) Ref() *MethodRef {
	return &MethodRef{Name: m.Name, Params: m.Params, Returns: m.Returns}
}

// Disassemble 反汇编方法体
func (m *Method) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", m.Name)
	for _, inst := range m.Body {
		sb.WriteString(inst.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Validate 检查操作数种类和下标范围
func (m *Method) Validate() error {
	offsets := make(map[int]bool, len(m.Body))
	next := 0
	for _, inst := range m.Body {
		if inst.Offset != next {
			return fmt.Errorf("%s: IL_%04x: expected offset IL_%04x", m.Name, inst.Offset, next)
		}
		offsets[inst.Offset] = true
		next = inst.Next()
	}
	for _, inst := range m.Body {
		info := inst.Op.Info()
		if !inst.Op.Valid() {
			return fmt.Errorf("%s: IL_%04x: invalid opcode %d", m.Name, inst.Offset, inst.Op)
		}
		if inst.Operand.Kind != info.Operand {
			return fmt.Errorf("%s: IL_%04x: %s expects operand kind %d, got %d", m.Name, inst.Offset, inst.Op, info.Operand, inst.Operand.Kind)
		}
		switch info.Operand {
		case OperandLocal:
			if inst.Operand.Index < 0 || inst.Operand.Index >= len(m.Locals) {
				return fmt.Errorf("%s: IL_%04x: local %d out of range", m.Name, inst.Offset, inst.Operand.Index)
			}
		case OperandParam:
			if inst.Operand.Index < 0 || inst.Operand.Index >= len(m.Params) {
				return fmt.Errorf("%s: IL_%04x: parameter %d out of range", m.Name, inst.Offset, inst.Operand.Index)
			}
		case OperandTarget:
			if !offsets[inst.Operand.Target] {
				return fmt.Errorf("%s: IL_%04x: branch target IL_%04x is not an instruction", m.Name, inst.Offset, inst.Operand.Target)
			}
		case OperandMethod:
			if inst.Operand.Method == nil {
				return fmt.Errorf("%s: IL_%04x: missing method reference", m.Name, inst.Offset)
			}
		case OperandField:
			if inst.Operand.Field == nil {
				return fmt.Errorf("%s: IL_%04x: missing field reference", m.Name, inst.Offset)
			}
		}
	}
	return nil
}
