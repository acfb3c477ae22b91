package bytecode

import (
	"fmt"
	"strings"
)

// OpCode 栈式字节码操作码
type OpCode byte

const (
	OpNop OpCode = iota

	// 参数与局部变量
	OpLdarg  // 加载参数
	OpLdarga // 加载参数地址
	OpStarg  // 存储参数
	OpLdloc  // 加载局部变量
	OpLdloca // 加载局部变量地址
	OpStloc  // 存储局部变量

	// 常量
	OpLdcI4
	OpLdcI8
	OpLdcR4
	OpLdcR8
	OpLdnull

	// 栈操作
	OpDup
	OpPop

	// 算术 / 位运算
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpDivUn
	OpRem
	OpRemUn
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpShrUn
	OpNeg
	OpNot

	// 比较
	OpCeq
	OpCgt
	OpCgtUn
	OpClt
	OpCltUn

	// 类型转换
	OpConvI4
	OpConvU4
	OpConvI
	OpConvI8
	OpConvR4
	OpConvR8

	// 控制流
	OpBr
	OpBrfalse
	OpBrtrue
	OpBeq
	OpBneUn
	OpBge
	OpBgeUn
	OpBgt
	OpBgtUn
	OpBle
	OpBleUn
	OpBlt
	OpBltUn
	OpCall
	OpRet

	// 间接访问
	OpLdindI4
	OpLdindU4
	OpLdindI
	OpLdindR4
	OpLdindI8
	OpLdindR8
	OpStindI4
	OpStindI
	OpStindR4
	OpStindI8
	OpStindR8

	// 数组
	OpLdlen
	OpLdelemI4
	OpLdelemR4
	OpStelemI4
	OpStelemR4

	// 静态字段
	OpLdsfld
	OpStsfld

	opCount
)

// VarPop / VarPush 表示出入栈数量取决于操作数 (call / ret)
const (
	VarPop  = -1
	VarPush = -1
)

// FlowKind 控制流类型
type FlowKind byte

const (
	FlowNext FlowKind = iota
	FlowBranch
	FlowCondBranch
	FlowCall
	FlowReturn
)

// OperandKind 操作数种类
type OperandKind byte

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandFloat
	OperandLocal
	OperandParam
	OperandTarget
	OperandMethod
	OperandField
)

// OpInfo 操作码的静态描述
type OpInfo struct {
	Name    string
	Pop     int // VarPop 表示可变
	Push    int // VarPush 表示可变
	Flow    FlowKind
	Operand OperandKind
	Size    int // 编码后的字节数 (操作码 + 操作数)
}

// opTable 操作码描述表，初始化后不可修改
var opTable = [opCount]OpInfo{
	OpNop:    {"nop", 0, 0, FlowNext, OperandNone, 1},
	OpLdarg:  {"ldarg", 0, 1, FlowNext, OperandParam, 3},
	OpLdarga: {"ldarga", 0, 1, FlowNext, OperandParam, 3},
	OpStarg:  {"starg", 1, 0, FlowNext, OperandParam, 3},
	OpLdloc:  {"ldloc", 0, 1, FlowNext, OperandLocal, 3},
	OpLdloca: {"ldloca", 0, 1, FlowNext, OperandLocal, 3},
	OpStloc:  {"stloc", 1, 0, FlowNext, OperandLocal, 3},

	OpLdcI4:  {"ldc.i4", 0, 1, FlowNext, OperandInt, 5},
	OpLdcI8:  {"ldc.i8", 0, 1, FlowNext, OperandInt, 9},
	OpLdcR4:  {"ldc.r4", 0, 1, FlowNext, OperandFloat, 5},
	OpLdcR8:  {"ldc.r8", 0, 1, FlowNext, OperandFloat, 9},
	OpLdnull: {"ldnull", 0, 1, FlowNext, OperandNone, 1},

	OpDup: {"dup", 1, 2, FlowNext, OperandNone, 1},
	OpPop: {"pop", 1, 0, FlowNext, OperandNone, 1},

	OpAdd:   {"add", 2, 1, FlowNext, OperandNone, 1},
	OpSub:   {"sub", 2, 1, FlowNext, OperandNone, 1},
	OpMul:   {"mul", 2, 1, FlowNext, OperandNone, 1},
	OpDiv:   {"div", 2, 1, FlowNext, OperandNone, 1},
	OpDivUn: {"div.un", 2, 1, FlowNext, OperandNone, 1},
	OpRem:   {"rem", 2, 1, FlowNext, OperandNone, 1},
	OpRemUn: {"rem.un", 2, 1, FlowNext, OperandNone, 1},
	OpAnd:   {"and", 2, 1, FlowNext, OperandNone, 1},
	OpOr:    {"or", 2, 1, FlowNext, OperandNone, 1},
	OpXor:   {"xor", 2, 1, FlowNext, OperandNone, 1},
	OpShl:   {"shl", 2, 1, FlowNext, OperandNone, 1},
	OpShr:   {"shr", 2, 1, FlowNext, OperandNone, 1},
	OpShrUn: {"shr.un", 2, 1, FlowNext, OperandNone, 1},
	OpNeg:   {"neg", 1, 1, FlowNext, OperandNone, 1},
	OpNot:   {"not", 1, 1, FlowNext, OperandNone, 1},

	OpCeq:   {"ceq", 2, 1, FlowNext, OperandNone, 2},
	OpCgt:   {"cgt", 2, 1, FlowNext, OperandNone, 2},
	OpCgtUn: {"cgt.un", 2, 1, FlowNext, OperandNone, 2},
	OpClt:   {"clt", 2, 1, FlowNext, OperandNone, 2},
	OpCltUn: {"clt.un", 2, 1, FlowNext, OperandNone, 2},

	OpConvI4: {"conv.i4", 1, 1, FlowNext, OperandNone, 1},
	OpConvU4: {"conv.u4", 1, 1, FlowNext, OperandNone, 1},
	OpConvI:  {"conv.i", 1, 1, FlowNext, OperandNone, 1},
	OpConvI8: {"conv.i8", 1, 1, FlowNext, OperandNone, 1},
	OpConvR4: {"conv.r4", 1, 1, FlowNext, OperandNone, 1},
	OpConvR8: {"conv.r8", 1, 1, FlowNext, OperandNone, 1},

	OpBr:      {"br", 0, 0, FlowBranch, OperandTarget, 5},
	OpBrfalse: {"brfalse", 1, 0, FlowCondBranch, OperandTarget, 5},
	OpBrtrue:  {"brtrue", 1, 0, FlowCondBranch, OperandTarget, 5},
	OpBeq:     {"beq", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBneUn:   {"bne.un", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBge:     {"bge", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBgeUn:   {"bge.un", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBgt:     {"bgt", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBgtUn:   {"bgt.un", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBle:     {"ble", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBleUn:   {"ble.un", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBlt:     {"blt", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpBltUn:   {"blt.un", 2, 0, FlowCondBranch, OperandTarget, 5},
	OpCall:    {"call", VarPop, VarPush, FlowCall, OperandMethod, 5},
	OpRet:     {"ret", VarPop, 0, FlowReturn, OperandNone, 1},

	OpLdindI4: {"ldind.i4", 1, 1, FlowNext, OperandNone, 1},
	OpLdindU4: {"ldind.u4", 1, 1, FlowNext, OperandNone, 1},
	OpLdindI:  {"ldind.i", 1, 1, FlowNext, OperandNone, 1},
	OpLdindR4: {"ldind.r4", 1, 1, FlowNext, OperandNone, 1},
	OpLdindI8: {"ldind.i8", 1, 1, FlowNext, OperandNone, 1},
	OpLdindR8: {"ldind.r8", 1, 1, FlowNext, OperandNone, 1},
	OpStindI4: {"stind.i4", 2, 0, FlowNext, OperandNone, 1},
	OpStindI:  {"stind.i", 2, 0, FlowNext, OperandNone, 1},
	OpStindR4: {"stind.r4", 2, 0, FlowNext, OperandNone, 1},
	OpStindI8: {"stind.i8", 2, 0, FlowNext, OperandNone, 1},
	OpStindR8: {"stind.r8", 2, 0, FlowNext, OperandNone, 1},

	OpLdlen:    {"ldlen", 1, 1, FlowNext, OperandNone, 1},
	OpLdelemI4: {"ldelem.i4", 2, 1, FlowNext, OperandNone, 1},
	OpLdelemR4: {"ldelem.r4", 2, 1, FlowNext, OperandNone, 1},
	OpStelemI4: {"stelem.i4", 3, 0, FlowNext, OperandNone, 1},
	OpStelemR4: {"stelem.r4", 3, 0, FlowNext, OperandNone, 1},

	OpLdsfld: {"ldsfld", 0, 1, FlowNext, OperandField, 5},
	OpStsfld: {"stsfld", 1, 0, FlowNext, OperandField, 5},
}

var opByName = func() map[string]OpCode {
	m := make(map[string]OpCode, opCount)
	for op := OpCode(0); op < opCount; op++ {
		m[opTable[op].Name] = op
	}
	return m
}()

// Info 返回操作码描述
func (op OpCode) Info() OpInfo {
	if op >= opCount {
		return OpInfo{Name: fmt.Sprintf("UNKNOWN(%d)", op)}
	}
	return opTable[op]
}

// Valid 操作码是否已定义
func (op OpCode) Valid() bool {
	return op < opCount
}

func (op OpCode) String() string {
	return op.Info().Name
}

// IsBranch 是否是分支指令 (无条件或条件)
func (op OpCode) IsBranch() bool {
	f := op.Info().Flow
	return f == FlowBranch || f == FlowCondBranch
}

// ParseOpCode 按助记符查找操作码 (大小写不敏感)
func ParseOpCode(name string) (OpCode, bool) {
	op, ok := opByName[strings.ToLower(name)]
	return op, ok
}
