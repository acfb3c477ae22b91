package spu

import "fmt"

// ============================================================================
// 指令集描述
// ============================================================================

// Format 指令编码格式
type Format uint8

const (
	FormatRR   Format = iota // 11 位操作码, rb, ra, rt
	FormatRRR                // 4 位操作码, rt, rb, ra, rc
	FormatRI7                // 11 位操作码, 7 位立即数, ra, rt
	FormatRI8                // 10 位操作码, 8 位立即数, ra, rt
	FormatRI10               // 8 位操作码, 10 位立即数, ra, rt
	FormatRI16               // 9 位操作码, 16 位立即数, rt
	FormatRI18               // 7 位操作码, 18 位立即数, rt
	FormatPseudo             // 伪指令，修补阶段前必须被替换
)

// Pipeline 执行流水线
type Pipeline uint8

const (
	PipeEven Pipeline = iota // 定点 / 浮点 / 移位
	PipeOdd                  // 访存 / 分支 / 重排 / 通道
)

func (p Pipeline) String() string {
	if p == PipeEven {
		return "even"
	}
	return "odd"
}

// Operands 指令使用哪些寄存器字段及其读写方向
type Operands uint8

const (
	RtDef Operands = 1 << iota
	RtUse
	RaUse
	RbUse
	RcUse
)

// Effect 指令的副作用
type Effect uint8

const (
	EffectMemRead Effect = 1 << iota
	EffectMemWrite
	EffectChannel
	EffectCall
	EffectBranch     // 无条件转移，必须位于指令序列末尾
	EffectCondBranch // 条件转移
)

// OpCode 目标指令
type OpCode uint8

const (
	OpA OpCode = iota
	OpSf
	OpAnd
	OpOr
	OpXor
	OpNor
	OpCeq
	OpCgt
	OpClgt
	OpShl
	OpRot
	OpRotm
	OpRotma
	OpMpy
	OpMpyu
	OpMpyh
	OpFa
	OpFs
	OpFm
	OpFceq
	OpFcgt
	OpAi
	OpSfi
	OpAndi
	OpOri
	OpXori
	OpCeqi
	OpCgti
	OpClgti
	OpMpyi
	OpShli
	OpRoti
	OpRotmi
	OpRotmai
	OpIl
	OpIlhu
	OpIlh
	OpIohl
	OpIla
	OpCsflt
	OpCflts
	OpSelb
	OpNop

	OpLqd
	OpStqd
	OpLqx
	OpStqx
	OpLqr
	OpStqr
	OpRotqby
	OpRotqbyi
	OpShlqbyi
	OpCwd
	OpShufb
	OpBr
	OpBrsl
	OpBrz
	OpBrnz
	OpBi
	OpBisl
	OpRdch
	OpWrch
	OpLnop

	// OpRet 返回伪指令，修补时改写为跳转到尾声的 br
	OpRet

	opCount
)

// OpInfo 指令的静态属性
type OpInfo struct {
	Name     string
	Format   Format
	Code     uint32
	Pipe     Pipeline
	Latency  int
	Operands Operands
	Effects  Effect
}

const (
	rrr = RtDef | RaUse | RbUse
	ri  = RtDef | RaUse
)

var opTable = [opCount]OpInfo{
	OpA:      {"a", FormatRR, 0x0C0, PipeEven, 2, rrr, 0},
	OpSf:     {"sf", FormatRR, 0x040, PipeEven, 2, rrr, 0},
	OpAnd:    {"and", FormatRR, 0x0C1, PipeEven, 2, rrr, 0},
	OpOr:     {"or", FormatRR, 0x041, PipeEven, 2, rrr, 0},
	OpXor:    {"xor", FormatRR, 0x241, PipeEven, 2, rrr, 0},
	OpNor:    {"nor", FormatRR, 0x049, PipeEven, 2, rrr, 0},
	OpCeq:    {"ceq", FormatRR, 0x3C0, PipeEven, 2, rrr, 0},
	OpCgt:    {"cgt", FormatRR, 0x240, PipeEven, 2, rrr, 0},
	OpClgt:   {"clgt", FormatRR, 0x2C0, PipeEven, 2, rrr, 0},
	OpShl:    {"shl", FormatRR, 0x05B, PipeEven, 4, rrr, 0},
	OpRot:    {"rot", FormatRR, 0x058, PipeEven, 4, rrr, 0},
	OpRotm:   {"rotm", FormatRR, 0x059, PipeEven, 4, rrr, 0},
	OpRotma:  {"rotma", FormatRR, 0x05A, PipeEven, 4, rrr, 0},
	OpMpy:    {"mpy", FormatRR, 0x3C4, PipeEven, 7, rrr, 0},
	OpMpyu:   {"mpyu", FormatRR, 0x3CC, PipeEven, 7, rrr, 0},
	OpMpyh:   {"mpyh", FormatRR, 0x3C5, PipeEven, 7, rrr, 0},
	OpFa:     {"fa", FormatRR, 0x2C4, PipeEven, 6, rrr, 0},
	OpFs:     {"fs", FormatRR, 0x2C5, PipeEven, 6, rrr, 0},
	OpFm:     {"fm", FormatRR, 0x2C6, PipeEven, 6, rrr, 0},
	OpFceq:   {"fceq", FormatRR, 0x3C2, PipeEven, 2, rrr, 0},
	OpFcgt:   {"fcgt", FormatRR, 0x2C2, PipeEven, 2, rrr, 0},
	OpAi:     {"ai", FormatRI10, 0x1C, PipeEven, 2, ri, 0},
	OpSfi:    {"sfi", FormatRI10, 0x0C, PipeEven, 2, ri, 0},
	OpAndi:   {"andi", FormatRI10, 0x14, PipeEven, 2, ri, 0},
	OpOri:    {"ori", FormatRI10, 0x04, PipeEven, 2, ri, 0},
	OpXori:   {"xori", FormatRI10, 0x44, PipeEven, 2, ri, 0},
	OpCeqi:   {"ceqi", FormatRI10, 0x7C, PipeEven, 2, ri, 0},
	OpCgti:   {"cgti", FormatRI10, 0x4C, PipeEven, 2, ri, 0},
	OpClgti:  {"clgti", FormatRI10, 0x5C, PipeEven, 2, ri, 0},
	OpMpyi:   {"mpyi", FormatRI10, 0x74, PipeEven, 7, ri, 0},
	OpShli:   {"shli", FormatRI7, 0x07B, PipeEven, 4, ri, 0},
	OpRoti:   {"roti", FormatRI7, 0x078, PipeEven, 4, ri, 0},
	OpRotmi:  {"rotmi", FormatRI7, 0x079, PipeEven, 4, ri, 0},
	OpRotmai: {"rotmai", FormatRI7, 0x07A, PipeEven, 4, ri, 0},
	OpIl:     {"il", FormatRI16, 0x081, PipeEven, 2, RtDef, 0},
	OpIlhu:   {"ilhu", FormatRI16, 0x082, PipeEven, 2, RtDef, 0},
	OpIlh:    {"ilh", FormatRI16, 0x083, PipeEven, 2, RtDef, 0},
	OpIohl:   {"iohl", FormatRI16, 0x0C1, PipeEven, 2, RtDef | RtUse, 0},
	OpIla:    {"ila", FormatRI18, 0x21, PipeEven, 2, RtDef, 0},
	OpCsflt:  {"csflt", FormatRI8, 0x3B4, PipeEven, 7, ri, 0},
	OpCflts:  {"cflts", FormatRI8, 0x3B0, PipeEven, 7, ri, 0},
	OpSelb:   {"selb", FormatRRR, 0x8, PipeEven, 2, rrr | RcUse, 0},
	OpNop:    {"nop", FormatRR, 0x201, PipeEven, 1, 0, 0},

	OpLqd:     {"lqd", FormatRI10, 0x34, PipeOdd, 6, ri, EffectMemRead},
	OpStqd:    {"stqd", FormatRI10, 0x24, PipeOdd, 6, RtUse | RaUse, EffectMemWrite},
	OpLqx:     {"lqx", FormatRR, 0x1C4, PipeOdd, 6, rrr, EffectMemRead},
	OpStqx:    {"stqx", FormatRR, 0x144, PipeOdd, 6, RtUse | RaUse | RbUse, EffectMemWrite},
	OpLqr:     {"lqr", FormatRI16, 0x067, PipeOdd, 6, RtDef, EffectMemRead},
	OpStqr:    {"stqr", FormatRI16, 0x047, PipeOdd, 6, RtUse, EffectMemWrite},
	OpRotqby:  {"rotqby", FormatRR, 0x1DC, PipeOdd, 4, rrr, 0},
	OpRotqbyi: {"rotqbyi", FormatRI7, 0x1FC, PipeOdd, 4, ri, 0},
	OpShlqbyi: {"shlqbyi", FormatRI7, 0x1FF, PipeOdd, 4, ri, 0},
	OpCwd:     {"cwd", FormatRI7, 0x1F6, PipeOdd, 4, ri, 0},
	OpShufb:   {"shufb", FormatRRR, 0xB, PipeOdd, 4, rrr | RcUse, 0},
	OpBr:      {"br", FormatRI16, 0x064, PipeOdd, 4, 0, EffectBranch},
	OpBrsl:    {"brsl", FormatRI16, 0x066, PipeOdd, 4, RtDef, EffectCall},
	OpBrz:     {"brz", FormatRI16, 0x040, PipeOdd, 4, RtUse, EffectCondBranch},
	OpBrnz:    {"brnz", FormatRI16, 0x042, PipeOdd, 4, RtUse, EffectCondBranch},
	OpBi:      {"bi", FormatRR, 0x1A8, PipeOdd, 4, RaUse, EffectBranch},
	OpBisl:    {"bisl", FormatRR, 0x1A9, PipeOdd, 4, ri, EffectCall},
	OpRdch:    {"rdch", FormatRR, 0x00D, PipeOdd, 6, RtDef, EffectChannel},
	OpWrch:    {"wrch", FormatRR, 0x10D, PipeOdd, 6, RtUse, EffectChannel},
	OpLnop:    {"lnop", FormatRR, 0x001, PipeOdd, 1, 0, 0},

	OpRet: {"ret", FormatPseudo, 0, PipeOdd, 4, 0, EffectBranch},
}

// Info 返回指令描述
func (op OpCode) Info() *OpInfo {
	if op >= opCount {
		panic(fmt.Sprintf("spu: invalid opcode %d", op))
	}
	return &opTable[op]
}

func (op OpCode) String() string {
	if op >= opCount {
		return fmt.Sprintf("op(%d)", op)
	}
	return opTable[op].Name
}

// Has 是否带有副作用 e
func (info *OpInfo) Has(e Effect) bool {
	return info.Effects&e != 0
}

// IsTerminator 无条件转移 (块内最后一条)
func (info *OpInfo) IsTerminator() bool {
	return info.Effects&EffectBranch != 0
}

// IsBranch 任何转移 (不含调用)
func (info *OpInfo) IsBranch() bool {
	return info.Effects&(EffectBranch|EffectCondBranch) != 0
}
