package jit

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tangzhangming/spujit/internal/bytecode"
	"github.com/tangzhangming/spujit/internal/spu"
)

// ============================================================================
// 单个方法的编译状态机
// ============================================================================

// Phase 编译阶段，只能按顺序前进
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseTreeConstructed
	PhaseInstructionsSelected
	PhaseRegistersAllocated
	PhaseInstructionsScheduled
	PhasePrologEpilogAdded
	PhaseAddressesPatched
)

var phaseNames = [...]string{
	PhaseInitial:               "Initial",
	PhaseTreeConstructed:       "TreeConstructed",
	PhaseInstructionsSelected:  "InstructionsSelected",
	PhaseRegistersAllocated:    "RegistersAllocated",
	PhaseInstructionsScheduled: "InstructionsScheduled",
	PhasePrologEpilogAdded:     "PrologEpilogAdded",
	PhaseAddressesPatched:      "AddressesPatched",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MethodStats 单个方法的编译统计
type MethodStats struct {
	ILInstructions int
	TreeNodes      int
	VirtualRegs    int
	EscapeSlots    int
	SpillSlots     int
	FrameSize      int
	CodeSize       int
	Leaf           bool
	Alloc          AllocStats
}

// MethodCompiler 编译一个方法
type MethodCompiler struct {
	method *bytecode.Method
	config Config
	conv   *CallingConv
	syms   SymbolResolver
	log    *zap.Logger

	phase  Phase
	tree   *TreeMethod
	regs   *regCounter
	frame  *FrameLayout
	body   []*spu.BasicBlock
	prolog *spu.BasicBlock
	epilog *spu.BasicBlock
	leaf   bool
	offset int
	stats  MethodStats
}

// NewMethodCompiler 创建方法编译器。syms 为 nil 时使用私有符号表，log 为 nil 时不输出日志
func NewMethodCompiler(m *bytecode.Method, config Config, syms SymbolResolver, log *zap.Logger) *MethodCompiler {
	if syms == nil {
		syms = NewSymbolTable()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MethodCompiler{
		method: m,
		config: config,
		conv:   &SPUConv,
		syms:   syms,
		log:    log,
		regs:   newRegCounter(),
		frame:  NewFrameLayout(&SPUConv),
		offset: -1,
	}
}

// Name 方法名
func (mc *MethodCompiler) Name() string { return mc.method.Name }

// Phase 当前阶段
func (mc *MethodCompiler) Phase() Phase { return mc.phase }

// Tree 树形 IR，构建之前为 nil
func (mc *MethodCompiler) Tree() *TreeMethod { return mc.tree }

// Frame 栈帧布局
func (mc *MethodCompiler) Frame() *FrameLayout { return mc.frame }

// Offset 修补后的入口地址，之前为 -1
func (mc *MethodCompiler) Offset() int { return mc.offset }

// Stats 编译统计
func (mc *MethodCompiler) Stats() MethodStats {
	s := mc.stats
	s.VirtualRegs = mc.regs.Count()
	s.EscapeSlots = mc.frame.EscapeSlots
	s.SpillSlots = mc.frame.SpillSlots
	s.CodeSize = mc.Size()
	return s
}

// require 检查阶段前提
func (mc *MethodCompiler) require(op string, want Phase) error {
	if mc.phase != want {
		return &PhaseError{Method: mc.method.Name, Operation: op, Have: mc.phase, Want: want}
	}
	return nil
}

func (mc *MethodCompiler) advance(p Phase) {
	mc.phase = p
	mc.log.Debug("phase", zap.String("method", mc.method.Name), zap.Stringer("phase", p))
}

// ConstructTree 构建树形 IR 并确定逃逸变量
func (mc *MethodCompiler) ConstructTree() error {
	if err := mc.require("ConstructTree", PhaseInitial); err != nil {
		return err
	}
	tm, err := BuildTree(mc.method)
	if err != nil {
		return err
	}
	tm.DetermineEscapes()
	mc.tree = tm
	mc.stats.ILInstructions = len(mc.method.Body)
	mc.stats.TreeNodes = tm.NodeCount()
	mc.advance(PhaseTreeConstructed)
	return nil
}

// SelectInstructions 指令选择，结果使用虚拟寄存器
func (mc *MethodCompiler) SelectInstructions() error {
	if err := mc.require("SelectInstructions", PhaseTreeConstructed); err != nil {
		return err
	}
	sel, err := selectInstructions(mc.tree, mc.conv, mc.frame, mc.regs, mc.syms)
	if err != nil {
		return err
	}
	mc.body = sel.blocks
	mc.leaf = sel.leaf
	mc.stats.Leaf = sel.leaf
	mc.advance(PhaseInstructionsSelected)
	return nil
}

// AllocateRegisters 把虚拟寄存器替换为硬件寄存器，必要时溢出到帧槽
func (mc *MethodCompiler) AllocateRegisters() error {
	if err := mc.require("AllocateRegisters", PhaseInstructionsSelected); err != nil {
		return err
	}
	ra := &registerAllocator{
		method:      mc.method.Name,
		kind:        mc.config.Allocator,
		colors:      mc.config.pool(),
		maxRounds:   mc.config.MaxSpillRounds,
		removeMoves: mc.config.RemoveRedundantMoves,
		log:         mc.log,
	}
	stats, err := ra.run(mc.body, mc.frame, mc.regs)
	mc.stats.Alloc = stats
	if err != nil {
		return err
	}
	if err := VerifyAllocation(mc.body); err != nil {
		return &InternalError{Method: mc.method.Name, Offset: -1, Msg: err.Error()}
	}
	mc.advance(PhaseRegistersAllocated)
	return nil
}

// ScheduleInstructions 块内调度。配置关闭调度时只推进阶段
func (mc *MethodCompiler) ScheduleInstructions() error {
	if err := mc.require("ScheduleInstructions", PhaseRegistersAllocated); err != nil {
		return err
	}
	if mc.config.Schedule {
		scheduleBlocks(mc.body)
	}
	mc.advance(PhaseInstructionsScheduled)
	return nil
}

// AddPrologEpilog 生成序言与尾声
func (mc *MethodCompiler) AddPrologEpilog() error {
	if err := mc.require("AddPrologEpilog", PhaseInstructionsScheduled); err != nil {
		return err
	}
	prolog, err := buildProlog(mc.frame, mc.leaf)
	if err != nil {
		return &AllocationError{Method: mc.method.Name, Rounds: mc.stats.Alloc.Rounds, Reason: err.Error()}
	}
	mc.prolog = prolog
	mc.epilog = buildEpilog(mc.frame, mc.leaf)
	mc.stats.FrameSize = 0
	if !(mc.leaf && mc.frame.IsEmpty()) {
		mc.stats.FrameSize = mc.frame.Size()
	}
	mc.advance(PhasePrologEpilogAdded)
	return nil
}

// PatchAddresses 以 offset 为入口地址排布并修补所有转移和对象引用
func (mc *MethodCompiler) PatchAddresses(offset int) error {
	if err := mc.require("PatchAddresses", PhasePrologEpilogAdded); err != nil {
		return err
	}
	blocks := mc.Blocks()
	LayoutBlocks(blocks, offset)
	if err := PatchBlocks(blocks, mc.epilog, mc.method.Name); err != nil {
		return err
	}
	mc.offset = offset
	mc.advance(PhaseAddressesPatched)
	return nil
}

// Run 依次执行到 PrologEpilogAdded。地址修补需要链接器给出的入口地址
func (mc *MethodCompiler) Run() error {
	steps := []func() error{
		mc.ConstructTree,
		mc.SelectInstructions,
		mc.AllocateRegisters,
		mc.ScheduleInstructions,
		mc.AddPrologEpilog,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Blocks 当前的目标块: 序言、方法体、尾声 (后两者生成之后才有)
func (mc *MethodCompiler) Blocks() []*spu.BasicBlock {
	if mc.prolog == nil {
		return mc.body
	}
	out := make([]*spu.BasicBlock, 0, len(mc.body)+2)
	out = append(out, mc.prolog)
	out = append(out, mc.body...)
	return append(out, mc.epilog)
}

// Size 机器码字节数
func (mc *MethodCompiler) Size() int {
	n := 0
	for _, b := range mc.Blocks() {
		n += b.Size()
	}
	return n
}

// Emit 编码为大端机器码，要求地址已修补
func (mc *MethodCompiler) Emit() ([]byte, error) {
	if err := mc.require("Emit", PhaseAddressesPatched); err != nil {
		return nil, err
	}
	code, err := spu.EncodeBlocks(mc.Blocks())
	if err != nil {
		return nil, &InternalError{Method: mc.method.Name, Offset: -1, Msg: err.Error()}
	}
	return code, nil
}

// Listing 反汇编文本
func (mc *MethodCompiler) Listing() string {
	var sb strings.Builder
	sb.WriteString(mc.method.Name + ":\n")
	for _, b := range mc.Blocks() {
		sb.WriteString(b.Label() + ":\n")
		for inst := b.Head; inst != nil; inst = inst.Next {
			if inst.Offset >= 0 {
				fmt.Fprintf(&sb, "  %05x  %s\n", inst.Offset, inst)
			} else {
				fmt.Fprintf(&sb, "         %s\n", inst)
			}
		}
	}
	return sb.String()
}
