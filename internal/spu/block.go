package spu

import "fmt"

// BasicBlock 以双向链表保存指令的基本块
type BasicBlock struct {
	Name       string
	Head, Tail *Instruction
	Offset     int // 布局后第一条指令的字节地址
	count      int
}

// NewBlock 创建空块
func NewBlock(name string) *BasicBlock {
	return &BasicBlock{Name: name, Offset: -1}
}

// Label 反汇编中使用的标签
func (b *BasicBlock) Label() string {
	if b.Name != "" {
		return "." + b.Name
	}
	return fmt.Sprintf(".L%p", b)
}

// Len 指令条数
func (b *BasicBlock) Len() int {
	return b.count
}

// Append 追加到块尾
func (b *BasicBlock) Append(inst *Instruction) *Instruction {
	inst.block = b
	inst.Prev, inst.Next = b.Tail, nil
	if b.Tail != nil {
		b.Tail.Next = inst
	} else {
		b.Head = inst
	}
	b.Tail = inst
	b.count++
	return inst
}

// InsertBefore 在 mark 之前插入
func (b *BasicBlock) InsertBefore(mark, inst *Instruction) {
	if mark == nil {
		b.Append(inst)
		return
	}
	inst.block = b
	inst.Prev, inst.Next = mark.Prev, mark
	if mark.Prev != nil {
		mark.Prev.Next = inst
	} else {
		b.Head = inst
	}
	mark.Prev = inst
	b.count++
}

// InsertAfter 在 mark 之后插入
func (b *BasicBlock) InsertAfter(mark, inst *Instruction) {
	if mark == nil || mark == b.Tail {
		b.Append(inst)
		return
	}
	b.InsertBefore(mark.Next, inst)
}

// Remove 从块中摘除
func (b *BasicBlock) Remove(inst *Instruction) {
	if inst.Prev != nil {
		inst.Prev.Next = inst.Next
	} else {
		b.Head = inst.Next
	}
	if inst.Next != nil {
		inst.Next.Prev = inst.Prev
	} else {
		b.Tail = inst.Prev
	}
	inst.Prev, inst.Next, inst.block = nil, nil, nil
	b.count--
}

// Instructions 按顺序返回指令切片 (快照)
func (b *BasicBlock) Instructions() []*Instruction {
	out := make([]*Instruction, 0, b.count)
	for i := b.Head; i != nil; i = i.Next {
		out = append(out, i)
	}
	return out
}

// Relink 按给定顺序重建链表
func (b *BasicBlock) Relink(insts []*Instruction) {
	b.Head, b.Tail, b.count = nil, nil, 0
	for _, i := range insts {
		b.Append(i)
	}
}

// Size 编码后的字节数
func (b *BasicBlock) Size() int {
	return b.count * 4
}

// ObjectRef 可被指令按地址引用的对象: 例程入口或数据对象
type ObjectRef interface {
	ObjectName() string
	// ObjectOffset 镜像中的字节地址，尚未布局时为 -1
	ObjectOffset() int
}

// SymbolKind 符号种类
type SymbolKind uint8

const (
	SymbolRoutine SymbolKind = iota
	SymbolData
)

// Symbol 模块级符号 (例程或数据)
type Symbol struct {
	Name   string
	Kind   SymbolKind
	Offset int
	Data   []byte // 数据对象内容，长度为 16 的倍数
}

// NewRoutineSymbol 例程入口符号
func NewRoutineSymbol(name string) *Symbol {
	return &Symbol{Name: name, Kind: SymbolRoutine, Offset: -1}
}

// NewDataSymbol 数据对象，大小向上取整到四字
func NewDataSymbol(name string, size int) *Symbol {
	size = (size + 15) &^ 15
	if size == 0 {
		size = 16
	}
	return &Symbol{Name: name, Kind: SymbolData, Offset: -1, Data: make([]byte, size)}
}

func (s *Symbol) ObjectName() string { return s.Name }

func (s *Symbol) ObjectOffset() int { return s.Offset }
