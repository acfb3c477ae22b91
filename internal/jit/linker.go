package jit

import (
	"sort"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/crypto/blake2b"

	"github.com/tangzhangming/spujit/internal/bytecode"
	"github.com/tangzhangming/spujit/internal/spu"
)

// ============================================================================
// 符号表与模块链接
// ============================================================================

// SymbolResolver 指令选择时解析被调用例程和静态字段
type SymbolResolver interface {
	Routine(name string) spu.ObjectRef
	Data(field *bytecode.FieldRef) spu.ObjectRef
}

// SymbolTable 模块内的例程和数据对象，可被并发编译的方法共享
type SymbolTable struct {
	mu       sync.Mutex
	routines map[string]*spu.Symbol
	data     map[string]*spu.Symbol
}

// NewSymbolTable 创建空符号表
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		routines: make(map[string]*spu.Symbol),
		data:     make(map[string]*spu.Symbol),
	}
}

// Routine 实现 SymbolResolver
func (t *SymbolTable) Routine(name string) spu.ObjectRef {
	return t.RoutineSymbol(name)
}

// RoutineSymbol 按名字取例程符号，不存在时创建未布局的符号
func (t *SymbolTable) RoutineSymbol(name string) *spu.Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.routines[name]
	if !ok {
		s = spu.NewRoutineSymbol(name)
		t.routines[name] = s
	}
	return s
}

// Data 静态字段对应的数据对象，每个字段独占一个四字
func (t *SymbolTable) Data(field *bytecode.FieldRef) spu.ObjectRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.data[field.Name]
	if !ok {
		size := 16
		if field.Type != nil && field.Type.Size > size {
			size = field.Type.Size
		}
		s = spu.NewDataSymbol(field.Name, size)
		t.data[field.Name] = s
	}
	return s
}

// DataSymbols 按名字排序的数据对象
func (t *SymbolTable) DataSymbols() []*spu.Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*spu.Symbol, 0, len(t.data))
	for _, s := range t.data {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *SymbolTable) resetOffsets() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.routines {
		s.Offset = -1
	}
	for _, s := range t.data {
		s.Offset = -1
	}
}

// Image 链接后的本地存储映像: 代码在前，数据对象按 16 字节对齐跟在后面
type Image struct {
	Code    []byte
	Entries map[string]int // 例程名 -> 入口地址
	Data    map[string]int // 数据对象名 -> 地址
	Digest  [blake2b.Size256]byte
}

// Size 映像字节数
func (img *Image) Size() int {
	return len(img.Code)
}

// Link 把已完成序言/尾声的方法依次排布、修补并编码。
// 引用了未定义例程的调用以 ErrNotFound 报告
func Link(methods []*MethodCompiler, syms *SymbolTable) (*Image, error) {
	syms.resetOffsets()
	img := &Image{Entries: make(map[string]int), Data: make(map[string]int)}

	pc := 0
	for _, mc := range methods {
		if err := mc.require("link", PhasePrologEpilogAdded); err != nil {
			return nil, err
		}
		syms.RoutineSymbol(mc.Name()).Offset = pc
		img.Entries[mc.Name()] = pc
		pc += mc.Size()
	}
	codeEnd := pc
	pc = (pc + 15) &^ 15
	data := syms.DataSymbols()
	for _, s := range data {
		s.Offset = pc
		img.Data[s.Name] = pc
		pc += len(s.Data)
	}

	var errs error
	for _, mc := range methods {
		errs = multierr.Append(errs, mc.PatchAddresses(img.Entries[mc.Name()]))
	}
	if errs != nil {
		return nil, errs
	}

	img.Code = make([]byte, 0, pc)
	for _, mc := range methods {
		code, err := mc.Emit()
		if err != nil {
			return nil, err
		}
		img.Code = append(img.Code, code...)
	}
	img.Code = append(img.Code, make([]byte, pc-codeEnd-dataSize(data))...)
	for _, s := range data {
		img.Code = append(img.Code, s.Data...)
	}
	img.Digest = blake2b.Sum256(img.Code)
	return img, nil
}

func dataSize(data []*spu.Symbol) int {
	n := 0
	for _, s := range data {
		n += len(s.Data)
	}
	return n
}
