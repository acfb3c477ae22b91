package jit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/tangzhangming/spujit/internal/bytecode"
)

// ============================================================================
// 编译器驱动
// ============================================================================

// Compiler 编译方法和模块，可被多个 goroutine 同时使用
type Compiler struct {
	config Config
	log    *zap.Logger

	// 模块内容摘要 -> *ModuleResult
	cache sync.Map

	stats compilerCounters
}

type compilerCounters struct {
	methods     atomic.Int64
	failures    atomic.Int64
	ilInsts     atomic.Int64
	codeBytes   atomic.Int64
	spilled     atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	compileTime atomic.Duration
}

// CompilerStats 编译器统计
type CompilerStats struct {
	MethodsCompiled int64         // 成功编译的方法数
	Failures        int64         // 失败的方法数
	ILInstructions  int64         // 字节码指令总数
	CodeBytes       int64         // 机器码总字节数
	SpilledRegs     int64         // 溢出的虚拟寄存器总数
	CacheHits       int64         // 模块缓存命中
	CacheMisses     int64         // 模块缓存未命中
	CompileTime     time.Duration // 累计编译时间
}

// ModuleResult 模块编译结果
type ModuleResult struct {
	Image   *Image
	Methods []*MethodCompiler
}

// NewCompiler 创建编译器。log 为 nil 时不输出日志
func NewCompiler(config Config, log *zap.Logger) (*Compiler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{config: config, log: log}, nil
}

// Config 编译配置
func (c *Compiler) Config() Config {
	return c.config
}

// CompileMethod 编译单个方法直到序言/尾声生成。syms 为 nil 时使用私有符号表
func (c *Compiler) CompileMethod(m *bytecode.Method, syms SymbolResolver) (*MethodCompiler, error) {
	start := time.Now()
	mc := NewMethodCompiler(m, c.config, syms, c.log)
	err := mc.Run()
	elapsed := time.Since(start)
	c.stats.compileTime.Add(elapsed)

	if err != nil {
		c.stats.failures.Inc()
		c.log.Debug("compile failed", zap.String("method", m.Name), zap.Error(err))
		return mc, err
	}
	st := mc.Stats()
	c.stats.methods.Inc()
	c.stats.ilInsts.Add(int64(st.ILInstructions))
	c.stats.codeBytes.Add(int64(st.CodeSize))
	c.stats.spilled.Add(int64(st.Alloc.Spilled))
	c.log.Debug("compiled",
		zap.String("method", m.Name),
		zap.Int("il", st.ILInstructions),
		zap.Int("bytes", st.CodeSize),
		zap.Int("spilled", st.Alloc.Spilled),
		zap.String("allocator", string(st.Alloc.Strategy)),
		zap.Duration("elapsed", elapsed))
	return mc, nil
}

// CompileModule 并发编译模块中的所有方法并链接成映像。
// 所有方法的错误合并后一起返回。相同内容的模块直接返回缓存结果
func (c *Compiler) CompileModule(ctx context.Context, mod *bytecode.Module) (*ModuleResult, error) {
	key := c.moduleKey(mod)
	if cached, ok := c.cache.Load(key); ok {
		c.stats.cacheHits.Inc()
		c.log.Debug("module cache hit", zap.Binary("key", key[:8]))
		return cached.(*ModuleResult), nil
	}
	c.stats.cacheMisses.Inc()

	syms := NewSymbolTable()
	for _, f := range mod.Fields {
		syms.Data(f)
	}

	methods := make([]*MethodCompiler, len(mod.Methods))
	errs := make([]error, len(mod.Methods))
	g, gctx := errgroup.WithContext(ctx)
	if c.config.Parallelism > 0 {
		g.SetLimit(c.config.Parallelism)
	}
	for i, m := range mod.Methods {
		i, m := i, m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			methods[i], errs[i] = c.CompileMethod(m, syms)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}

	img, err := Link(methods, syms)
	if err != nil {
		return nil, err
	}
	res := &ModuleResult{Image: img, Methods: methods}
	c.cache.Store(key, res)
	c.log.Info("module linked",
		zap.Int("methods", len(methods)),
		zap.Int("bytes", img.Size()),
		zap.Binary("digest", img.Digest[:8]))
	return res, nil
}

// moduleKey 模块内容和配置的摘要
func (c *Compiler) moduleKey(mod *bytecode.Module) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	fmt.Fprintf(h, "%+v\n", c.config)
	for _, e := range mod.Externs {
		fmt.Fprintf(h, "extern %s %v %v %d\n", e.Name, e.Params, e.Returns, e.Intrinsic)
	}
	for _, f := range mod.Fields {
		fmt.Fprintf(h, "field %s %v\n", f.Name, f.Type)
	}
	for _, m := range mod.Methods {
		fmt.Fprintf(h, "method %v %v %v\n", m.Params, m.Locals, m.Returns)
		h.Write([]byte(m.Disassemble()))
	}
	var key [blake2b.Size256]byte
	copy(key[:], h.Sum(nil))
	return key
}

// Stats 统计快照
func (c *Compiler) Stats() CompilerStats {
	return CompilerStats{
		MethodsCompiled: c.stats.methods.Load(),
		Failures:        c.stats.failures.Load(),
		ILInstructions:  c.stats.ilInsts.Load(),
		CodeBytes:       c.stats.codeBytes.Load(),
		SpilledRegs:     c.stats.spilled.Load(),
		CacheHits:       c.stats.cacheHits.Load(),
		CacheMisses:     c.stats.cacheMisses.Load(),
		CompileTime:     c.stats.compileTime.Load(),
	}
}

// Reset 清空缓存
func (c *Compiler) Reset() {
	c.cache.Range(func(k, _ interface{}) bool {
		c.cache.Delete(k)
		return true
	})
}
