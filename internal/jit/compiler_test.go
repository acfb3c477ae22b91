package jit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	bc "github.com/tangzhangming/spujit/internal/bytecode"
)

func testModule() *bc.Module {
	sq := square()
	return &bc.Module{Methods: []*bc.Method{sq, sumOfSquares(sq.Ref()), maxMethod(), sumLoop("sum", true)}}
}

func divide(name string) *bc.Method {
	a := bc.NewAssembler(name, bc.TypeI4, bc.TypeI4, bc.TypeI4)
	a.EmitParam(bc.OpLdarg, 0).EmitParam(bc.OpLdarg, 1).Emit(bc.OpDiv).Emit(bc.OpRet)
	return a.MustFinish()
}

func TestNewCompilerValidatesConfig(t *testing.T) {
	for _, c := range []Config{
		{Allocator: "greedy"},
		withColors(AllocatorGraph, 2),
		withColors(AllocatorGraph, 500),
		{Allocator: AllocatorLinear, MaxSpillRounds: -1},
		{Allocator: AllocatorAuto, Parallelism: -2},
	} {
		if _, err := NewCompiler(c, nil); err == nil {
			t.Errorf("config %+v accepted", c)
		}
	}
}

func TestCompileModuleCache(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c, err := NewCompiler(DefaultConfig(), zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	first, err := c.CompileModule(ctx, testModule())
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.CompileModule(ctx, testModule())
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("identical module compiled twice")
	}
	st := c.Stats()
	if st.CacheHits != 1 || st.CacheMisses != 1 {
		t.Errorf("hits = %d, misses = %d", st.CacheHits, st.CacheMisses)
	}
	if st.MethodsCompiled != 4 {
		t.Errorf("MethodsCompiled = %d, want 4", st.MethodsCompiled)
	}
	if logs.FilterMessage("module linked").Len() != 1 {
		t.Errorf("module linked logged %d times", logs.FilterMessage("module linked").Len())
	}
	if logs.FilterMessage("module cache hit").Len() != 1 {
		t.Error("cache hit not logged")
	}

	c.Reset()
	third, err := c.CompileModule(ctx, testModule())
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("cache survived Reset")
	}
	if c.Stats().CacheMisses != 2 {
		t.Errorf("misses = %d after Reset", c.Stats().CacheMisses)
	}
	if third.Image.Digest != first.Image.Digest {
		t.Error("recompiling changed the image")
	}
}

func TestCompileModuleDeterministic(t *testing.T) {
	serial := DefaultConfig()
	serial.Parallelism = 1
	var digests [][32]byte
	for _, cfg := range []Config{DefaultConfig(), serial, DefaultConfig()} {
		c, _ := NewCompiler(cfg, nil)
		res, err := c.CompileModule(context.Background(), testModule())
		if err != nil {
			t.Fatal(err)
		}
		digests = append(digests, res.Image.Digest)
	}
	for i := 1; i < len(digests); i++ {
		if digests[i] != digests[0] {
			t.Errorf("build %d differs from build 0", i)
		}
	}
}

func TestCompileModuleCollectsErrors(t *testing.T) {
	mod := &bc.Module{Methods: []*bc.Method{divide("q1"), maxMethod(), divide("q2")}}
	c, _ := NewCompiler(DefaultConfig(), nil)
	res, err := c.CompileModule(context.Background(), mod)
	if res != nil {
		t.Error("result returned with errors")
	}
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("got %d errors, want one per failing method: %v", n, err)
	}
	st := c.Stats()
	if st.Failures != 2 || st.MethodsCompiled != 1 {
		t.Errorf("failures = %d, compiled = %d", st.Failures, st.MethodsCompiled)
	}
	if st.CacheMisses != 1 {
		t.Errorf("misses = %d", st.CacheMisses)
	}
	// 失败的模块不进入缓存
	if _, err := c.CompileModule(context.Background(), mod); err == nil {
		t.Error("failed module served from the cache")
	}
}

func TestCompileModuleCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, _ := NewCompiler(DefaultConfig(), nil)
	_, err := c.CompileModule(ctx, testModule())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if c.Stats().MethodsCompiled != 0 {
		t.Errorf("compiled %d methods after cancellation", c.Stats().MethodsCompiled)
	}
}

func TestCompileMethodStats(t *testing.T) {
	c, _ := NewCompiler(DefaultConfig(), nil)
	var il int64
	for _, m := range []*bc.Method{maxMethod(), ternary(), wide(6)} {
		mc, err := c.CompileMethod(m, nil)
		if err != nil {
			t.Fatal(err)
		}
		if mc.Phase() != PhasePrologEpilogAdded {
			t.Errorf("%s: phase %s", m.Name, mc.Phase())
		}
		il += int64(len(m.Body))
	}
	st := c.Stats()
	if st.MethodsCompiled != 3 || st.Failures != 0 {
		t.Errorf("compiled = %d, failures = %d", st.MethodsCompiled, st.Failures)
	}
	if st.ILInstructions != il {
		t.Errorf("ILInstructions = %d, want %d", st.ILInstructions, il)
	}
	if st.CodeBytes == 0 || st.CodeBytes%4 != 0 {
		t.Errorf("CodeBytes = %d", st.CodeBytes)
	}
	if st.CompileTime <= 0 {
		t.Errorf("CompileTime = %s", st.CompileTime)
	}

	if _, err := c.CompileMethod(divide("q"), nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v", err)
	}
	if c.Stats().Failures != 1 {
		t.Errorf("failures = %d", c.Stats().Failures)
	}
}
