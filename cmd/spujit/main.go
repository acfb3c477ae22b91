package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/tangzhangming/spujit/internal/bytecode"
	"github.com/tangzhangming/spujit/internal/jit"
	"github.com/tangzhangming/spujit/internal/project"
)

const (
	Version = "0.1.0"
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	switch args[0] {
	case "compile":
		os.Exit(cmdCompile(args[1:]))
	case "init":
		os.Exit(cmdInit(args[1:]))
	case "version", "--version":
		fmt.Printf("spujit %s\n", Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("spujit - stack bytecode to SPU compiler")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  spujit <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  compile <file.json>   compile a method file into a local store image")
	fmt.Println("  init                  write a default " + project.ConfigFileName)
	fmt.Println("  version               print the version")
	fmt.Println("  help                  print this help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  spujit compile -listing kernels.json")
	fmt.Println("  spujit compile -allocator linear -o out.img kernels.json")
}

// compileReport -json 输出
type compileReport struct {
	Input   string            `json:"input"`
	Image   string            `json:"image"`
	Size    int               `json:"size"`
	Digest  string            `json:"digest"`
	Data    map[string]int    `json:"data,omitempty"`
	Methods []methodReport    `json:"methods"`
	Stats   jit.CompilerStats `json:"stats"`
}

type methodReport struct {
	Name      string `json:"name"`
	Entry     int    `json:"entry"`
	Size      int    `json:"size"`
	Frame     int    `json:"frame"`
	Leaf      bool   `json:"leaf"`
	VRegs     int    `json:"vregs"`
	Spilled   int    `json:"spilled"`
	Rounds    int    `json:"rounds"`
	Allocator string `json:"allocator"`
	Listing   string `json:"listing,omitempty"`
}

// cmdCompile 编译方法文件
func cmdCompile(args []string) int {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default: nearest "+project.ConfigFileName+")")
	output := fs.String("o", "", "output image path")
	listing := fs.Bool("listing", false, "print the disassembly of every method")
	asJSON := fs.Bool("json", false, "print a JSON report instead of text")
	verbose := fs.Bool("v", false, "verbose logging")
	allocator := fs.String("allocator", "", "register allocator: graph, linear, auto")
	colors := fs.Int("colors", -1, "number of registers available to the allocator (0 = all)")

	fs.Usage = func() {
		fmt.Println("Usage: spujit compile [options] <file.json>")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fs.Usage()
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "error: no input file")
		return 1
	}
	input := fs.Arg(0)
	rep := NewReporter(os.Stderr)

	cfg, err := loadProjectConfig(*configPath, input)
	if err != nil {
		rep.ReportError(*configPath, err)
		return 1
	}
	if *allocator != "" {
		cfg.JIT.Allocator = jit.AllocatorKind(*allocator)
	}
	if *colors >= 0 {
		cfg.JIT.MaxColors = *colors
	}
	if *listing {
		cfg.Output.Listing = true
	}

	log := zap.NewNop()
	if *verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			log = l
			defer log.Sync()
		}
	}

	mod, err := bytecode.LoadModuleFile(input)
	if err != nil {
		rep.ReportError(input, err)
		return 1
	}
	c, err := jit.NewCompiler(cfg.JIT, log)
	if err != nil {
		rep.ReportError(input, err)
		return 1
	}
	res, err := c.CompileModule(context.Background(), mod)
	if err != nil {
		rep.ReportError(input, err)
		fmt.Fprintln(os.Stderr, rep.Summary())
		return 1
	}

	imgPath := *output
	if imgPath == "" {
		imgPath = cfg.Output.Image
	}
	if imgPath == "" {
		imgPath = strings.TrimSuffix(input, filepath.Ext(input)) + ".img"
	}
	if err := os.WriteFile(imgPath, res.Image.Code, 0644); err != nil {
		rep.ReportError(imgPath, err)
		return 1
	}

	report := buildReport(input, imgPath, res, c.Stats(), cfg.Output.Listing)
	if *asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			rep.ReportError(input, err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	printReport(report)
	return 0
}

// loadProjectConfig 显式路径优先，否则从输入文件向上查找，都没有则用默认值
func loadProjectConfig(path, input string) (*project.Config, error) {
	if path == "" {
		path = project.FindConfigFile(input)
	}
	if path == "" {
		return project.Default(), nil
	}
	return project.LoadConfig(path)
}

func buildReport(input, imgPath string, res *jit.ModuleResult, stats jit.CompilerStats, listing bool) *compileReport {
	r := &compileReport{
		Input:  input,
		Image:  imgPath,
		Size:   res.Image.Size(),
		Digest: hex.EncodeToString(res.Image.Digest[:]),
		Data:   res.Image.Data,
		Stats:  stats,
	}
	for _, mc := range res.Methods {
		st := mc.Stats()
		m := methodReport{
			Name:      mc.Name(),
			Entry:     mc.Offset(),
			Size:      st.CodeSize,
			Frame:     st.FrameSize,
			Leaf:      st.Leaf,
			VRegs:     st.VirtualRegs,
			Spilled:   st.Alloc.Spilled,
			Rounds:    st.Alloc.Rounds,
			Allocator: string(st.Alloc.Strategy),
		}
		if listing {
			m.Listing = mc.Listing()
		}
		r.Methods = append(r.Methods, m)
	}
	return r
}

func printReport(r *compileReport) {
	for _, m := range r.Methods {
		if m.Listing != "" {
			fmt.Print(m.Listing)
			fmt.Println()
		}
	}
	fmt.Printf("%-24s %8s %6s %6s %6s %8s  %s\n", "method", "entry", "size", "frame", "vregs", "spilled", "allocator")
	for _, m := range r.Methods {
		fmt.Printf("%-24s %08x %6d %6d %6d %8d  %s\n", m.Name, m.Entry, m.Size, m.Frame, m.VRegs, m.Spilled, m.Allocator)
	}
	fmt.Println()
	fmt.Printf("wrote %s (%d bytes, blake2b %s)\n", r.Image, r.Size, r.Digest[:16])
}

// cmdInit 在当前目录生成配置文件
func cmdInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("f", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	path := filepath.Join(dir, project.ConfigFileName)
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "error: %s already exists\n", project.ConfigFileName)
		return 1
	}
	if err := project.GenerateDefault(dir).Save(path); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("Created %s\n", project.ConfigFileName)
	return 0
}
