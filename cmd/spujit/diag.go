package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/tangzhangming/spujit/internal/jit"
)

// ============================================================================
// 诊断输出
// ============================================================================

// Level 诊断级别
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelNote
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNote:
		return "note"
	default:
		return "unknown"
	}
}

// 错误码，按编译器错误类别划分
const (
	CodeInternal    = "E0001"
	CodeUnsupported = "E0002"
	CodePhaseOrder  = "E0003"
	CodeAllocation  = "E0004"
	CodeNotFound    = "E0005"
	CodeInput       = "E0100"
)

// errorCode 按类别取错误码
func errorCode(err error) string {
	switch {
	case errors.Is(err, jit.ErrUnsupported):
		return CodeUnsupported
	case errors.Is(err, jit.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, jit.ErrAllocation):
		return CodeAllocation
	case errors.Is(err, jit.ErrPhaseOrder):
		return CodePhaseOrder
	case errors.Is(err, jit.ErrInternal):
		return CodeInternal
	default:
		return CodeInput
	}
}

const (
	ansiReset   = "\033[0m"
	ansiBoldRed = "\033[1;31m"
	ansiYellow  = "\033[1;33m"
	ansiCyan    = "\033[1;36m"
)

// colorsEnabled 是否启用颜色
var colorsEnabled = detectColorSupport()

// detectColorSupport 检测终端是否支持颜色
func detectColorSupport() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	term := os.Getenv("TERM")
	if term == "dumb" {
		return false
	}
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		return true
	}
	return os.Getenv("COLORTERM") != ""
}

func levelColor(l Level) string {
	switch l {
	case LevelError:
		return ansiBoldRed
	case LevelWarning:
		return ansiYellow
	default:
		return ansiCyan
	}
}

func colorize(s, code string) string {
	if !colorsEnabled {
		return s
	}
	return code + s + ansiReset
}

// Reporter 收集并输出诊断
type Reporter struct {
	out    io.Writer
	errors int
}

// NewReporter 创建输出到 w 的报告器
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{out: w}
}

// Report 输出一条诊断
func (r *Reporter) Report(level Level, code, file, msg string) {
	if level == LevelError {
		r.errors++
	}
	head := colorize(fmt.Sprintf("%s[%s]", level, code), levelColor(level))
	fmt.Fprintf(r.out, "%s: %s\n", head, msg)
	if file != "" {
		fmt.Fprintf(r.out, "  --> %s\n", file)
	}
}

// ReportError 拆开合并的错误逐条输出
func (r *Reporter) ReportError(file string, err error) {
	for _, e := range multierr.Errors(err) {
		r.Report(LevelError, errorCode(e), file, e.Error())
		if hint := hintFor(e); hint != "" {
			fmt.Fprintf(r.out, "  = %s: %s\n", colorize("help", ansiCyan), hint)
		}
	}
}

// ErrorCount 已报告的错误数
func (r *Reporter) ErrorCount() int {
	return r.errors
}

// Summary 汇总行
func (r *Reporter) Summary() string {
	if r.errors == 0 {
		return ""
	}
	noun := "error"
	if r.errors > 1 {
		noun = "errors"
	}
	return colorize(fmt.Sprintf("aborting due to %d %s", r.errors, noun), ansiBoldRed)
}

func hintFor(err error) string {
	switch errorCode(err) {
	case CodeAllocation:
		return "raise max_colors or max_spill_rounds in the [jit] section"
	case CodeNotFound:
		return "declare the routine as an intrinsic extern or add it to the module"
	case CodeUnsupported:
		if strings.Contains(err.Error(), "channel") {
			return "channel numbers must be constants between 0 and 127"
		}
	}
	return ""
}
