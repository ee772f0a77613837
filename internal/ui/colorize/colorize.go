// Package colorize highlights ARM64 listings for terminal output.
package colorize

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var disabled atomic.Bool

func init() {
	disabled.Store(os.Getenv("MACHSCOPE_NO_COLOR") != "" || os.Getenv("NO_COLOR") != "")
}

// SetEnabled switches highlighting on or off for the whole process.
func SetEnabled(on bool) { disabled.Store(!on) }

// Enabled reports whether highlighting is on.
func Enabled() bool { return !disabled.Load() }

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	for _, name := range []string{"armasm", "gas", "nasm"} {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getDisasmStyle() *chroma.Style {
	for _, name := range []string{StyleName, "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// ColorizeAssembly highlights a block of assembly. On any failure, or with
// colour disabled, the input is returned unchanged.
func ColorizeAssembly(code string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	lexer := getAssemblyLexer()
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// ColorizeInstructionLine highlights one "<addr>: <text>" line, printing
// the address in gray and the instruction through chroma.
func ColorizeInstructionLine(line string) string {
	if !Enabled() {
		return line
	}
	addr, rest, ok := strings.Cut(line, " ")
	if !ok || !isAddress(strings.TrimSuffix(addr, ":")) {
		out, _ := ColorizeAssembly(line)
		return out
	}
	out, _ := ColorizeAssembly(rest)
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m %s", addr, strings.TrimRight(out, "\n"))
}

func isAddress(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}

// StripANSI removes SGR escape sequences.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
