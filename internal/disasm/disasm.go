// Package disasm defines a common instruction representation used
// across the analyses, plus the parsers that produce it from textual
// listings or raw ARM64 machine code.
package disasm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// InstSize is the fixed ARM64 instruction width.
const InstSize = 4

// Inst is a normalized disassembled instruction.
type Inst struct {
	Addr     uint64 // virtual address of instruction
	Raw      string // raw encoding as printed in the listing, may be empty
	Mnemonic string // mnemonic in lowercase
	Operands string // operand text as printed
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Text renders the instruction without its address.
func (i Inst) Text() string {
	if i.Operands == "" {
		return i.Mnemonic
	}
	return i.Mnemonic + " " + i.Operands
}

// String formats the instruction the way ParseLine accepts it.
func (i Inst) String() string {
	if i.Raw != "" {
		return fmt.Sprintf("%#x:  %s  %s", i.Addr, i.Raw, i.Text())
	}
	return fmt.Sprintf("%#x:  %s", i.Addr, i.Text())
}

// OperandList splits the operand text on top-level commas.
// Commas inside brackets or braces stay with their operand.
func (i Inst) OperandList() []string {
	var (
		ops   []string
		depth int
		start int
	)
	s := i.Operands
	for idx := 0; idx < len(s); idx++ {
		switch s[idx] {
		case '[', '{':
			depth++
		case ']', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				if op := strings.TrimSpace(s[start:idx]); op != "" {
					ops = append(ops, op)
				}
				start = idx + 1
			}
		}
	}
	if op := strings.TrimSpace(s[start:]); op != "" {
		ops = append(ops, op)
	}
	return ops
}

// ParseLine parses one listing line of the form
//
//	<hex-address>: [raw-bytes] <mnemonic> <operands> [annotation]
//
// Header, separator and blank lines are reported with ok == false.
func ParseLine(line string) (Inst, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Inst{}, false
	}
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return Inst{}, false
	}
	addrText := strings.TrimPrefix(strings.TrimPrefix(line[:colon], "0x"), "0X")
	if addrText == "" {
		return Inst{}, false
	}
	addr, err := strconv.ParseUint(addrText, 16, 64)
	if err != nil {
		return Inst{}, false
	}

	fields := strings.Fields(line[colon+1:])
	raw, n := rawBytes(fields)
	fields = fields[n:]
	if len(fields) == 0 {
		return Inst{}, false
	}
	// comment-only lines such as "; loc_1000"
	if strings.HasPrefix(fields[0], ";") || strings.HasPrefix(fields[0], "//") {
		return Inst{}, false
	}

	return Inst{
		Addr:     addr,
		Raw:      raw,
		Mnemonic: strings.ToLower(fields[0]),
		Operands: strings.Join(operandFields(fields[1:]), " "),
	}, true
}

// operandFields drops trailing annotations such as "<_foo+0x10>" or
// "; 0x100004020" that objdump-style listings append to the operands.
func operandFields(fields []string) []string {
	for i, f := range fields {
		if strings.HasPrefix(f, "<") || strings.HasPrefix(f, ";") || strings.HasPrefix(f, "//") {
			return fields[:i]
		}
	}
	return fields
}

// rawBytes detects the optional raw-encoding block: either one 8-digit hex
// word or up to four 2-digit hex byte tokens. Returns the joined text and
// the number of fields consumed.
func rawBytes(fields []string) (string, int) {
	if len(fields) < 2 {
		return "", 0
	}
	if len(fields[0]) == 8 && isHex(fields[0]) {
		return strings.ToLower(fields[0]), 1
	}
	n := 0
	for n < len(fields)-1 && n < InstSize && len(fields[n]) == 2 && isHex(fields[n]) {
		n++
	}
	if n != InstSize {
		return "", 0
	}
	return strings.ToLower(strings.Join(fields[:n], " ")), n
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return s != ""
}

// ParseListing reads a textual disassembly and returns every parseable
// instruction in listing order. Duplicate addresses are kept.
func ParseListing(r io.Reader) (Stream, error) {
	var out Stream
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if inst, ok := ParseLine(sc.Text()); ok {
			out = append(out, inst)
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read listing: %w", err)
	}
	return out, nil
}

// Slice returns the instructions whose address lies in [start, end).
func (s Stream) Slice(start, end uint64) Stream {
	var out Stream
	for _, inst := range s {
		if inst.Addr >= start && inst.Addr < end {
			out = append(out, inst)
		}
	}
	return out
}
