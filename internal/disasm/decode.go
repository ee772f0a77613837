package disasm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Decode renders a region of ARM64 machine code into the instruction model.
// PC-relative operands are printed as absolute addresses so the textual
// analyses see the same form a listing would carry. Undecodable words are
// emitted as ".word".
func Decode(data []byte, base uint64) Stream {
	n := len(data) / InstSize
	out := make(Stream, 0, n)
	for i := 0; i < n; i++ {
		off := i * InstSize
		word := data[off : off+InstSize]
		pc := base + uint64(off)
		raw := fmt.Sprintf("%08x", binary.LittleEndian.Uint32(word))

		inst, err := arm64asm.Decode(word)
		if err != nil {
			out = append(out, Inst{Addr: pc, Raw: raw, Mnemonic: ".word", Operands: "0x" + raw})
			continue
		}
		mnemonic, operands := render(inst, pc)
		out = append(out, Inst{Addr: pc, Raw: raw, Mnemonic: mnemonic, Operands: operands})
	}
	return out
}

func render(inst arm64asm.Inst, pc uint64) (string, string) {
	mnemonic := strings.ToLower(inst.Op.String())
	var ops []string
	for idx, arg := range inst.Args {
		if arg == nil {
			break
		}
		if inst.Op == arm64asm.RET && arg == arm64asm.X30 {
			continue // implicit link register
		}
		switch a := arg.(type) {
		case arm64asm.Cond:
			if inst.Op == arm64asm.B && idx == 0 {
				mnemonic = "b." + strings.ToLower(a.String())
				continue
			}
			ops = append(ops, strings.ToLower(a.String()))
		case arm64asm.PCRel:
			from := pc
			if inst.Op == arm64asm.ADRP {
				from = pc &^ 0xfff
			}
			ops = append(ops, fmt.Sprintf("%#x", uint64(int64(from)+int64(a))))
		default:
			ops = append(ops, strings.ToLower(arg.String()))
		}
	}
	return mnemonic, strings.Join(ops, ", ")
}
