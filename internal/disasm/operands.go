package disasm

import (
	"strconv"
	"strings"
)

// RelativeImmediateLimit separates small PC-relative displacements from
// absolute addresses for unprefixed immediates. Immediates below the limit
// are added to the current address, larger ones are taken as absolute.
// Unusually large displacements or unusually small absolute addresses are
// misclassified; downstream output depends on the exact boundary.
const RelativeImmediateLimit = 0x10000

// IsBranch reports whether the mnemonic belongs to the branch category:
// b, b.<cond>, bl, blr, br, cbz, cbnz, tbz, tbnz and their pointer
// authentication variants. RET and BRK are not branches.
func IsBranch(mnemonic string) bool {
	switch mnemonic {
	case "b", "bl", "blr", "br", "cbz", "cbnz", "tbz", "tbnz":
		return true
	}
	return strings.HasPrefix(mnemonic, "b.") || IsCall(mnemonic) || IsIndirectJump(mnemonic)
}

// IsCall reports whether the mnemonic is a branch-with-link.
func IsCall(mnemonic string) bool {
	switch mnemonic {
	case "bl", "blr", "blraa", "blrab", "blraaz", "blrabz":
		return true
	}
	return false
}

// IsIndirectJump reports whether the mnemonic is a register branch without link.
func IsIndirectJump(mnemonic string) bool {
	switch mnemonic {
	case "br", "braa", "brab", "braaz", "brabz":
		return true
	}
	return false
}

// IsReturn reports whether the mnemonic returns from the function.
func IsReturn(mnemonic string) bool {
	switch mnemonic {
	case "ret", "retaa", "retab":
		return true
	}
	return false
}

// IsConditional reports whether the mnemonic is a conditional branch.
func IsConditional(mnemonic string) bool {
	switch mnemonic {
	case "cbz", "cbnz", "tbz", "tbnz":
		return true
	}
	return strings.HasPrefix(mnemonic, "b.")
}

// BranchTarget resolves the destination of a control-flow instruction from
// its last operand. Register branches never resolve.
func BranchTarget(inst Inst) (uint64, bool) {
	if IsIndirectJump(inst.Mnemonic) || inst.Mnemonic == "blr" || strings.HasPrefix(inst.Mnemonic, "blra") {
		return 0, false
	}
	ops := inst.OperandList()
	if len(ops) == 0 {
		return 0, false
	}
	return ImmediateTarget(ops[len(ops)-1], inst.Addr)
}

// ImmediateTarget interprets an immediate operand as an address, in order:
//
//  1. bare 0x-prefixed hex: absolute address
//  2. -0x-prefixed hex: current address minus the magnitude
//  3. other unsigned immediate below RelativeImmediateLimit: current address plus value
//  4. other unsigned immediate at or above the limit: absolute address
//
// A zero result is never reported as resolved.
func ImmediateTarget(op string, current uint64) (uint64, bool) {
	op = strings.TrimSpace(op)
	hashed := strings.HasPrefix(op, "#")
	op = strings.TrimPrefix(op, "#")
	if op == "" {
		return 0, false
	}

	if mag, ok := strings.CutPrefix(op, "-"); ok {
		v, ok := parseUnsigned(mag)
		if !ok || v > current {
			return 0, false
		}
		return nonZero(current - v)
	}

	if !hashed && (strings.HasPrefix(op, "0x") || strings.HasPrefix(op, "0X")) {
		v, ok := parseUnsigned(op)
		if !ok {
			return 0, false
		}
		return nonZero(v)
	}

	v, ok := parseUnsigned(strings.TrimPrefix(op, "+"))
	if !ok {
		return 0, false
	}
	if v < RelativeImmediateLimit {
		return nonZero(current + v)
	}
	return nonZero(v)
}

// ParseImmediate parses "#0x20", "#32", "0x20" or "-0x20" into a signed value.
func ParseImmediate(op string) (int64, bool) {
	op = strings.TrimPrefix(strings.TrimSpace(op), "#")
	neg := false
	if rest, ok := strings.CutPrefix(op, "-"); ok {
		neg = true
		op = rest
	}
	v, ok := parseUnsigned(strings.TrimPrefix(op, "+"))
	if !ok {
		return 0, false
	}
	if neg {
		return -int64(v), true
	}
	return int64(v), true
}

func parseUnsigned(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var (
		v   uint64
		err error
	)
	if hex, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		v, err = strconv.ParseUint(hex, 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, false
	}
	return v, true
}

func nonZero(v uint64) (uint64, bool) {
	return v, v != 0
}
