package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"machscope/internal/disasm"
)

// ValueKind tags the abstract value held by a register.
type ValueKind int

const (
	Unknown ValueKind = iota
	Constant
	PageBase
	Computed
	AliasOf
)

func (k ValueKind) String() string {
	switch k {
	case Constant:
		return "Constant"
	case PageBase:
		return "PageBase"
	case Computed:
		return "Computed"
	case AliasOf:
		return "AliasOf"
	default:
		return "Unknown"
	}
}

// RegisterValue is one point of the register lattice. Value holds the
// constant, the page or the computed base depending on Kind. Offset is only
// meaningful for Computed and Reg only for AliasOf.
type RegisterValue struct {
	Kind   ValueKind
	Value  uint64
	Offset int64
	Reg    int
}

// ConstantValue returns Constant(v).
func ConstantValue(v uint64) RegisterValue { return RegisterValue{Kind: Constant, Value: v} }

// PageBaseValue returns PageBase(page).
func PageBaseValue(page uint64) RegisterValue { return RegisterValue{Kind: PageBase, Value: page} }

// ComputedValue returns Computed(base, offset).
func ComputedValue(base uint64, offset int64) RegisterValue {
	return RegisterValue{Kind: Computed, Value: base, Offset: offset}
}

// AliasValue returns AliasOf(reg).
func AliasValue(reg int) RegisterValue { return RegisterValue{Kind: AliasOf, Reg: reg} }

func (v RegisterValue) String() string {
	switch v.Kind {
	case Constant:
		return fmt.Sprintf("Constant(%#x)", v.Value)
	case PageBase:
		return fmt.Sprintf("PageBase(%#x)", v.Value)
	case Computed:
		return fmt.Sprintf("Computed(%#x, %#x)", v.Value, v.Offset)
	case AliasOf:
		return fmt.Sprintf("AliasOf(x%d)", v.Reg)
	default:
		return "Unknown"
	}
}

// RegisterState tracks a best-effort abstract value for x0-x30. Slot 31
// (sp/xzr/wzr) is never written and never resolves.
type RegisterState struct {
	regs [NumRegisters]RegisterValue
}

// NewRegisterState creates a state with every register Unknown.
func NewRegisterState() *RegisterState {
	return &RegisterState{}
}

// Reset forgets every tracked value.
func (s *RegisterState) Reset() {
	s.regs = [NumRegisters]RegisterValue{}
}

// Get returns the current abstract value of reg.
func (s *RegisterState) Get(reg int) RegisterValue {
	if reg < 0 || reg >= ZeroRegister {
		return RegisterValue{}
	}
	return s.regs[reg]
}

// Set overwrites reg. Registers aliasing reg are first pinned to reg's old
// value so they keep observing what they copied.
func (s *RegisterState) Set(reg int, v RegisterValue) {
	if reg < 0 || reg >= ZeroRegister {
		return
	}
	if v.Kind == AliasOf && v.Reg == reg {
		return
	}
	for i := range s.regs {
		if i == reg || s.regs[i].Kind != AliasOf || s.regs[i].Reg != reg {
			continue
		}
		if old, ok := s.Resolve(reg); ok {
			s.regs[i] = ConstantValue(old)
		} else {
			s.regs[i] = RegisterValue{}
		}
	}
	s.regs[reg] = v
}

// Invalidate marks reg as Unknown.
func (s *RegisterState) Invalidate(reg int) {
	s.Set(reg, RegisterValue{})
}

// Resolve follows AliasOf links to a concrete address. PageBase resolves to
// the page, Computed to base+offset. Unknown, slot 31 and chains longer than
// MaxAliasDepth do not resolve.
func (s *RegisterState) Resolve(reg int) (uint64, bool) {
	for depth := 0; depth < MaxAliasDepth; depth++ {
		if reg < 0 || reg >= ZeroRegister {
			return 0, false
		}
		v := s.regs[reg]
		switch v.Kind {
		case Constant, PageBase:
			return v.Value, true
		case Computed:
			return uint64(int64(v.Value) + v.Offset), true
		case AliasOf:
			reg = v.Reg
		default:
			return 0, false
		}
	}
	return 0, false
}

// Step applies the effect of one instruction. ADRP, ADR, ADD #imm and the
// MOV family update the lattice. Loads, calls and anything else that writes
// a general register invalidate what they overwrite so stale values are
// never reported.
func (s *RegisterState) Step(inst disasm.Inst) {
	ops := inst.OperandList()
	m := inst.Mnemonic

	s.invalidateWriteback(ops)

	switch {
	case m == "adrp":
		s.stepAddress(inst, ops, true)
	case m == "adr":
		s.stepAddress(inst, ops, false)
	case m == "add":
		s.stepAdd(ops)
	case m == "mov":
		s.stepMov(ops)
	case m == "movz", m == "movn":
		s.stepMovWide(ops, m == "movn")
	case m == "movk":
		s.stepMovKeep(ops)
	case disasm.IsCall(m):
		// x0-x18 and lr are caller-saved
		for r := 0; r <= 18; r++ {
			s.Invalidate(r)
		}
		s.Invalidate(30)
	case strings.HasPrefix(m, "ldp"), strings.HasPrefix(m, "ldnp"), strings.HasPrefix(m, "ldxp"), strings.HasPrefix(m, "ldaxp"):
		for _, op := range ops[:min(2, len(ops))] {
			if r, ok := RegisterIndex(op); ok {
				s.Invalidate(r)
			}
		}
	case writesDestination(m):
		if len(ops) > 0 {
			if r, ok := RegisterIndex(ops[0]); ok {
				s.Invalidate(r)
			}
		}
	}
}

func (s *RegisterState) stepAddress(inst disasm.Inst, ops []string, page bool) {
	if len(ops) < 2 {
		return
	}
	dst, ok := RegisterIndex(ops[0])
	if !ok {
		return
	}
	target, ok := disasm.ImmediateTarget(ops[1], inst.Addr)
	if !ok {
		s.Invalidate(dst)
		return
	}
	if page {
		s.Set(dst, PageBaseValue(target&^0xfff))
		return
	}
	s.Set(dst, ConstantValue(target))
}

func (s *RegisterState) stepAdd(ops []string) {
	if len(ops) < 3 {
		return
	}
	dst, ok := RegisterIndex(ops[0])
	if !ok {
		return
	}
	src, srcOK := RegisterIndex(ops[1])
	imm, immOK := immediateOperand(ops[2])
	if !immOK || !srcOK || src == ZeroRegister {
		// register-register add or sp-relative: untracked
		s.Invalidate(dst)
		return
	}
	if len(ops) > 3 {
		shift, ok := shiftAmount(ops[3])
		if !ok {
			s.Invalidate(dst)
			return
		}
		imm <<= shift
	}

	cur := s.regs[src]
	var next RegisterValue
	switch cur.Kind {
	case PageBase:
		next = ComputedValue(cur.Value, imm)
	case Constant:
		next = ConstantValue(uint64(int64(cur.Value) + imm))
	case Computed:
		next = ComputedValue(cur.Value, cur.Offset+imm)
	case AliasOf:
		if v, ok := s.Resolve(cur.Reg); ok {
			next = ComputedValue(v, imm)
		}
	}
	if isWord(ops[0]) {
		next = narrow(s, next)
	}
	s.Set(dst, next)
}

func (s *RegisterState) stepMov(ops []string) {
	if len(ops) < 2 {
		return
	}
	dst, ok := RegisterIndex(ops[0])
	if !ok {
		return
	}
	if imm, ok := immediateOperand(ops[1]); ok {
		v := uint64(imm)
		if isWord(ops[0]) {
			v &= 0xffffffff
		}
		s.Set(dst, ConstantValue(v))
		return
	}
	src, ok := RegisterIndex(ops[1])
	if !ok {
		s.Invalidate(dst)
		return
	}
	if src == ZeroRegister {
		if isZero(ops[1]) {
			s.Set(dst, ConstantValue(0))
		} else {
			s.Invalidate(dst) // mov from sp
		}
		return
	}
	if isWord(ops[0]) {
		s.Set(dst, narrow(s, AliasValue(src)))
		return
	}
	s.Set(dst, AliasValue(src))
}

func (s *RegisterState) stepMovWide(ops []string, invert bool) {
	if len(ops) < 2 {
		return
	}
	dst, ok := RegisterIndex(ops[0])
	if !ok {
		return
	}
	imm, ok := immediateOperand(ops[1])
	if !ok {
		s.Invalidate(dst)
		return
	}
	v := uint64(imm)
	if len(ops) > 2 {
		shift, ok := shiftAmount(ops[2])
		if !ok {
			s.Invalidate(dst)
			return
		}
		v <<= shift
	}
	if invert {
		v = ^v
	}
	if isWord(ops[0]) {
		v &= 0xffffffff
	}
	s.Set(dst, ConstantValue(v))
}

func (s *RegisterState) stepMovKeep(ops []string) {
	if len(ops) < 2 {
		return
	}
	dst, ok := RegisterIndex(ops[0])
	if !ok {
		return
	}
	imm, ok := immediateOperand(ops[1])
	cur := s.regs[dst]
	if !ok || cur.Kind != Constant {
		s.Invalidate(dst)
		return
	}
	var shift uint
	if len(ops) > 2 {
		if shift, ok = shiftAmount(ops[2]); !ok {
			s.Invalidate(dst)
			return
		}
	}
	v := cur.Value&^(0xffff<<shift) | (uint64(imm)&0xffff)<<shift
	if isWord(ops[0]) {
		v &= 0xffffffff
	}
	s.Set(dst, ConstantValue(v))
}

// invalidateWriteback clears base registers updated by pre- or post-indexed
// addressing: "[x1, #8]!" and "[x1], #8".
func (s *RegisterState) invalidateWriteback(ops []string) {
	for i, op := range ops {
		if !strings.HasPrefix(op, "[") {
			continue
		}
		mem, ok := ParseMemOperand(op)
		if !ok {
			continue
		}
		postIndex := i+1 < len(ops) && !strings.HasPrefix(ops[i+1], "[")
		if mem.Writeback || postIndex {
			s.Invalidate(mem.Base)
		}
	}
}

// narrow truncates a value written to a w register to 32 bits. Anything not
// reducible to a concrete value becomes Unknown.
func narrow(s *RegisterState, v RegisterValue) RegisterValue {
	var (
		val uint64
		ok  bool
	)
	switch v.Kind {
	case Constant, PageBase:
		val, ok = v.Value, true
	case Computed:
		val, ok = uint64(int64(v.Value)+v.Offset), true
	case AliasOf:
		val, ok = s.Resolve(v.Reg)
	}
	if !ok {
		return RegisterValue{}
	}
	return ConstantValue(val & 0xffffffff)
}

// writesDestination reports whether the first operand of m is a written
// general register. Stores, compares, branches and hints do not write one.
func writesDestination(m string) bool {
	switch {
	case strings.HasPrefix(m, "st"),
		disasm.IsBranch(m), disasm.IsReturn(m),
		strings.HasPrefix(m, "prfm"):
		return false
	}
	switch m {
	case "cmp", "cmn", "tst", "ccmp", "ccmn", "fcmp", "fcmpe",
		"nop", "brk", "svc", "hvc", "smc", "hint", "bti", "isb", "dsb", "dmb",
		"msr", "sys", "udf", "yield", "wfe", "wfi", "sev", "sevl", "clrex":
		return false
	}
	return true
}

// RegisterIndex maps a register operand to its slot: xN/wN to N, fp to 29,
// lr to 30, and sp/wsp/xzr/wzr to 31.
func RegisterIndex(op string) (int, bool) {
	op = strings.ToLower(strings.TrimSpace(op))
	switch op {
	case "fp":
		return 29, true
	case "lr":
		return 30, true
	case "sp", "wsp", "xzr", "wzr":
		return ZeroRegister, true
	}
	if len(op) < 2 || (op[0] != 'x' && op[0] != 'w') {
		return 0, false
	}
	n, err := strconv.Atoi(op[1:])
	if err != nil || n < 0 || n > 30 {
		return 0, false
	}
	return n, true
}

func isWord(op string) bool {
	op = strings.ToLower(strings.TrimSpace(op))
	return strings.HasPrefix(op, "w")
}

func isZero(op string) bool {
	op = strings.ToLower(strings.TrimSpace(op))
	return op == "xzr" || op == "wzr"
}

// immediateOperand parses "#imm" or a bare numeric operand.
func immediateOperand(op string) (int64, bool) {
	op = strings.TrimSpace(op)
	if op == "" {
		return 0, false
	}
	if op[0] != '#' && op[0] != '-' && (op[0] < '0' || op[0] > '9') {
		return 0, false
	}
	return disasm.ParseImmediate(op)
}

// shiftAmount parses "lsl #12".
func shiftAmount(op string) (uint, bool) {
	rest, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(op)), "lsl")
	if !ok {
		return 0, false
	}
	v, ok := disasm.ParseImmediate(strings.TrimSpace(rest))
	if !ok || v < 0 || v > 48 {
		return 0, false
	}
	return uint(v), true
}

// MemOperand is a parsed "[base, #offset]" memory operand.
type MemOperand struct {
	Base      int
	Offset    int64
	Writeback bool // pre-indexed "[...]!"
	Indexed   bool // offset is a register, so the address is not static
}

// ParseMemOperand parses "[x1]", "[x1, #0x10]", "[x1, #-8]!" or
// "[x1, x2, lsl #3]".
func ParseMemOperand(op string) (MemOperand, bool) {
	op = strings.TrimSpace(op)
	var mem MemOperand
	if rest, ok := strings.CutSuffix(op, "!"); ok {
		mem.Writeback = true
		op = rest
	}
	if !strings.HasPrefix(op, "[") || !strings.HasSuffix(op, "]") {
		return MemOperand{}, false
	}
	parts := strings.Split(op[1:len(op)-1], ",")
	base, ok := RegisterIndex(parts[0])
	if !ok {
		return MemOperand{}, false
	}
	mem.Base = base
	if len(parts) > 1 {
		if imm, ok := immediateOperand(parts[1]); ok {
			mem.Offset = imm
		} else {
			mem.Indexed = true
		}
	}
	return mem, true
}
