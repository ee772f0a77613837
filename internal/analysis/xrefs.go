package analysis

import (
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"machscope/internal/disasm"
)

// Resolver classifies the references made by each instruction of a stream
// and resolves their targets.
type Resolver struct {
	// Logger receives a debug summary per pass. Nil disables logging.
	Logger *log.Logger
}

// NewResolver creates a resolver that logs through lg.
func NewResolver(lg *log.Logger) *Resolver {
	return &Resolver{Logger: lg}
}

// Classify maps a mnemonic to its cross-reference kind. ok is false for
// instructions that never produce a reference.
func Classify(mnemonic string) (XrefKind, bool) {
	switch {
	case disasm.IsCall(mnemonic):
		return XrefCall, true
	case mnemonic == "b", disasm.IsIndirectJump(mnemonic):
		return XrefJump, true
	case disasm.IsConditional(mnemonic):
		return XrefConditionalJump, true
	case strings.HasPrefix(mnemonic, "ldr"), strings.HasPrefix(mnemonic, "ldur"):
		return XrefDataRead, true
	case strings.HasPrefix(mnemonic, "str"), strings.HasPrefix(mnemonic, "stur"):
		return XrefDataWrite, true
	case mnemonic == "adrp", mnemonic == "adr":
		return XrefAddressLoad, true
	}
	return XrefUnknown, false
}

// Analyze runs one pass over stream. Register state starts fresh at every
// function entry listed in symbols. Instructions whose target cannot be
// resolved to a non-zero address produce no reference. Analyze never fails.
func (r *Resolver) Analyze(stream disasm.Stream, symbols *SymbolTable) XrefAnalysisResult {
	result := XrefAnalysisResult{
		Counts:            make(map[XrefKind]int),
		Functions:         make(map[uint64]FunctionXrefs),
		TotalInstructions: len(stream),
	}

	starts := make(map[uint64]bool)
	for _, s := range symbols.All() {
		if s.IsFunction {
			starts[s.Address] = true
		}
	}

	state := NewRegisterState()
	for _, inst := range stream {
		if starts[inst.Addr] {
			state.Reset()
		}
		if xref, ok := r.resolve(inst, state, symbols); ok {
			result.Xrefs = append(result.Xrefs, xref)
			result.Counts[xref.Kind]++
		}
		state.Step(inst)
	}

	result.Functions = aggregate(result.Xrefs, symbols.Functions())

	if r != nil && r.Logger != nil {
		r.Logger.Debug("xref pass complete",
			"instructions", result.TotalInstructions,
			"xrefs", len(result.Xrefs),
			"functions", len(result.Functions))
	}
	return result
}

// resolve builds the reference for inst using the register values that hold
// before inst executes.
func (r *Resolver) resolve(inst disasm.Inst, state *RegisterState, symbols *SymbolTable) (CrossReference, bool) {
	kind, ok := Classify(inst.Mnemonic)
	if !ok {
		return CrossReference{}, false
	}

	var target uint64
	switch kind {
	case XrefCall, XrefJump, XrefConditionalJump:
		target, ok = disasm.BranchTarget(inst)
	case XrefDataRead, XrefDataWrite:
		target, ok = DataAddress(inst, state)
	case XrefAddressLoad:
		target, ok = addressLoadTarget(inst)
	}
	if !ok || target == 0 {
		return CrossReference{}, false
	}

	xref := CrossReference{
		From:        inst.Addr,
		To:          target,
		Kind:        kind,
		Instruction: inst.Text(),
		Offset:      int64(target - inst.Addr),
	}
	if s, ok := symbols.Exact(inst.Addr); ok {
		xref.FromSymbol = s.Name
	}
	xref.ToSymbol = symbols.Label(target)
	return xref, true
}

// DataAddress resolves the address accessed by a load or store. A bracketed
// operand resolves through the base register's tracked value. When the base
// is unknown only an embedded absolute immediate is accepted. Literal loads
// use the immediate heuristics directly.
func DataAddress(inst disasm.Inst, state *RegisterState) (uint64, bool) {
	ops := inst.OperandList()
	for _, op := range ops {
		if !strings.HasPrefix(op, "[") {
			continue
		}
		mem, ok := ParseMemOperand(op)
		if !ok || mem.Indexed {
			return 0, false
		}
		if base, ok := state.Resolve(mem.Base); ok {
			// post-indexed forms access the unmodified base
			return nonZero(uint64(int64(base) + mem.Offset))
		}
		return embeddedAbsolute(op)
	}
	if len(ops) < 2 {
		return 0, false
	}
	return disasm.ImmediateTarget(ops[len(ops)-1], inst.Addr)
}

// embeddedAbsolute extracts an absolute address written inside a bracketed
// operand whose base register is unknown. Small offsets are relative to
// that unknown base and are rejected.
func embeddedAbsolute(op string) (uint64, bool) {
	inner := strings.TrimSuffix(strings.TrimSpace(op), "!")
	inner = strings.TrimSuffix(strings.TrimPrefix(inner, "["), "]")
	parts := strings.Split(inner, ",")
	if len(parts) < 2 {
		return 0, false
	}
	imm := strings.TrimSpace(parts[1])
	v, ok := disasm.ImmediateTarget(imm, 0)
	if !ok || v < disasm.RelativeImmediateLimit {
		return 0, false
	}
	return v, true
}

func addressLoadTarget(inst disasm.Inst) (uint64, bool) {
	ops := inst.OperandList()
	if len(ops) < 2 {
		return 0, false
	}
	target, ok := disasm.ImmediateTarget(ops[1], inst.Addr)
	if !ok {
		return 0, false
	}
	if inst.Mnemonic == "adrp" {
		return nonZero(target &^ 0xfff)
	}
	return target, true
}

// aggregate groups xrefs by the function spans containing their endpoints.
// Functions touched by no reference are omitted.
func aggregate(xrefs []CrossReference, funcs []SymbolInfo) map[uint64]FunctionXrefs {
	out := make(map[uint64]FunctionXrefs)
	if len(funcs) == 0 {
		return out
	}
	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Address < funcs[j].Address })
	var maxSize uint64
	for _, f := range funcs {
		maxSize = max(maxSize, f.Size)
	}

	// visit calls fn for every function whose span contains addr
	visit := func(addr uint64, fn func(SymbolInfo)) {
		i := sort.Search(len(funcs), func(i int) bool { return funcs[i].Address > addr })
		for j := i - 1; j >= 0; j-- {
			if addr-funcs[j].Address >= maxSize {
				break
			}
			if funcs[j].Contains(addr) {
				fn(funcs[j])
			}
		}
	}
	entry := func(f SymbolInfo) FunctionXrefs {
		fx, ok := out[f.Address]
		if !ok {
			fx = FunctionXrefs{Name: f.Name, Address: f.Address, Size: f.Size}
		}
		return fx
	}

	for _, x := range xrefs {
		visit(x.To, func(f SymbolInfo) {
			fx := entry(f)
			fx.Incoming = append(fx.Incoming, x)
			out[f.Address] = fx
		})
		visit(x.From, func(f SymbolInfo) {
			fx := entry(f)
			fx.Outgoing = append(fx.Outgoing, x)
			out[f.Address] = fx
		})
	}
	return out
}

func nonZero(v uint64) (uint64, bool) {
	return v, v != 0
}
