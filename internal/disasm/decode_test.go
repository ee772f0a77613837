package disasm

import (
	"encoding/binary"
	"testing"
)

func words(ws ...uint32) []byte {
	out := make([]byte, 0, len(ws)*InstSize)
	for _, w := range ws {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func TestDecode(t *testing.T) {
	// bl +0x1000, b.eq +0x10, ret, adrp x0 +1 page, unallocated
	beq := uint32(0x54000000 | (4 << 5))
	data := words(0x94000400, beq, 0xD65F03C0, 0x90000000|(1<<29), 0x00000000)
	stream := Decode(data, 0x100001000)
	if len(stream) != 5 {
		t.Fatalf("decoded %d instructions, want 5", len(stream))
	}

	tests := []struct {
		idx      int
		mnemonic string
		operands string
	}{
		{0, "bl", "0x100002000"},
		{1, "b.eq", "0x100001014"},
		{2, "ret", ""},
		{3, "adrp", "x0, 0x100002000"},
		{4, ".word", "0x00000000"},
	}
	for _, tt := range tests {
		got := stream[tt.idx]
		if got.Mnemonic != tt.mnemonic || got.Operands != tt.operands {
			t.Errorf("inst %d = %q %q, want %q %q", tt.idx, got.Mnemonic, got.Operands, tt.mnemonic, tt.operands)
		}
		if got.Addr != 0x100001000+uint64(tt.idx*InstSize) {
			t.Errorf("inst %d addr = %#x", tt.idx, got.Addr)
		}
	}

	// branch targets resolve through the same heuristics as listings
	if target, ok := BranchTarget(stream[1]); !ok || target != 0x100001014 {
		t.Errorf("BranchTarget(b.eq) = %#x, %v", target, ok)
	}
}
