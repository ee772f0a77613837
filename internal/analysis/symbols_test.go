package analysis

import (
	"strings"
	"testing"
)

func TestParseSymbols(t *testing.T) {
	input := `
# name address size flags
_main 0x100003f80 0x40 function,external
_helper 100003fc0 20 function
_data 0x100008000 0x8
_printf 0 0 undefined,external
`
	syms, err := ParseSymbols(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseSymbols failed: %v", err)
	}
	if len(syms) != 4 {
		t.Fatalf("got %d symbols, want 4", len(syms))
	}
	tests := []struct {
		idx  int
		want SymbolInfo
	}{
		{0, SymbolInfo{Name: "_main", Address: 0x100003f80, Size: 0x40, IsDefined: true, IsFunction: true, IsExternal: true}},
		{1, SymbolInfo{Name: "_helper", Address: 0x100003fc0, Size: 0x20, IsDefined: true, IsFunction: true}},
		{2, SymbolInfo{Name: "_data", Address: 0x100008000, Size: 0x8, IsDefined: true}},
		{3, SymbolInfo{Name: "_printf", IsExternal: true}},
	}
	for _, tt := range tests {
		if syms[tt.idx] != tt.want {
			t.Errorf("symbol %d = %+v, want %+v", tt.idx, syms[tt.idx], tt.want)
		}
	}

	if _, err := ParseSymbols(strings.NewReader("_bad zz 4\n")); err == nil {
		t.Error("expected an error for a bad address")
	}
}

func TestSymbolTableLookups(t *testing.T) {
	table := NewSymbolTable([]SymbolInfo{
		{Name: "_b", Address: 0x2000, Size: 0x10, IsDefined: true, IsFunction: true},
		{Name: "_a", Address: 0x1000, Size: 0x10, IsDefined: true, IsFunction: true},
		{Name: "_ext", Address: 0x1800, IsExternal: true},
	})

	if s, ok := table.Exact(0x1000); !ok || s.Name != "_a" {
		t.Errorf("Exact(0x1000) = %+v, %v", s, ok)
	}
	// undefined symbols are never the nearest
	if s, ok := table.Nearest(0x1900); !ok || s.Name != "_a" {
		t.Errorf("Nearest(0x1900) = %+v, %v", s, ok)
	}
	if _, ok := table.Nearest(0xfff); ok {
		t.Error("Nearest below the first symbol should fail")
	}
	if fns := table.Functions(); len(fns) != 2 || fns[0].Name != "_a" {
		t.Errorf("Functions = %+v", fns)
	}
	if s, ok := table.Lookup("_b"); !ok || s.Address != 0x2000 {
		t.Errorf("Lookup(_b) = %+v, %v", s, ok)
	}
}

func TestCachedDemangle(t *testing.T) {
	if got := CachedDemangle("__ZN3foo3barEv"); got != "foo::bar()" {
		t.Errorf("CachedDemangle = %q, want foo::bar()", got)
	}
	if got := CachedDemangle("_main"); got != "_main" {
		t.Errorf("CachedDemangle(_main) = %q", got)
	}
}

func TestDemangleCacheStats(t *testing.T) {
	const name = "__ZN5stats4onceEv"
	CachedDemangle(name)
	entries, hits := DemangleCacheStats()
	if entries == 0 {
		t.Fatal("cache is empty after a demangle")
	}

	CachedDemangle(name)
	entries2, hits2 := DemangleCacheStats()
	if entries2 != entries {
		t.Errorf("entries = %d after a repeat, want %d", entries2, entries)
	}
	if hits2 != hits+1 {
		t.Errorf("hits = %d, want %d", hits2, hits+1)
	}
}
