package analysis

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// SymbolInfo describes one entry of the binary's symbol table.
type SymbolInfo struct {
	Name       string `json:"name"`
	Address    uint64 `json:"address"`
	Size       uint64 `json:"size"`
	IsDefined  bool   `json:"is_defined"`
	IsFunction bool   `json:"is_function"`
	IsExternal bool   `json:"is_external"`
}

// Contains reports whether addr lies in [Address, Address+Size).
func (s SymbolInfo) Contains(addr uint64) bool {
	return addr >= s.Address && addr-s.Address < s.Size
}

// Demangled returns the demangled name, or the raw name when it is not mangled.
func (s SymbolInfo) Demangled() string {
	return CachedDemangle(s.Name)
}

// SymbolTable is an address-ordered, read-only view over a symbol list.
type SymbolTable struct {
	syms    []SymbolInfo // all symbols, sorted by address
	defined []SymbolInfo // defined symbols only, sorted by address
	byAddr  map[uint64]int
}

// NewSymbolTable sorts a copy of syms by address. When several symbols share
// an address the first one in input order wins exact lookups.
func NewSymbolTable(syms []SymbolInfo) *SymbolTable {
	t := &SymbolTable{
		syms:   append([]SymbolInfo(nil), syms...),
		byAddr: make(map[uint64]int, len(syms)),
	}
	sort.SliceStable(t.syms, func(i, j int) bool { return t.syms[i].Address < t.syms[j].Address })
	for i, s := range t.syms {
		if _, seen := t.byAddr[s.Address]; !seen {
			t.byAddr[s.Address] = i
		}
		if s.IsDefined {
			t.defined = append(t.defined, s)
		}
	}
	return t
}

// Len returns the number of symbols.
func (t *SymbolTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.syms)
}

// All returns the symbols in address order.
func (t *SymbolTable) All() []SymbolInfo {
	if t == nil {
		return nil
	}
	return t.syms
}

// Exact returns the symbol starting exactly at addr.
func (t *SymbolTable) Exact(addr uint64) (SymbolInfo, bool) {
	if t == nil {
		return SymbolInfo{}, false
	}
	i, ok := t.byAddr[addr]
	if !ok {
		return SymbolInfo{}, false
	}
	return t.syms[i], true
}

// Nearest returns the closest defined symbol at or below addr.
func (t *SymbolTable) Nearest(addr uint64) (SymbolInfo, bool) {
	if t == nil || len(t.defined) == 0 {
		return SymbolInfo{}, false
	}
	// first index whose address is above addr
	i := sort.Search(len(t.defined), func(i int) bool { return t.defined[i].Address > addr })
	if i == 0 {
		return SymbolInfo{}, false
	}
	return t.defined[i-1], true
}

// Label names addr as "name" on an exact hit, "name+offset" when a defined
// symbol lies less than SymbolOffsetLimit bytes below it, or "" otherwise.
func (t *SymbolTable) Label(addr uint64) string {
	if s, ok := t.Exact(addr); ok {
		return s.Name
	}
	s, ok := t.Nearest(addr)
	if !ok {
		return ""
	}
	off := addr - s.Address
	if off >= SymbolOffsetLimit {
		return ""
	}
	return fmt.Sprintf("%s+%d", s.Name, off)
}

// Functions returns the function symbols with a non-zero size.
func (t *SymbolTable) Functions() []SymbolInfo {
	if t == nil {
		return nil
	}
	var out []SymbolInfo
	for _, s := range t.syms {
		if s.IsFunction && s.Size > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Lookup finds a symbol by raw or demangled name.
func (t *SymbolTable) Lookup(name string) (SymbolInfo, bool) {
	if t == nil {
		return SymbolInfo{}, false
	}
	for _, s := range t.syms {
		if s.Name == name {
			return s, true
		}
	}
	for _, s := range t.syms {
		if s.Demangled() == name {
			return s, true
		}
	}
	return SymbolInfo{}, false
}

// ParseSymbols reads a whitespace separated symbol list, one symbol per line:
//
//	name address size [flags]
//
// Address and size are hex (0x prefix optional). Flags is a comma separated
// subset of "defined", "function", "external", "undefined"; without flags a
// symbol is defined. Blank lines and lines starting with '#' are skipped.
func ParseSymbols(r io.Reader) ([]SymbolInfo, error) {
	var out []SymbolInfo
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return out, fmt.Errorf("line %d: want name, address and size, got %q", lineNo, line)
		}
		addr, err := parseHex(fields[1])
		if err != nil {
			return out, fmt.Errorf("line %d: bad address %q: %w", lineNo, fields[1], err)
		}
		size, err := parseHex(fields[2])
		if err != nil {
			return out, fmt.Errorf("line %d: bad size %q: %w", lineNo, fields[2], err)
		}
		sym := SymbolInfo{Name: fields[0], Address: addr, Size: size, IsDefined: true}
		if len(fields) > 3 {
			sym.IsDefined = false
			for _, flag := range strings.Split(strings.ToLower(fields[3]), ",") {
				switch flag {
				case "defined":
					sym.IsDefined = true
				case "function", "func":
					sym.IsFunction = true
					sym.IsDefined = true
				case "external", "extern":
					sym.IsExternal = true
				case "undefined":
					sym.IsDefined = false
				}
			}
		}
		out = append(out, sym)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read symbols: %w", err)
	}
	return out, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// symbolCache memoizes demangled names. Guarded by mu.
type symbolCache struct {
	mu            sync.RWMutex
	demangleCache map[string]string
	hits          int
}

var cache = &symbolCache{
	demangleCache: make(map[string]string),
}

// CachedDemangle performs demangling with caching support.
func CachedDemangle(mangled string) string {
	cache.mu.RLock()
	if cached, exists := cache.demangleCache[mangled]; exists {
		cache.mu.RUnlock()
		cache.mu.Lock()
		cache.hits++
		cache.mu.Unlock()
		return cached
	}
	cache.mu.RUnlock()

	// Mach-O prefixes C and C++ symbols with an extra underscore
	demangled := demangle.Filter(strings.TrimPrefix(mangled, "_"), demangle.NoClones)
	if demangled == strings.TrimPrefix(mangled, "_") {
		demangled = mangled
	}

	cache.mu.Lock()
	cache.demangleCache[mangled] = demangled
	cache.mu.Unlock()
	return demangled
}

// DemangleCacheStats returns the number of cached names and cache hits.
func DemangleCacheStats() (entries, hits int) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return len(cache.demangleCache), cache.hits
}
