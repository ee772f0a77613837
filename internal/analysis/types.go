package analysis

import "fmt"

// XrefKind classifies a cross-reference
type XrefKind int

const (
	XrefCall XrefKind = iota
	XrefJump
	XrefConditionalJump
	XrefDataRead
	XrefDataWrite
	XrefAddressLoad
	XrefUnknown
)

var xrefKindNames = map[XrefKind]string{
	XrefCall:            "call",
	XrefJump:            "jump",
	XrefConditionalJump: "conditional_jump",
	XrefDataRead:        "data_read",
	XrefDataWrite:       "data_write",
	XrefAddressLoad:     "address_load",
	XrefUnknown:         "unknown",
}

func (k XrefKind) String() string {
	if s, ok := xrefKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("XrefKind(%d)", int(k))
}

// MarshalText renders the kind by name so JSON output stays readable.
func (k XrefKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names produced by String.
func (k *XrefKind) UnmarshalText(text []byte) error {
	v, err := ParseXrefKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseXrefKind maps a kind name back to its value.
func ParseXrefKind(s string) (XrefKind, error) {
	for k, name := range xrefKindNames {
		if name == s {
			return k, nil
		}
	}
	return XrefUnknown, fmt.Errorf("unknown xref kind %q", s)
}

// AllXrefKinds lists every kind in declaration order.
func AllXrefKinds() []XrefKind {
	return []XrefKind{XrefCall, XrefJump, XrefConditionalJump, XrefDataRead, XrefDataWrite, XrefAddressLoad, XrefUnknown}
}

// CrossReference is one directed reference from an instruction to an address.
type CrossReference struct {
	From        uint64   `json:"from"`
	To          uint64   `json:"to"`
	Kind        XrefKind `json:"kind"`
	Instruction string   `json:"instruction"`
	FromSymbol  string   `json:"from_symbol,omitempty"`
	ToSymbol    string   `json:"to_symbol,omitempty"`
	Offset      int64    `json:"offset"` // To - From
}

// FunctionXrefs groups the references touching one function span.
type FunctionXrefs struct {
	Name     string           `json:"name"`
	Address  uint64           `json:"address"`
	Size     uint64           `json:"size"`
	Incoming []CrossReference `json:"incoming,omitempty"` // To inside the span
	Outgoing []CrossReference `json:"outgoing,omitempty"` // From inside the span
}

// XrefAnalysisResult is the output of one resolver pass.
type XrefAnalysisResult struct {
	Counts            map[XrefKind]int         `json:"counts"`
	Functions         map[uint64]FunctionXrefs `json:"functions"`
	Xrefs             []CrossReference         `json:"xrefs"`
	TotalInstructions int                      `json:"total_instructions"`
}
