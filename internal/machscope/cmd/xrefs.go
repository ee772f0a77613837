package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"machscope/internal/analysis"
	"machscope/internal/machscope/styles"
)

func newXrefsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xrefs <binary|listing>",
		Short: "Resolve cross-references",
		Long: `Resolve calls, jumps, data accesses and address loads across the text
section, grouped per function.`,
		Example: `
# All references, summary first
machscope xrefs /path/to/binary

# Calls and data reads touching one function, as JSON
machscope xrefs app.s --symbols app.syms --function _main --kind call,data_read --json
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.loadTarget(cmd, args[0])
			if err != nil {
				return err
			}

			chain, fn, err := xrefFilters(cmd, t)
			if err != nil {
				return err
			}

			result := analysis.NewResolver(a.log()).Analyze(t.stream, t.symbols)
			result.Xrefs = chain.Filter(result.Xrefs)
			entries, hits := analysis.DemangleCacheStats()
			a.log().Debug("demangle cache", "entries", entries, "hits", hits)
			if fn != nil {
				fx := result.Functions[fn.Address]
				result.Functions = map[uint64]analysis.FunctionXrefs{fn.Address: fx}
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printXrefs(cmd.OutOrStdout(), result, fn)
			return nil
		},
	}
	addSymbolsFlag(cmd)
	cmd.Flags().StringSliceP("kind", "k", nil, "Keep only these kinds (call, jump, conditional_jump, data_read, data_write, address_load)")
	cmd.Flags().StringP("function", "f", "", "Keep only references touching this function")
	cmd.Flags().BoolP("json", "j", false, "Output results as JSON")
	return cmd
}

func xrefFilters(cmd *cobra.Command, t *target) (*analysis.FilterChain, *analysis.SymbolInfo, error) {
	chain := analysis.NewFilterChain()

	kinds, _ := cmd.Flags().GetStringSlice("kind")
	if len(kinds) > 0 {
		kf := analysis.KindFilter{}
		for _, name := range kinds {
			k, err := analysis.ParseXrefKind(strings.TrimSpace(name))
			if err != nil {
				return nil, nil, err
			}
			kf.Kinds = append(kf.Kinds, k)
		}
		chain.Add(kf)
	}

	var fn *analysis.SymbolInfo
	if name, _ := cmd.Flags().GetString("function"); name != "" {
		s, err := t.function(name)
		if err != nil {
			return nil, nil, err
		}
		fn = &s
		chain.Add(analysis.FunctionFilter{Function: s})
	}
	return chain, fn, nil
}

func printXrefs(w io.Writer, result analysis.XrefAnalysisResult, fn *analysis.SymbolInfo) {
	var counts []string
	for _, k := range analysis.AllXrefKinds() {
		if n := result.Counts[k]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	fmt.Fprintln(w, paint(styles.Header, fmt.Sprintf("%d instructions, %d references", result.TotalInstructions, len(result.Xrefs))),
		paint(styles.Muted, strings.Join(counts, " ")))

	if fn != nil {
		fx := result.Functions[fn.Address]
		fmt.Fprintf(w, "%s %s: %d incoming, %d outgoing\n",
			paint(styles.Address, fmt.Sprintf("%#x", fn.Address)),
			paint(styles.Symbol, fn.Demangled()), len(fx.Incoming), len(fx.Outgoing))
	} else {
		addrs := make([]uint64, 0, len(result.Functions))
		for addr := range result.Functions {
			addrs = append(addrs, addr)
		}
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
		for _, addr := range addrs {
			fx := result.Functions[addr]
			fmt.Fprintf(w, "%s %s: %d incoming, %d outgoing\n",
				paint(styles.Address, fmt.Sprintf("%#x", addr)),
				paint(styles.Symbol, analysis.CachedDemangle(fx.Name)), len(fx.Incoming), len(fx.Outgoing))
		}
	}

	fmt.Fprintln(w)
	for _, x := range result.Xrefs {
		to := fmt.Sprintf("%#x", x.To)
		if x.ToSymbol != "" {
			to += " " + paint(styles.Symbol, "<"+x.ToSymbol+">")
		}
		fmt.Fprintf(w, "%s %-16s %s  ; %s\n",
			paint(styles.Address, fmt.Sprintf("%#x", x.From)), x.Kind, to, x.Instruction)
	}
}
