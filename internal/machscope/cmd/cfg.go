package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"machscope/internal/cfg"
	"machscope/internal/machscope/styles"
	"machscope/internal/ui/colorize"
)

func newCFGCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cfg <binary|listing> <function>",
		Short: "Build the control-flow graph of a function",
		Example: `
# Basic blocks and edges
machscope cfg /path/to/binary _main

# Graphviz output
machscope cfg /path/to/binary 0x100003f00 --dot > main.dot
  `,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.loadTarget(cmd, args[0])
			if err != nil {
				return err
			}
			fn, err := t.function(args[1])
			if err != nil {
				return err
			}

			g, ok := cfg.Build(fn.Name, fn.Address, t.instructions(fn))
			if !ok {
				return fmt.Errorf("function %s has no instructions", fn.Name)
			}
			a.log().Debug("cfg built", "function", fn.Name, "nodes", len(g.Nodes), "edges", len(g.Edges))

			w := cmd.OutOrStdout()
			if dot, _ := cmd.Flags().GetBool("dot"); dot {
				return g.WriteDOT(w)
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(g)
			}
			return printCFG(w, g)
		},
	}
	addSymbolsFlag(cmd)
	cmd.Flags().Bool("dot", false, "Write Graphviz DOT")
	cmd.Flags().BoolP("json", "j", false, "Output the graph as JSON")
	return cmd
}

func printCFG(w io.Writer, g cfg.FunctionCFG) error {
	fmt.Fprintf(w, "%s %s: %d blocks, %d edges\n",
		paint(styles.Address, fmt.Sprintf("%#x", g.Address)),
		paint(styles.Header, g.Name), len(g.Nodes), len(g.Edges))

	for _, n := range g.Nodes {
		fmt.Fprintln(w)
		fmt.Fprintln(w, paint(styles.Symbol, n.String()))
		for _, line := range n.Lines {
			fmt.Fprintln(w, "  "+colorize.ColorizeInstructionLine(line))
		}
		for _, e := range g.Successors(n.ID) {
			label := e.Type.String()
			if e.Type == cfg.LoopBack {
				label += "/" + e.Via.String()
			}
			fmt.Fprintf(w, "  -> #%d %s\n", e.To, paint(styles.Muted, label))
		}
	}

	unreachable, err := g.Unreachable()
	if err != nil {
		return err
	}
	if len(unreachable) > 0 {
		fmt.Fprintf(w, "\n%s %v\n", paint(styles.Bad, "unreachable:"), unreachable)
	}
	return nil
}
