package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"machscope/internal/machscope/styles"
	"machscope/internal/ui/colorize"
)

func newDisasmCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm <binary|listing> <function>",
		Short: "Print the listing of one function",
		Long: `Print the instructions of one function with symbol labels on branch
targets. For Mach-O input the file offset of the function is shown, which is
what patch sets address.`,
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

			w := cmd.OutOrStdout()
			header := fmt.Sprintf("%s (%d bytes)", fn.Demangled(), fn.Size)
			if t.image != nil {
				if off, ok := t.image.VA2Off(fn.Address); ok {
					header += fmt.Sprintf(", file offset %#x", off)
				}
			}
			fmt.Fprintln(w, paint(styles.Header, header))

			for _, inst := range t.instructions(fn) {
				line := colorize.ColorizeInstructionLine(inst.String())
				if target, ok := branchLabel(t, inst); ok {
					line += "  " + paint(styles.Symbol, "; "+target)
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	addSymbolsFlag(cmd)
	return cmd
}
