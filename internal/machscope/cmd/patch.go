package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"machscope/internal/machscope/styles"
	"machscope/internal/patch"
	"machscope/internal/ui/colorize"
)

func newPatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply, verify and revert patch sets",
		Long: `Patch sets are JSON or YAML files listing byte replacements by file
offset (or by virtual address for Mach-O input). Output goes to a new
"<name>_patched" file next to the input unless --in-place is given.`,
	}
	cmd.AddCommand(newApplyCmd(a, false), newApplyCmd(a, true), newVerifyCmd(a))
	return cmd
}

func newApplyCmd(a *app, revert bool) *cobra.Command {
	use, short := "apply", "Apply a patch set to a binary"
	if revert {
		use, short = "revert", "Undo a patch set on a patched binary"
	}
	cmd := &cobra.Command{
		Use:   use + " <binary> <patchset>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			binPath, setPath := args[0], args[1]
			set, err := patch.LoadPatchSet(setPath)
			if err != nil {
				return err
			}
			opts, err := a.applyOptions(cmd)
			if err != nil {
				return err
			}

			id, im := a.identity(binPath)
			if im != nil {
				if err := im.ResolveOffsets(set.Patches); err != nil {
					return err
				}
			}

			engine := patch.NewEngine(a.log())
			var result *patch.ApplyResult
			if revert {
				result, err = engine.RevertSet(set, id, opts)
			} else {
				result, err = engine.ApplySet(set, id, opts)
			}
			if record, _ := cmd.Flags().GetBool("record"); record {
				if serr := patch.SavePatchSet(set, setPath); serr != nil {
					a.log().Warn("could not record audit entry", "patchset", setPath, "err", serr)
				}
			}
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return render(cmd.OutOrStdout(), applyReport(use, set, result))
		},
	}
	cmd.Flags().Bool("in-place", false, "Overwrite the input binary")
	cmd.Flags().Bool("force", false, "Apply even where the original bytes do not match")
	cmd.Flags().String("out-dir", "", "Directory for the patched copy")
	cmd.Flags().String("suffix", "", "Suffix for the patched copy (default \"_patched\")")
	cmd.Flags().Bool("no-backup", false, "Do not copy the original before writing")
	cmd.Flags().Bool("record", false, "Write the audit log back to the patch set file")
	cmd.Flags().BoolP("json", "j", false, "Output the result as JSON")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <binary> <patchset>",
		Short: "Check a binary against a patch set without modifying it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			binPath, setPath := args[0], args[1]
			set, err := patch.LoadPatchSet(setPath)
			if err != nil {
				return err
			}
			if _, im := a.identity(binPath); im != nil {
				if err := im.ResolveOffsets(set.Patches); err != nil {
					return err
				}
			}

			against := patch.ExpectOriginal
			if patched, _ := cmd.Flags().GetBool("patched"); patched {
				against = patch.ExpectPatched
			}
			result, err := patch.NewEngine(a.log()).Verify(set.Patches, binPath, against)
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else if err := render(cmd.OutOrStdout(), verifyReport(set, result)); err != nil {
				return err
			}
			if !result.Matches {
				return fmt.Errorf("%d of %d patches do not match the %s bytes", len(result.Mismatches), result.Checked, result.Against)
			}
			return nil
		},
	}
	cmd.Flags().Bool("patched", false, "Compare against the patched bytes instead of the original bytes")
	cmd.Flags().BoolP("json", "j", false, "Output the result as JSON")
	return cmd
}

// applyOptions starts from the configuration and applies the flags the user set.
func (a *app) applyOptions(cmd *cobra.Command) (patch.ApplyOptions, error) {
	opts := a.cfg.Apply
	flags := cmd.Flags()
	if flags.Changed("in-place") {
		opts.AllowInPlaceWrite, _ = flags.GetBool("in-place")
	}
	if flags.Changed("force") {
		opts.ForceApplyOnMismatch, _ = flags.GetBool("force")
	}
	if flags.Changed("out-dir") {
		opts.OutputDirectory, _ = flags.GetString("out-dir")
	}
	if flags.Changed("suffix") {
		opts.Suffix, _ = flags.GetString("suffix")
	}
	if flags.Changed("no-backup") {
		noBackup, _ := flags.GetBool("no-backup")
		opts.CreateBackup = !noBackup
	}
	if opts.AllowInPlaceWrite && opts.OutputDirectory != "" {
		return opts, fmt.Errorf("--in-place and --out-dir are mutually exclusive")
	}
	return opts, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func render(w io.Writer, md string) error {
	width := 100
	if tw, _, err := term.GetSize(os.Stdout.Fd()); err == nil && tw > 0 {
		width = tw
	}
	out, err := styles.RenderMarkdown(md, width, !colorize.Enabled())
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func applyReport(action string, set *patch.BinaryPatchSet, r *patch.ApplyResult) string {
	var b strings.Builder
	title := set.Name
	if title == "" {
		title = set.ID
	}
	fmt.Fprintf(&b, "# %s: %s\n\n", action, title)
	fmt.Fprintf(&b, "- input: `%s` (%s)\n", r.OriginalPath, humanize.Bytes(uint64(r.FileSize)))
	fmt.Fprintf(&b, "- output: `%s`\n", r.OutputPath)
	if r.BackupPath != "" {
		fmt.Fprintf(&b, "- backup: `%s`\n", r.BackupPath)
	}
	fmt.Fprintf(&b, "- %d patches, %s changed in %s\n\n",
		len(r.AppliedPatchIDs), humanize.Bytes(uint64(r.BytesChanged)), r.Duration.Round(time.Microsecond))

	byID := make(map[string]patch.BinaryPatch, len(set.Patches))
	for _, p := range set.Patches {
		byID[p.ID] = p
	}
	b.WriteString("| patch | offset | bytes |\n|---|---|---|\n")
	for _, id := range r.AppliedPatchIDs {
		p := byID[id]
		name := p.Name
		if name == "" {
			name = id
		}
		fmt.Fprintf(&b, "| %s | `%#x` | `%s` → `%s` |\n", name, p.FileOffset, p.OriginalBytes, p.PatchedBytes)
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n## warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

func verifyReport(set *patch.BinaryPatchSet, r *patch.VerificationResult) string {
	var b strings.Builder
	status := "match"
	if !r.Matches {
		status = "mismatch"
	}
	fmt.Fprintf(&b, "# verify: %s\n\n", status)
	fmt.Fprintf(&b, "`%s` against the %s bytes of %d patches from %s\n\n", r.Path, r.Against, r.Checked, set.Name)
	if len(r.Mismatches) > 0 {
		b.WriteString("| patch | offset | expected | actual |\n|---|---|---|---|\n")
		for _, m := range r.Mismatches {
			fmt.Fprintf(&b, "| %s | `%#x` | `%s` | `%s` |\n", m.PatchID, m.Offset, m.Expected, m.Actual)
		}
	}
	return b.String()
}
