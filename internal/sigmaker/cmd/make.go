package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"sigmaker/internal/binx"
	"sigmaker/internal/config"
	"sigmaker/internal/disasm"
	"sigmaker/internal/logging"
	"sigmaker/internal/pattern"
	"sigmaker/internal/scanner"
	"sigmaker/internal/ui/colorize"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))

var makeCmd = &cobra.Command{
	Use:     "make <file> <address|symbol>",
	Aliases: []string{"mk"},
	Short:   "Create a signature for an address",
	Long: `Create the shortest signature that identifies an address in a binary.

By default the signature only has to be absent before the address, so a
forward scan of the image stops at it. With --unique it has to match exactly
once in the whole image. Options given on the command line are remembered
for the next run unless --no-save is set.`,
	Example: `
# Signature in the default raw notation
sigmaker make ./libgame.so 0x1a2b30

# C array with mask, listing the instructions it covers
sigmaker make --format c --listing ./game.exe Game::Update

# Pick the options in a form first
sigmaker make -i ./game.exe 0x140001000

# Custom wildcard byte
sigmaker make --format custom --wildcard CC ./game.exe 0x140001000
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		opts, err := cfg.Options()
		if err != nil {
			return err
		}
		opts, err = applyMakeFlags(cmd, opts)
		if err != nil {
			return err
		}
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			edited, ok, err := editOptions(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), "Cancelled")
				return nil
			}
			opts = edited
		}

		lg := logging.NewLogger()
		defer lg.Close()

		if noSave, _ := cmd.Flags().GetBool("no-save"); !noSave {
			cfg.SetOptions(opts)
			if err := cfg.Save(); err != nil {
				lg.Warn("Failed to save options", "err", err)
			}
		}

		img, err := openImage(cmd, args[0])
		if err != nil {
			return err
		}
		defer img.Close()

		start, err := resolveStart(img, args[1])
		if err != nil {
			return err
		}
		if !img.IsExec(start) {
			lg.Warn("Start address is not in an executable segment", "addr", start)
		}

		s, err := makeSignature(cmd.Context(), lg.Logger, img, start, opts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if report, _ := cmd.Flags().GetBool("report"); report {
			if err := writeReport(out, buildReport(img, s, opts.Wildcard, opts.Unique)); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, s.Signature(opts.Format))
		}

		if listing, _ := cmd.Flags().GetBool("listing"); listing {
			writeListing(out, img, s)
		}

		if opts.Clipboard {
			if err := clipboard.WriteAll(s.Signature(opts.Format)); err != nil {
				lg.Warn("Failed to copy signature to clipboard", "err", err)
			}
		}
		return nil
	},
}

func init() {
	makeCmd.Flags().StringP("format", "f", "", "Signature format: "+strings.Join(pattern.Formats(), ", "))
	makeCmd.Flags().StringP("wildcard", "w", "", "Wildcard byte for the custom format (hex)")
	makeCmd.Flags().BoolP("unique", "u", false, "Require the signature to match only once in the whole image")
	makeCmd.Flags().Bool("clipboard", false, "Copy the signature to the clipboard")
	makeCmd.Flags().Int("max-insns", 0, "Give up after this many instructions (0 disables the cap)")
	makeCmd.Flags().Int("max-bytes", 0, "Give up once the signature is this long (0 disables the cap)")
	makeCmd.Flags().String("base", "", "Load the file as a flat dump at this address")
	makeCmd.Flags().String("arch", "", "Architecture of a flat dump: x86-16, x86, x86-64, arm64")
	makeCmd.Flags().BoolP("listing", "l", false, "Print the instructions covered by the signature")
	makeCmd.Flags().Bool("report", false, "Print every format and the covered instructions as a markdown report")
	makeCmd.Flags().BoolP("interactive", "i", false, "Review the options in an interactive form before scanning")
	makeCmd.Flags().Bool("no-save", false, "Do not remember the options for the next run")

	rootCmd.AddCommand(makeCmd)
}

// applyMakeFlags overrides persisted options with the flags that were set.
func applyMakeFlags(cmd *cobra.Command, opts config.Options) (config.Options, error) {
	flags := cmd.Flags()
	if flags.Changed("format") {
		v, _ := flags.GetString("format")
		f, err := pattern.ParseFormat(v)
		if err != nil {
			return opts, err
		}
		opts.Format = f
	}
	if flags.Changed("wildcard") {
		v, _ := flags.GetString("wildcard")
		w, err := config.ParseWildcard(v)
		if err != nil {
			return opts, err
		}
		opts.Wildcard = w
	}
	if flags.Changed("unique") {
		opts.Unique, _ = flags.GetBool("unique")
	}
	if flags.Changed("clipboard") {
		opts.Clipboard, _ = flags.GetBool("clipboard")
	}
	if flags.Changed("max-insns") {
		n, _ := flags.GetInt("max-insns")
		if n < 0 {
			return opts, fmt.Errorf("--max-insns must not be negative")
		}
		opts.MaxInstructions = n
	}
	if flags.Changed("max-bytes") {
		n, _ := flags.GetInt("max-bytes")
		if n < 0 {
			return opts, fmt.Errorf("--max-bytes must not be negative")
		}
		opts.MaxBytes = n
	}
	return opts, nil
}

// openImage loads path as an executable, or as a flat dump when --base is set
// or the container is unknown and --arch names the code.
func openImage(cmd *cobra.Command, path string) (*binx.Image, error) {
	baseFlag, _ := cmd.Flags().GetString("base")
	archFlag, _ := cmd.Flags().GetString("arch")

	var arch binx.Arch
	if archFlag != "" {
		a, err := binx.ParseArch(archFlag)
		if err != nil {
			return nil, err
		}
		arch = a
	}

	if baseFlag != "" {
		base, err := binx.ParseAddress(baseFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --base: %v", err)
		}
		if arch == "" {
			return nil, fmt.Errorf("--arch is required with --base")
		}
		return binx.OpenRaw(path, base, arch)
	}

	img, err := binx.Open(path)
	if errors.Is(err, binx.ErrUnknownFormat) && arch != "" {
		return binx.OpenRaw(path, 0, arch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	if arch != "" {
		img.Arch = arch
	}
	return img, nil
}

// resolveStart accepts "0x..." or "...h" addresses, symbol names, and bare hex.
func resolveStart(img *binx.Image, s string) (binx.Address, error) {
	t := strings.TrimSpace(s)
	explicit := strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") ||
		strings.HasSuffix(t, "h") || strings.HasSuffix(t, "H")

	var start binx.Address
	if a, ok := img.LookupSymbol(t); ok && !explicit {
		start = a
	} else {
		a, err := binx.ParseAddress(t)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve %q: not an address or known symbol", s)
		}
		start = a
	}

	if _, err := img.ByteAt(start); err != nil {
		return 0, fmt.Errorf("failed to resolve %q: %w", s, err)
	}
	return start, nil
}

// makeSignature runs one scan and reports progress through lg.
func makeSignature(ctx context.Context, lg *log.Logger, img *binx.Image, start binx.Address, opts config.Options) (*scanner.Scanner, error) {
	dec, err := disasm.New(img.Arch, img)
	if err != nil {
		return nil, err
	}

	lg.Info("Creating signature. Please wait...", "addr", start, "unique", opts.Unique)
	s := scanner.New(img, dec, start, scanner.Options{
		Unique:          opts.Unique,
		Wildcard:        opts.Wildcard,
		MaxInstructions: opts.MaxInstructions,
		MaxBytes:        opts.MaxBytes,
		Logger:          lg,
	})
	if err := s.Scan(ctx); err != nil {
		lg.Error("Signature creation failed.", "err", err)
		return s, err
	}
	lg.Info(fmt.Sprintf("Generated signature (%d bytes):", s.Len()))
	return s, nil
}

// writeListing prints the consumed instructions with their masked bytes.
func writeListing(w io.Writer, img *binx.Image, s *scanner.Scanner) {
	insts := s.Instructions()
	rows := make([]string, len(insts))
	width := 0
	for i, in := range insts {
		var b strings.Builder
		for j, sb := range scanner.MaskInstruction(in, img.Window(in.Addr, in.Len)) {
			if j > 0 {
				b.WriteByte(' ')
			}
			if sb.Masked {
				b.WriteString("??")
			} else {
				fmt.Fprintf(&b, "%02X", sb.Byte)
			}
		}
		rows[i] = b.String()
		width = max(width, len(rows[i]))
	}

	title := fmt.Sprintf("%s: %d instructions, %d of %d bytes masked",
		s.Start(), len(insts), s.Buffer().MaskedCount(), s.Len())
	if colorize.Enabled() && term.IsTerminal(os.Stdout.Fd()) {
		title = titleStyle.Render(title)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, title)
	for i, in := range insts {
		fmt.Fprintln(w, colorize.InstructionLine(img.Arch, in.Addr.String(), rows[i], width, in.Text))
	}
}
