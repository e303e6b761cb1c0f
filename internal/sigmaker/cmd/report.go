package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"

	"sigmaker/internal/binx"
	"sigmaker/internal/pattern"
	"sigmaker/internal/scanner"
	"sigmaker/internal/sigmaker/styles"
	"sigmaker/internal/ui/colorize"
)

// buildReport describes a finished scan as markdown: every rendering of the
// signature and the instructions it covers.
func buildReport(img *binx.Image, s *scanner.Scanner, wildcard byte, unique bool) string {
	var b strings.Builder

	mode := "not found before the start address"
	if unique {
		mode = "unique in the image"
	}
	fmt.Fprintf(&b, "# Signature for %s\n\n", s.Start())
	fmt.Fprintf(&b, "- **%d bytes**, %d masked\n", s.Len(), s.Buffer().MaskedCount())
	fmt.Fprintf(&b, "- %d instructions\n", len(s.Instructions()))
	fmt.Fprintf(&b, "- %s\n", mode)
	if img.Path != "" {
		fmt.Fprintf(&b, "- `%s` (%s, %s)\n", img.Path, img.Format, img.Arch)
	}

	for _, f := range []pattern.Format{pattern.FormatRaw, pattern.FormatCArray, pattern.FormatPattern, pattern.FormatCustom} {
		fmt.Fprintf(&b, "\n## %s\n\n```\n%s\n```\n", f, s.Buffer().Render(f, wildcard))
	}

	b.WriteString("\n## Instructions\n\n```asm\n")
	for _, in := range s.Instructions() {
		fmt.Fprintf(&b, "%s  %s\n", in.Addr, in.Text)
	}
	b.WriteString("```\n")
	return b.String()
}

// writeReport renders md for a terminal, or writes it as is when piped.
func writeReport(w io.Writer, md string) error {
	if !colorize.Enabled() || !term.IsTerminal(os.Stdout.Fd()) {
		_, err := io.WriteString(w, md)
		return err
	}

	width := 80
	if tw, _, err := term.GetSize(os.Stdout.Fd()); err == nil && tw > 0 {
		width = tw
	}
	r, err := styles.MarkdownRenderer(width - 2)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %v", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render report: %v", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
