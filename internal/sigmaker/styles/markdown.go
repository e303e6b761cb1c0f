// Package styles holds the terminal styles of sigmaker's rich output.
package styles

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	gstyles "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/x/exp/charmtone"
)

func stringPtr(s string) *string { return &s }

// MarkdownRenderer returns a glamour renderer for signature reports wrapped at
// width columns.
func MarkdownRenderer(width int) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithStyles(MarkdownStyle()),
		glamour.WithWordWrap(width),
	)
}

// MarkdownStyle is glamour's dark style recolored with the charmtone palette.
// Signatures sit in code blocks, so those get the most contrast.
func MarkdownStyle() ansi.StyleConfig {
	s := gstyles.DarkStyleConfig

	s.Document.Color = stringPtr(charmtone.Smoke.Hex())
	s.Document.Margin = nil

	s.Heading.Color = stringPtr(charmtone.Malibu.Hex())
	s.H1.Color = stringPtr(charmtone.Zest.Hex())
	s.H1.BackgroundColor = stringPtr(charmtone.Charple.Hex())
	s.H2.Color = stringPtr(charmtone.Julep.Hex())

	s.Item.BlockPrefix = "• "
	s.Code.Color = stringPtr(charmtone.Malibu.Hex())
	s.Code.BackgroundColor = nil
	s.CodeBlock.Color = stringPtr(charmtone.Guac.Hex())
	return s
}
