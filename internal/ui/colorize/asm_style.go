package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/x/exp/charmtone"
)

// styleName is the chroma style used for instruction listings.
const styleName = "sigmaker-asm"

// AsmStyle is the listing style: registers in teal, immediates in pink.
var AsmStyle = styles.Register(chroma.MustNewStyle(styleName, asmEntries()))

func asmEntries() chroma.StyleEntries {
	text := charmtone.Salt.Hex()
	register := charmtone.Julep.Hex()
	number := charmtone.Cheeky.Hex()

	return chroma.StyleEntries{
		chroma.Text:           text,
		chroma.Background:     "bg:" + charmtone.Pepper.Hex(),
		chroma.Comment:        charmtone.Squid.Hex(),
		chroma.CommentPreproc: charmtone.Squid.Hex(),

		// nasm and armasm tokenize mnemonics as keywords or functions
		chroma.Keyword:       text,
		chroma.KeywordPseudo: text,
		chroma.NameFunction:  text,

		chroma.Name:         register,
		chroma.NameBuiltin:  register,
		chroma.NameVariable: register,

		chroma.LiteralNumber:        number,
		chroma.LiteralNumberHex:     number,
		chroma.LiteralNumberInteger: number,

		chroma.NameLabel:   charmtone.Mustard.Hex(),
		chroma.Operator:    text,
		chroma.Punctuation: text,
		chroma.String:      charmtone.Zest.Hex(),
	}
}
