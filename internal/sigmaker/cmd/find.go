package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"

	"github.com/spf13/cobra"

	"sigmaker/internal/binx"
	"sigmaker/internal/logging"
	"sigmaker/internal/pattern"
)

var findCmd = &cobra.Command{
	Use:   "find <signature> <path>",
	Short: "Find every match of a signature",
	Long: `Search a file, or every file below a directory, for a signature in raw
notation ("B8 ?? ?? ?? ?? C3"; "?" is accepted as a wildcard too).

Executables are searched in their loaded layout and matches are printed as
virtual addresses. Other files are searched as flat data from offset 0.`,
	Example: `
# Check that a signature still matches exactly once
sigmaker find "E8 ?? ?? ?? ?? 48 8B D8" ./game.exe

# Search a directory without descending into subdirectories
sigmaker find --recursive=false "55 48 89 E5" ./builds
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		return runFindSignature(cmd.Context(), cmd.OutOrStdout(), args[1], args[0], recursive)
	},
}

func init() {
	findCmd.Flags().BoolP("recursive", "r", true, "Search recursively in subdirectories")
	rootCmd.AddCommand(findCmd)
}

// runFindSignature writes one "path: address" line to w per match.
func runFindSignature(ctx context.Context, w io.Writer, root string, signature string, recursive bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m, err := pattern.Compile(signature)
	if err != nil {
		return fmt.Errorf("invalid signature: %v", err)
	}

	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("failed to stat path: %v", err)
	}

	lg := logging.NewLogger()
	defer lg.Close()

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			lg.Warn("Cannot access path", "path", path, "err", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if info.IsDir() {
			if !recursive && path != root {
				return pathpkg.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || info.Size() < int64(m.Len()) {
			return nil
		}

		img, err := loadSearchImage(path)
		if err != nil {
			lg.Warn("Cannot open file", "path", path, "err", err)
			return nil
		}
		defer img.Close()
		lg.Debug("Searching", "path", path, "format", img.Format, "segments", len(img.Segs))

		img.FindAll(m, func(a binx.Address) bool {
			fmt.Fprintf(w, "%s: %s\n", path, a)
			return true
		})
		return nil
	}

	if err := pathpkg.Walk(root, walkFn); err != nil {
		return fmt.Errorf("error walking directory: %v", err)
	}
	return nil
}

// loadSearchImage opens path as an executable, falling back to its raw bytes.
func loadSearchImage(path string) (*binx.Image, error) {
	img, err := binx.Open(path)
	if err == nil {
		return img, nil
	}
	return binx.OpenRaw(path, 0, binx.ArchUnknown)
}
