package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newFmtCmd(opts *options) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "fmt [paths...]",
		Short: "Format Pkl settings modules",
		Long: `Formats .pkl files to a canonical style.

By default, formats the settings module. Directories are searched for .pkl
files. Use --check to verify formatting without making changes.

Formatting rules:
  - Trailing newline
  - Trim trailing whitespace from lines
  - At most one blank line in a row`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = []string{opts.settingsPath}
			}
			return runFmt(cmd, paths, check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check formatting without making changes (exit 1 if not formatted)")
	return cmd
}

func runFmt(cmd *cobra.Command, paths []string, check bool) error {
	out := cmd.OutOrStdout()

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := findPklFiles(p)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}

	if len(files) == 0 {
		fmt.Fprintln(out, "No .pkl files found.")
		return nil
	}

	unformatted := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		formatted := formatPkl(string(data))
		if string(data) == formatted {
			continue
		}
		unformatted++
		if check {
			fmt.Fprintf(out, "%s: not formatted\n", file)
			continue
		}
		if err := os.WriteFile(file, []byte(formatted), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
		fmt.Fprintf(out, "%s: formatted\n", file)
	}

	if check && unformatted > 0 {
		return fmt.Errorf("%d file(s) not formatted", unformatted)
	}
	if unformatted == 0 {
		fmt.Fprintf(out, "All %d file(s) are properly formatted.\n", len(files))
	}
	return nil
}

func findPklFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(path, ".pkl") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// formatPkl applies basic formatting rules to Pkl content.
func formatPkl(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	result := strings.Join(lines, "\n")

	if !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	return result
}
