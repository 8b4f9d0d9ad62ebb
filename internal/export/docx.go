package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// docxConverter converts HTML to DOCX by piping it through pandoc.
func docxConverter(opts Options) converter {
	return func(ctx context.Context, html string) ([]byte, error) {
		binary := opts.PandocPath
		if binary == "" {
			binary = "pandoc"
		}
		path, err := exec.LookPath(binary)
		if err != nil {
			return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
		}

		ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, path,
			"-f", "html",
			"-t", "docx",
			"--standalone",
			"-o", "-",
		)
		cmd.Stdin = strings.NewReader(html)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		output, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, fmt.Errorf("pandoc failed: %s", strings.TrimSpace(stderr.String()))
			}
			return nil, fmt.Errorf("pandoc execution failed: %w", err)
		}
		return output, nil
	}
}
