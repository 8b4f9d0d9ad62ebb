package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"unicode"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// percentEncodeForDataURL encodes a string for use in a data URL. Spaces
// become %20, never +.
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	for _, b := range []byte(s) {
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9',
			b == '-', b == '_', b == '.', b == '~':
			result.WriteByte(b)
		default:
			fmt.Fprintf(&result, "%%%02X", b)
		}
	}
	return result.String()
}

// chromeBinary resolves the browser to drive, preferring the configured path.
func chromeBinary(configured string) (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome"}
	if configured != "" {
		candidates = []string{configured}
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
}

// pdfConverter prints HTML to a Letter sized PDF using headless Chrome.
func pdfConverter(opts Options) converter {
	return func(ctx context.Context, html string) ([]byte, error) {
		binary, err := chromeBinary(opts.ChromePath)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(binary),
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)

		allocCtx, cancel := chromedp.NewExecAllocator(ctx, allocOpts...)
		defer cancel()

		taskCtx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(html)

		var pdfData []byte
		err = chromedp.Run(taskCtx,
			chromedp.Navigate(dataURL),
			chromedp.WaitReady("body"),
			chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				pdfData, _, err = page.PrintToPDF().
					WithPrintBackground(true).
					WithPaperWidth(8.5).
					WithPaperHeight(11.0).
					WithMarginTop(0.75).
					WithMarginBottom(0.75).
					WithMarginLeft(0.75).
					WithMarginRight(0.75).
					WithPreferCSSPageSize(true).
					Do(ctx)
				return err
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
		}
		return pdfData, nil
	}
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	var result strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_':
			result.WriteRune(r)
		case r == ' ':
			result.WriteByte('-')
		}
		if result.Len() >= 50 {
			break
		}
	}
	if result.Len() == 0 {
		return "document"
	}
	return result.String()
}
