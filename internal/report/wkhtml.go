package report

import (
	"fmt"
	"os/exec"
	"strings"
)

// exportWkhtmltopdf converts HTML to PDF using wkhtmltopdf when Chrome is
// not installed. Charts need javascript, so rendering is given a delay.
func exportWkhtmltopdf(html string, title string) (*Result, error) {
	if _, err := exec.LookPath("wkhtmltopdf"); err != nil {
		return nil, fmt.Errorf("%w: wkhtmltopdf not installed", ErrPDFDependencyMissing)
	}

	cmd := exec.Command("wkhtmltopdf",
		"--page-size", "A4",
		"--encoding", "utf-8",
		"--enable-local-file-access",
		"--javascript-delay", "1500",
		"--quiet",
		"-", "-",
	)
	cmd.Stdin = strings.NewReader(html)

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("wkhtmltopdf failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("wkhtmltopdf execution failed: %w", err)
	}

	return &Result{
		Data:     output,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
