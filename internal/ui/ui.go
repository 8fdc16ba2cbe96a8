// Package ui decides how CLI output is styled for the current terminal.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// ColorEnabled reports whether output written to w should be styled. CI
// logs, NO_COLOR and an explicit noColor all turn styling off.
func ColorEnabled(w io.Writer, noColor bool) bool {
	return !noColor && !DetectNoColor() && !DetectCI() && IsTTY(w)
}

// StylesFor returns the styles to use when writing to w.
func StylesFor(w io.Writer, noColor bool) Styles {
	return GetStyles(!ColorEnabled(w, noColor))
}
