package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func init() {
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func success(format string, a ...any) {
	green.Printf("✓ "+format+"\n", a...)
}

func warning(format string, a ...any) {
	yellow.Printf("! "+format+"\n", a...)
}

// fail prints a formatted error to stderr and returns a short error for cobra.
func fail(title, explanation string) error {
	red.Fprintf(os.Stderr, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}
	return fmt.Errorf("%s", title)
}
