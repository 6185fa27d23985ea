package main

import (
	"errors"
	"fmt"
	"os"
	"sync"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"

	"github.com/go-authgate/tapcard-cli/tui"
)

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// runWithDisplayer runs fn with the BubbleTea displayer on a terminal and the
// plain one on stdout otherwise.
func runWithDisplayer(fn func(tui.Displayer) error) error {
	if !isTTY() {
		return fn(tui.NewPlainDisplayer(os.Stdout))
	}

	m := tui.NewModel()
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
	}()

	err := fn(tui.NewProgramDisplayer(p))
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	return err
}

func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	if err := newRootCmd(defaultDeps()).Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
