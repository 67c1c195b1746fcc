package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// Spinner animates while a task graph evaluates. On a terminal without TTY
// support only the final status line is written.
type Spinner struct {
	w       io.Writer
	caps    TerminalCapabilities
	symbols Symbols
	spin    *spinner.Spinner
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer, caps TerminalCapabilities) *Spinner {
	return &Spinner{w: w, caps: caps, symbols: SelectSymbols(caps)}
}

// Start begins animating with msg as the suffix. It is a no-op when the
// terminal is not interactive.
func (s *Spinner) Start(msg string) {
	if !s.caps.IsTTY || s.spin != nil {
		return
	}
	s.spin = spinner.New(spinner.CharSets[s.symbols.SpinnerSet], 100*time.Millisecond,
		spinner.WithWriter(s.w),
		spinner.WithHiddenCursor(true),
	)
	s.spin.Suffix = " " + msg
	s.spin.Start()
}

// Stop ends the animation and writes msg after a success or failure marker.
func (s *Spinner) Stop(ok bool, msg string) {
	if s.spin != nil {
		s.spin.Stop()
		s.spin = nil
	}

	marker := s.symbols.Failure
	paint := color.New(color.FgRed).SprintFunc()
	if ok {
		marker = s.symbols.Checkmark
		paint = color.New(color.FgGreen).SprintFunc()
	}
	if s.caps.SupportsColor {
		marker = paint(marker)
	}
	fmt.Fprintf(s.w, "%s %s\n", marker, msg)
}
