package presenter

import (
	"fmt"
	"io"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/example/face-access/internal/session"
)

// Terminal draws capture progress as a bar and prints the final message.
type Terminal struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewTerminal returns a presenter writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func (t *Terminal) Render(view session.View) {
	switch view.State {
	case session.StateCapturing, session.StateVerifying:
		if t.bar == nil {
			t.bar = progressbar.NewOptions(100,
				progressbar.OptionSetWriter(t.out),
				progressbar.OptionSetDescription(view.Message),
				progressbar.OptionSetPredictTime(false),
				progressbar.OptionSetWidth(30),
			)
		}
		t.bar.Describe(view.Message)
		_ = t.bar.Set(int(view.Progress * 100))
	case session.StateSuccess, session.StateFailure:
		if t.bar != nil {
			_ = t.bar.Finish()
			t.bar = nil
		}
		mark := "✓"
		if view.State == session.StateFailure {
			mark = "✗"
		}
		fmt.Fprintf(t.out, "\n%s %s\n", mark, strings.ReplaceAll(view.Message, "\n", " · "))
	}
}
