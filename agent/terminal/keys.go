package terminal

import tea "github.com/charmbracelet/bubbletea"

// Command is what a key press asks the terminal to do.
type Command int

const (
	None Command = iota
	Quit
	Submit
	Approve
	Reject
	Backspace
	Append
)

func (c Command) String() string {
	switch c {
	case None:
		return "none"
	case Quit:
		return "quit"
	case Submit:
		return "submit"
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	case Backspace:
		return "backspace"
	case Append:
		return "append"
	}
	return "unknown"
}

// Translate maps a key press to a Command. Ctrl-C always quits. While tool
// calls await approval only the decision keys do anything; otherwise keys
// edit and submit the input line.
func Translate(key tea.KeyMsg, awaiting bool) Command {
	if key.Type == tea.KeyCtrlC {
		return Quit
	}
	if awaiting {
		switch key.Type {
		case tea.KeyEnter:
			return Approve
		case tea.KeyEsc:
			return Reject
		case tea.KeyRunes:
			if len(key.Runes) == 1 && !key.Alt {
				switch key.Runes[0] {
				case 'y', 'Y':
					return Approve
				case 'n', 'N':
					return Reject
				}
			}
		}
		return None
	}
	switch key.Type {
	case tea.KeyEnter:
		return Submit
	case tea.KeyBackspace, tea.KeyDelete:
		return Backspace
	case tea.KeySpace:
		return Append
	case tea.KeyRunes:
		if key.Alt {
			return None
		}
		return Append
	}
	return None
}
