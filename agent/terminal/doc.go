// Package terminal is the interactive front end of gatekeep, built on
// bubbletea.
//
// The Model renders a session.Snapshot on every frame: the conversation so
// far, then either the input line, a spinner while a turn is running, or a
// box listing the tool calls that wait for approval. Assistant messages are
// rendered as Markdown with glamour; error messages are shown in red.
//
// Key presses go through Translate, which knows nothing about the session
// beyond whether approval is pending:
//
//	Ctrl-C            quit, in every state
//	Enter, y          approve the pending batch
//	Esc, n            reject the pending batch
//	Enter             submit the input line (no batch pending)
//	Backspace, Del    delete the last character
//
// Session calls block until the turn settles, so they run as tea.Cmds.
// Wire the session observer to Program.Send(RefreshMsg{}) so intermediate
// states, such as loading, are drawn as they happen.
//
// With a logging.Ring the view ends with a debug panel showing the most
// recent log records.
package terminal
