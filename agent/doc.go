// Package agent runs conversational turns for gatekeep.
//
// A Turn is one user submission. Loop.Start builds a prompt from the turn's
// history snapshot and asks the generator for an answer, bounded by a step
// budget. Tool calls come back through the generator's per-step callback:
//
//   - if every call in the step is exempt from approval, the calls run at once
//     and their results are fed back so generation can continue;
//   - otherwise the whole step is handed to the approval gate and the turn is
//     suspended (Outcome.Awaiting).
//
// Loop.Resume completes a suspended turn once the user has decided:
//
//	batch, err := gate.Decide(approved)
//	if err != nil {
//	    // nothing was awaiting approval
//	}
//	outcome := loop.Resume(ctx, turn, batch)
//
// A rejected batch ends the turn with DeflectionMessage and no model call. An
// approved batch runs all its calls concurrently; if any fails, the turn ends
// in an error reply naming every tool of the batch. Otherwise the model is
// asked exactly once more, without tools and with the same history snapshot,
// to answer from the results.
//
// Every failure is turned into a Reply with IsError set; nothing escapes to
// the caller as an error.
//
// # Subpackages
//
// agent/terminal: the interactive terminal front end.
package agent
