// Package event provides the synchronous pub-sub bus patchloop uses as its
// observability hook.
//
// The loop recovers locally from malformed responses, failed diffs and failing
// verification commands. Those failures never change a loop decision, but each
// one is published here so metrics and the progress view can count it.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Types
//
//   - [StateChangedEvent] ("loop.state"): state machine transitions
//   - [AttemptStartedEvent] ("attempt.started"): one attempt of a milestone begins
//   - [ResponseUnusableEvent] ("response.unusable"): extraction failed or an error object came back
//   - [ChangeAppliedEvent] ("change.applied"): the patch tool accepted a change
//   - [ChangeSkippedEvent] ("change.skipped"): a change was not applied, with the reason
//   - [VerifyCommandEvent] ("verify.command"): one verification command finished
//   - [MilestoneFinishedEvent] ("milestone.finished"): a milestone stopped taking attempts
//
// # Usage
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeChangeSkipped, func(e event.Event) {
//	    skipped := e.(event.ChangeSkippedEvent)
//	    fmt.Println(skipped.Path, skipped.Reason)
//	})
package event
