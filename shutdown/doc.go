// Package shutdown coordinates graceful shutdown of the bot.
//
// Components register a Handler in a phase. On Shutdown (or SIGTERM and
// SIGINT after HandleSignals) phases run in ascending order; handlers in one
// phase run concurrently. chatkit serve uses:
//
//   - PhaseIntake: stop reading updates
//   - PhaseDispatch: wait for in-flight handlers
//   - PhaseBackground: stop correlation sweepers and the metrics server
//   - PhaseFlush: flush traces
//   - PhaseStorage: close state and content stores
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.HandleSignals()
//	coord.RegisterFunc("dispatcher", shutdown.PhaseDispatch, dispatcher.Drain)
//	coord.RegisterWithPhase("state", shutdown.CloserFunc(store.Close), shutdown.PhaseStorage)
//	<-coord.Done()
//
// Handlers should respect context cancellation. A phase that starts after
// the deadline is skipped and Shutdown reports ErrTimeout.
package shutdown
