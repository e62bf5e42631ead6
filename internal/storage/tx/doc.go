// Package tx implements transaction coordination for the ObaDB storage core.
//
// # Overview
//
// A Coordinator gives ACID semantics to a set of pluggable Components:
//
//   - Atomicity: two-phase prepare/commit across every component
//   - Consistency: one journal record per commit, replayed on Start
//   - Isolation: snapshot reads, a single writer at a time
//   - Durability: the commit record is synced before anything is published
//
// # Transaction Lifecycle
//
//	t, err := coord.Begin(tx.ModeWrite)
//	if err != nil {
//	    return err
//	}
//	defer coord.End(t)
//
//	// Components read and write through t.
//
//	if err := coord.Commit(t); err != nil {
//	    return err
//	}
//
// # Transaction States
//
//   - ACTIVE_READ, ACTIVE_WRITE: work in progress
//   - PREPARING: components have written their changes, nothing published
//   - COMMITTED, ABORTED: outcome decided
//   - DETACHED: unbound from any execution context, see Continuation
//   - END: terminal
//
// # Sessions
//
// Base and Session hold the "current transaction" of one execution
// context, so callers do not pass the transaction around:
//
//	s := base.NewSession()
//	if err := s.Begin(tx.ModeRead); err != nil {
//	    return err
//	}
//	defer s.End()
//
// A Session's transaction can be moved to another goroutine with Detach
// and Attach. The continuation is single-use.
//
// # Promotion
//
// A reader can become a writer with Promote only if no other writer holds
// admission and nothing has committed since its snapshot. Promotion never
// waits and never retries.
package tx
