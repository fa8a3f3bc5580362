/*
Package journey is a guided process engine: it drives multi-step, resumable
playbooks that a user completes over several sessions.

A playbook is an ordered list of items (steps, tasks, milestones, checklists).
For every (user, playbook) pair the engine keeps a progress record and the
responses captured so far. Each call writes through two layers: the durable
store, which is the source of truth, and a local Recovery Cache that keeps the
session usable while the durable store is unreachable.

# Concept

The engine never renders content and never decides business questions. The
host shows items, collects answers and calls the Session Coordinator:

  - StartPlaybook creates (or resumes) the progress record.
  - SaveItemResponse validates a payload against the item schema and stores it.
  - MoveNext, MovePrevious and JumpTo move the cursor. Required items block
    MoveNext; completion needs every required item answered.
  - GetStatus is the resume entry point. It reconciles the durable record with
    the cached snapshot and reports a RecoveryConflictError when the cache holds
    newer, unconfirmed work. ResolveConflict settles it explicitly.

Every call returns a domain.Result carrying the state, the navigation outcome
and the status of each storage layer. A Result with a Durable error is
degraded: the change only reached the cache.

# Usage

	eng, err := journey.New("./playbooks",
		journey.WithStore(sqlStore),
		journey.WithCache(fileCache),
	)
	if err != nil {
		log.Fatal(err)
	}

	s := eng.Session("ana", "onboarding")
	if _, err := s.Start(ctx, ""); err != nil {
		log.Fatal(err)
	}
	if _, err := s.Respond(ctx, "profile", map[string]any{"name": "Ana"}); err != nil {
		log.Fatal(err)
	}
	res, err := s.Next(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if res.Outcome == domain.OutcomeBlocked {
		log.Println("still missing:", res.Blocking)
	}
*/
package journey
