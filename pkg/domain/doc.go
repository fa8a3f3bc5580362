/*
Package domain contains the core domain models of the Journey engine.

It defines playbooks and their items, the per-user Progress record, captured
Responses and the RecoverySnapshot kept by the local cache. This package is kept
pure and free of I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Playbook / Item: immutable, versioned definition of an ordered sequence of work.
  - Progress: where a user is in a playbook (status, current index, frontier, version marker).
  - Response: the validated payload captured for one item; one per (user, playbook, item).
  - RecoverySnapshot: the locally cached copy of progress and responses.
  - SessionKey: the (user, playbook) pair every operation is scoped to.
*/
package domain
