/*
Package ports defines the driven and driving ports (interfaces) of the Journey engine.

These interfaces decouple the Session Coordinator from external implementations,
allowing the engine to work with various definition sources, durable stores and
local caches.

# Key Interfaces

  - DefinitionStore: read-only source of playbooks and their ordered items (Memory, Files, Loam).
  - ProgressStore / ResponseStore: the durable layer (Memory, SQL, Redis, Mongo).
  - RecoveryCache: synchronous local fallback storage (Memory, Files).
  - DistributedLocker: cross-replica ordering of operations on the same session.
  - Coordinator: the operations exposed to driving adapters (HTTP, MCP, CLI).
*/
package ports
