/*
Package session orders concurrent operations on the same (user, playbook) session.

Operations on one session run strictly one after another; operations on different
sessions proceed in parallel. Locks are reference counted and dropped once idle. An
optional ports.DistributedLocker extends the ordering across replicas.
*/
package session
