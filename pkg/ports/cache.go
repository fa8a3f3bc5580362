package ports

import "github.com/aretw0/journey/pkg/domain"

// RecoveryCache is the local fallback storage. Calls are synchronous and local,
// so they take no context.
type RecoveryCache interface {
	// Write overwrites the snapshot for key.
	Write(key domain.SessionKey, snapshot domain.RecoverySnapshot) error

	// Read returns domain.ErrSnapshotAbsent when nothing is cached for key.
	Read(key domain.SessionKey) (domain.RecoverySnapshot, error)

	// Clear removes the snapshot. Clearing an absent key is not an error.
	Clear(key domain.SessionKey) error

	// List returns the keys with a cached snapshot.
	List() ([]domain.SessionKey, error)
}
