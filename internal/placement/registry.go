package placement

import (
	"fmt"
	"sync"

	"github.com/zonesync/zonesync/internal/repository/objectstore"
)

// ZoneRegistry maps zone codes to backend storage. Registered once at
// startup and shared read-mostly by every worker; all methods are safe for
// concurrent use.
type ZoneRegistry struct {
	mu       sync.RWMutex
	backends map[string]objectstore.Backend
	zones    []string
}

// NewZoneRegistry creates an empty registry.
func NewZoneRegistry() *ZoneRegistry {
	return &ZoneRegistry{
		backends: make(map[string]objectstore.Backend),
		zones:    make([]string, 0),
	}
}

// RegisterZone binds a zone code to a backend.
func (r *ZoneRegistry) RegisterZone(zoneCode string, backend objectstore.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[zoneCode]; exists {
		return fmt.Errorf("zone %s already registered", zoneCode)
	}

	r.backends[zoneCode] = backend
	r.zones = append(r.zones, zoneCode)
	return nil
}

// BackendForZone returns the backend hosting a zone.
func (r *ZoneRegistry) BackendForZone(zoneCode string) (objectstore.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, exists := r.backends[zoneCode]
	if !exists {
		return nil, fmt.Errorf("no backend registered for zone: %s", zoneCode)
	}
	return backend, nil
}

// BackendIDForZone returns the id of the backend hosting a zone.
func (r *ZoneRegistry) BackendIDForZone(zoneCode string) (string, error) {
	backend, err := r.BackendForZone(zoneCode)
	if err != nil {
		return "", err
	}
	return backend.ID(), nil
}

// RepositoryFor returns an object repository bound to a physical bucket in a
// zone. Used by workers when executing jobs against that zone.
func (r *ZoneRegistry) RepositoryFor(zoneCode, physicalBucket string) (objectstore.ObjectRepository, error) {
	backend, err := r.BackendForZone(zoneCode)
	if err != nil {
		return nil, err
	}
	return backend.Repository(physicalBucket), nil
}

// ListZones returns all registered zone codes.
func (r *ZoneRegistry) ListZones() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	zones := make([]string, len(r.zones))
	copy(zones, r.zones)
	return zones
}
