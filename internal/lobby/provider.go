package lobby

// CreateOpts describes a lobby to be created by the provider.
type CreateOpts struct {
	Kind       Kind
	OwnerID    string
	OwnerName  string
	MaxMembers int
	Private    bool
	Attributes map[string]string

	// Attributes of the owner's own member record.
	OwnerAttributes map[string]string
}

// Provider is the backing lobby service. Completion callbacks may fire on
// any goroutine; the orchestrator re-schedules them onto its tick.
type Provider interface {
	// Create makes a new lobby with the caller as owner and sole member.
	Create(opts CreateOpts, done func(Record, error))

	// Find looks a lobby up by ID. A nil record with nil error means the
	// lobby does not exist.
	Find(id string, done func(rec *Record, err error))

	// Join adds the member to an existing lobby.
	Join(id string, member Member, done func(Record, error))

	// Leave removes the local peer from a lobby. Best effort.
	Leave(id string)

	// Destroy closes a lobby the local peer owns, notifying members.
	Destroy(id string)

	// SetAttributes replaces the given lobby-level attribute keys.
	SetAttributes(id string, attrs map[string]string) error

	// SetMemberAttributes replaces the given keys on one member record.
	SetMemberAttributes(id, peerID string, attrs map[string]string) error

	// Search returns lobbies whose attributes match all filter entries.
	Search(filters map[string]string, done func([]Record, error))

	// Subscribe registers handlers for membership or attribute changes on
	// lobbies the local peer occupies, and for lobby closure.
	Subscribe(onUpdate func(Record), onClosed func(lobbyID, reason string))
}
