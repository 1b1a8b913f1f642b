package session

// Status is the revocation state of a credential.
type Status int64

const (
	// StatusActive means neither the credential nor its generation is revoked.
	StatusActive Status = 0
	// StatusRevoked means the credential id is on the deny-list.
	StatusRevoked Status = 1
	// StatusSuperseded means the principal's generation moved past the credential's.
	StatusSuperseded Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRevoked:
		return "revoked"
	case StatusSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}
