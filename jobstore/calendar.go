package jobstore

// Calendar is an opaque, named exclusion/inclusion schedule. The store never
// interprets Serialized; calendar arithmetic is an external collaborator's
// concern.
type Calendar struct {
	Name       string
	Serialized []byte
}
