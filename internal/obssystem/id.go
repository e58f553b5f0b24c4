package obssystem

import "github.com/google/uuid"

// newManualID disambiguates synthesized manual plans. The original
// hardcodes a single "manual" serial number for every such plan, which
// collides with the planSN-uniqueness invariant once more than one is
// outstanding; a random suffix keeps each manual plan distinct.
func newManualID() string {
	return uuid.NewString()
}
