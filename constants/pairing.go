package constants

// PairingStatus is the derived status of a paired_photo_source row.
type PairingStatus string

const (
	PairingPending             PairingStatus = "pending"
	PairingIngredientsUploaded PairingStatus = "ingredients_uploaded"
	PairingDirectionsUploaded  PairingStatus = "directions_uploaded"
	PairingBothUploaded        PairingStatus = "both_uploaded"
	PairingProcessing          PairingStatus = "processing"
	PairingCompleted           PairingStatus = "completed"
	PairingFailed              PairingStatus = "failed"
)

// Triggered reports whether the pairing has already produced its job.
func (s PairingStatus) Triggered() bool {
	switch s {
	case PairingBothUploaded, PairingProcessing, PairingCompleted, PairingFailed:
		return true
	}
	return false
}

// PhotoSlot names one of the two photo slots of a pairing.
type PhotoSlot string

const (
	SlotIngredients PhotoSlot = "ingredients"
	SlotDirections  PhotoSlot = "directions"
)

// ParseSlot accepts the slot names plus the "instructions" alias.
func ParseSlot(s string) (PhotoSlot, bool) {
	switch s {
	case string(SlotIngredients):
		return SlotIngredients, true
	case string(SlotDirections), "instructions":
		return SlotDirections, true
	}
	return "", false
}

// AttachmentStatus tracks email attachment handling.
type AttachmentStatus string

const (
	AttachmentPending AttachmentStatus = "pending"
	AttachmentQueued  AttachmentStatus = "queued"
	AttachmentSkipped AttachmentStatus = "skipped"
	AttachmentFailed  AttachmentStatus = "failed"
)
