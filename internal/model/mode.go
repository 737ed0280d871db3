package model

// Mode selects a server-side behavior profile for a gateway request.
type Mode string

const (
	ModeGeneral   Mode = "general"
	ModeWriting   Mode = "writing"
	ModeCoding    Mode = "coding"
	ModeResearch  Mode = "research"
	ModeImageEdit Mode = "image_edit"
)

// Normalize maps unrecognized modes to the general profile.
func (m Mode) Normalize() Mode {
	switch m {
	case ModeGeneral, ModeWriting, ModeCoding, ModeResearch, ModeImageEdit:
		return m
	default:
		return ModeGeneral
	}
}
