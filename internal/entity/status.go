package entity

import (
	"strings"

	"gorm.io/datatypes"
)

// MrnStatus is the mutable per-declaration view maintained by ingestion.
type MrnStatus struct {
	Versioned
	Mrn              string `gorm:"size:64;not null;uniqueIndex:idx_mrn_status_mrn"`
	LastRequest      Millis `gorm:"not null;default:0"`
	LastDecision     Millis `gorm:"not null;default:0"`
	LastFinalisation Millis `gorm:"not null;default:0"`
	Match            *bool
	ReleaseType      ReleaseType `gorm:"size:16;not null;default:''"`
	Events           int         `gorm:"not null;default:0"`
}

// OnSave normalises the key and clamps the event counter.
func (s *MrnStatus) OnSave() {
	s.Mrn = strings.TrimSpace(s.Mrn)
	if s.Events < 0 {
		s.Events = 0
	}
}

// RawMessage is the operational log of received messages, pruned by age.
type RawMessage struct {
	Versioned
	MessageType string         `gorm:"size:64;not null;index:idx_raw_messages_type"`
	ResourceID  string         `gorm:"size:190;not null"`
	Received    Millis         `gorm:"not null;index:idx_raw_messages_received"`
	Payload     datatypes.JSON `gorm:"not null"`
}
