package entity

import "time"

// Entity is the contract the unit of work relies on for optimistic writes.
type Entity interface {
	EntityID() string
	SetEntityID(id string)
	EntityETag() string
	SetEntityETag(etag string)
	Stamp(created, updated time.Time)
	Touch(updated time.Time)
	// OnSave runs immediately before a write is staged.
	OnSave()
}

// Versioned is the base shape of every persisted record that supports optimistic updates.
// Created and Updated are owned by the store; callers never set them.
type Versioned struct {
	ID      string    `gorm:"primaryKey;size:64;not null"`
	ETag    string    `gorm:"size:64;not null"`
	Created time.Time `gorm:"not null"`
	Updated time.Time `gorm:"not null"`
}

// EntityID returns the stable identifier.
func (v *Versioned) EntityID() string {
	return v.ID
}

// SetEntityID assigns the identifier.
func (v *Versioned) SetEntityID(id string) {
	v.ID = id
}

// EntityETag returns the current version token.
func (v *Versioned) EntityETag() string {
	return v.ETag
}

// SetEntityETag replaces the version token.
func (v *Versioned) SetEntityETag(etag string) {
	v.ETag = etag
}

// Stamp sets both lifecycle timestamps; used on insert only.
func (v *Versioned) Stamp(created, updated time.Time) {
	v.Created = created.UTC()
	v.Updated = updated.UTC()
}

// Touch moves the update timestamp forward.
func (v *Versioned) Touch(updated time.Time) {
	v.Updated = updated.UTC()
}

// OnSave is a no-op by default.
func (v *Versioned) OnSave() {}
