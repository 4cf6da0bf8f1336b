package entity

// Physical collection names, bound to their record types below.
const (
	CollectionRequests      = "clearance_requests"
	CollectionDecisions     = "clearance_decisions"
	CollectionFinalisations = "finalisations"
	CollectionNotifications = "notifications"
	CollectionMrnStatus     = "mrn_status"
	CollectionRawMessages   = "raw_messages"
)

// TableName provides the explicit table binding for GORM.
func (Request) TableName() string { return CollectionRequests }

// TableName provides the explicit table binding for GORM.
func (Decision) TableName() string { return CollectionDecisions }

// TableName provides the explicit table binding for GORM.
func (Finalisation) TableName() string { return CollectionFinalisations }

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string { return CollectionNotifications }

// TableName provides the explicit table binding for GORM.
func (MrnStatus) TableName() string { return CollectionMrnStatus }

// TableName provides the explicit table binding for GORM.
func (RawMessage) TableName() string { return CollectionRawMessages }

// Models lists every persisted record type for schema migration.
func Models() []any {
	return []any{
		&Request{},
		&Decision{},
		&Finalisation{},
		&Notification{},
		&MrnStatus{},
		&RawMessage{},
	}
}
