package store

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const (
	fieldID      = "ID"
	fieldETag    = "ETag"
	fieldCreated = "Created"
	fieldUpdated = "Updated"
)

// Config describes the collaborators of a unit of work.
type Config struct {
	Clock      func() time.Time
	IDProvider IDProvider
}

type stagedUpdate[T entity.Entity] struct {
	entity       T
	expectedETag string
}

type stagedPatch[T entity.Entity] struct {
	entity       T
	fields       map[string]any
	expectedETag string
	updated      time.Time
}

// UnitOfWork stages writes against one collection and commits them inside a caller-owned
// transaction. It is single-writer: use one instance per logical operation.
type UnitOfWork[T entity.Entity] struct {
	clock   func() time.Time
	ids     IDProvider
	inserts []T
	updates []stagedUpdate[T]
	patches []stagedPatch[T]
}

// New constructs a unit of work for entities of type T.
func New[T entity.Entity](cfg Config) *UnitOfWork[T] {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &UnitOfWork[T]{clock: clock, ids: ids}
}

// Insert stamps and stages the entity for insertion. Entities without an id receive one.
func (u *UnitOfWork[T]) Insert(item T) error {
	if isNilEntity(item) {
		return ErrNilEntity
	}
	now := u.clock().UTC()
	if item.EntityID() == "" {
		id, err := u.ids.NewID()
		if err != nil {
			return fmt.Errorf("store: generate id: %w", err)
		}
		item.SetEntityID(id)
	}
	etag, err := u.ids.NewID()
	if err != nil {
		return fmt.Errorf("store: generate etag: %w", err)
	}
	item.Stamp(now, now)
	item.SetEntityETag(etag)
	item.OnSave()
	u.inserts = append(u.inserts, item)
	return nil
}

// Update stages a full replacement guarded by expectedETag. The version check happens at
// commit time. An entity already staged for insert in this unit of work is left alone.
func (u *UnitOfWork[T]) Update(item T, expectedETag string) error {
	if isNilEntity(item) {
		return ErrNilEntity
	}
	if item.EntityID() == "" {
		return ErrMissingEntityID
	}
	if u.hasInsert(item.EntityID()) {
		return nil
	}
	etag, err := u.ids.NewID()
	if err != nil {
		return fmt.Errorf("store: generate etag: %w", err)
	}
	item.Touch(u.clock())
	item.SetEntityETag(etag)
	item.OnSave()
	u.updates = append(u.updates, stagedUpdate[T]{entity: item, expectedETag: expectedETag})
	return nil
}

// Patch stages a partial update guarded by expectedETag. It fails immediately when the same
// entity already has a pending insert or full update in this unit of work.
// OnSave is not called, so derived fields are not recomputed from the patched values.
func (u *UnitOfWork[T]) Patch(item T, patch *Patch, expectedETag string) error {
	if isNilEntity(item) {
		return ErrNilEntity
	}
	if item.EntityID() == "" {
		return ErrMissingEntityID
	}
	if patch.Empty() {
		return ErrEmptyPatch
	}
	id := item.EntityID()
	if u.hasInsert(id) || u.hasUpdate(id) {
		return fmt.Errorf("%w: %s", ErrPatchAfterPendingWrite, id)
	}
	etag, err := u.ids.NewID()
	if err != nil {
		return fmt.Errorf("store: generate etag: %w", err)
	}
	now := u.clock().UTC()
	item.Touch(now)
	item.SetEntityETag(etag)
	u.patches = append(u.patches, stagedPatch[T]{
		entity:       item,
		fields:       patch.clone(),
		expectedETag: expectedETag,
		updated:      now,
	})
	return nil
}

// Pending returns the number of staged writes.
func (u *UnitOfWork[T]) Pending() int {
	return len(u.inserts) + len(u.updates) + len(u.patches)
}

// Reset discards every staged write.
func (u *UnitOfWork[T]) Reset() {
	u.inserts = nil
	u.updates = nil
	u.patches = nil
}

// Save writes inserts, then full updates, then patches through tx, which must be an open
// transaction. A version mismatch aborts with *ConcurrencyError. Each staged list is cleared
// once its phase has been written in full.
func (u *UnitOfWork[T]) Save(ctx context.Context, tx *gorm.DB) error {
	if !inTransaction(tx) {
		return ErrNoTransaction
	}
	if u.Pending() == 0 {
		return nil
	}
	session := tx.WithContext(ctx)

	for _, item := range u.inserts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := session.Create(item).Error; err != nil {
			return translateError(err, item.EntityID(), item.EntityETag())
		}
	}
	u.inserts = nil

	for _, staged := range u.updates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.replace(session, staged); err != nil {
			return err
		}
	}
	u.updates = nil

	for _, staged := range u.patches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.patch(session, staged); err != nil {
			return err
		}
	}
	u.patches = nil
	return nil
}

func (u *UnitOfWork[T]) replace(session *gorm.DB, staged stagedUpdate[T]) error {
	id := staged.entity.EntityID()
	model, err := parseSchema(session, staged.entity)
	if err != nil {
		return err
	}
	result := session.Model(staged.entity).
		Select("*").
		Omit(fieldCreated).
		Where(versionCondition(model, id, staged.expectedETag)).
		Updates(staged.entity)
	if result.Error != nil {
		return translateError(result.Error, id, staged.expectedETag)
	}
	if result.RowsAffected == 0 {
		return &ConcurrencyError{ID: id, ETag: staged.expectedETag}
	}
	return nil
}

func (u *UnitOfWork[T]) patch(session *gorm.DB, staged stagedPatch[T]) error {
	id := staged.entity.EntityID()
	model, err := parseSchema(session, staged.entity)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(staged.fields)+2)
	for name, value := range staged.fields {
		field := model.LookUpField(name)
		if field == nil || field.DBName == "" {
			return fmt.Errorf("%w: %s", ErrUnknownPatchField, name)
		}
		values[field.DBName] = value
	}
	values[model.LookUpField(fieldETag).DBName] = staged.entity.EntityETag()
	values[model.LookUpField(fieldUpdated).DBName] = staged.updated

	result := session.Model(staged.entity).
		Where(versionCondition(model, id, staged.expectedETag)).
		Updates(values)
	if result.Error != nil {
		return translateError(result.Error, id, staged.expectedETag)
	}
	if result.RowsAffected == 0 {
		return &ConcurrencyError{ID: id, ETag: staged.expectedETag}
	}
	return nil
}

func (u *UnitOfWork[T]) hasInsert(id string) bool {
	for _, item := range u.inserts {
		if item.EntityID() == id {
			return true
		}
	}
	return false
}

func (u *UnitOfWork[T]) hasUpdate(id string) bool {
	for _, staged := range u.updates {
		if staged.entity.EntityID() == id {
			return true
		}
	}
	return false
}

func parseSchema(session *gorm.DB, model any) (*schema.Schema, error) {
	statement := &gorm.Statement{DB: session}
	if err := statement.Parse(model); err != nil {
		return nil, fmt.Errorf("store: parse schema: %w", err)
	}
	return statement.Schema, nil
}

func versionCondition(model *schema.Schema, id, etag string) clause.Expression {
	return clause.And(
		clause.Eq{Column: clause.Column{Name: model.LookUpField(fieldID).DBName}, Value: id},
		clause.Eq{Column: clause.Column{Name: model.LookUpField(fieldETag).DBName}, Value: etag},
	)
}

func inTransaction(tx *gorm.DB) bool {
	if tx == nil || tx.Statement == nil {
		return false
	}
	_, ok := tx.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

func isNilEntity(item any) bool {
	if item == nil {
		return true
	}
	value := reflect.ValueOf(item)
	return value.Kind() == reflect.Pointer && value.IsNil()
}
