package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationPurgeUnknownFactTypes = "2024-06-01_purge_unknown_fact_types"
	migrationTrimBusinessKeys      = "2024-06-15_trim_business_keys"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

// Migrate creates or updates the schema and applies pending data migrations once each.
func Migrate(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	session := db.WithContext(ctx)
	models := append(entity.Models(), &migrationRecord{})
	if err := session.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return applyMigrations(session, logger)
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationPurgeUnknownFactTypes, apply: purgeUnknownFactTypes},
		{name: migrationTrimBusinessKeys, apply: trimBusinessKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// purgeUnknownFactTypes removes rows written before unknown types were dropped at ingestion.
func purgeUnknownFactTypes(db *gorm.DB) error {
	if err := db.Where(&entity.Finalisation{ReleaseType: entity.ReleaseTypeUnknown}).
		Delete(&entity.Finalisation{}).Error; err != nil {
		return err
	}
	return db.Where(&entity.Notification{NotificationType: entity.NotificationTypeUnknown}).
		Delete(&entity.Notification{}).Error
}

func trimBusinessKeys(db *gorm.DB) error {
	targets := []struct {
		model any
		field string
	}{
		{model: &entity.Request{}, field: "Mrn"},
		{model: &entity.Decision{}, field: "Mrn"},
		{model: &entity.Finalisation{}, field: "Mrn"},
		{model: &entity.Notification{}, field: "ReferenceNumber"},
	}
	global := db.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, target := range targets {
		column, err := columnName(db, target.model, target.field)
		if err != nil {
			return err
		}
		trimmed := gorm.Expr("TRIM(?)", clause.Column{Name: column})
		if err := global.Model(target.model).Update(target.field, trimmed).Error; err != nil {
			return err
		}
	}
	return nil
}

func columnName(db *gorm.DB, model any, field string) (string, error) {
	statement := &gorm.Statement{DB: db}
	if err := statement.Parse(model); err != nil {
		return "", err
	}
	resolved := statement.Schema.LookUpField(field)
	if resolved == nil {
		return "", fmt.Errorf("unknown field %s on %s", field, statement.Schema.Name)
	}
	return resolved.DBName, nil
}
