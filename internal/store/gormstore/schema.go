package gormstore

import (
	"context"

	"gorm.io/gorm"
)

// Migrate creates or updates every table used by the stores.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapStoreError("schema", errorCodeMigrate, err)
	}
	return nil
}
