package store

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations applies the schema with gormigrate. IDs are append-only.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_conversations_messages",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&conversationRow{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&messageRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("whatsapp_messages", "whatsapp_conversations")
			},
		},
		{
			ID: "002_vehicles",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&vehicleRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("vehicles")
			},
		},
	})
	return m.Migrate()
}
