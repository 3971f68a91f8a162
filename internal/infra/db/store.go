package db

import (
	"fmt"
	"log"

	"attestd/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store bundles the gorm handle with the repositories that hang off it.
// With no DSN configured every repository reports errDBUnavailable, which
// keeps the binary bootable for smoke checks without a database.
type Store struct {
	DB *gorm.DB

	Devices     *DeviceRepository
	Captures    *CaptureRepository
	Challenges  *ChallengeRepository
	AuditEvents *AuditEventRepository
}

func NewStore(cfg config.Config) (*Store, error) {
	var gdb *gorm.DB
	if cfg.PostgresDSN == "" {
		log.Printf("POSTGRES_DSN not set; starting in no-db mode.")
	} else {
		opened, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
			TranslateError: true,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		gdb = opened
	}
	return &Store{
		DB:          gdb,
		Devices:     NewDeviceRepository(gdb),
		Captures:    NewCaptureRepository(gdb),
		Challenges:  NewChallengeRepository(gdb),
		AuditEvents: NewAuditEventRepository(gdb),
	}, nil
}
