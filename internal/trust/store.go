// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package trust verifies host certificates: loading a host certificate
// optionally goes through a real CA-bundle chain check plus a local
// revocation cache, instead of always trusting whatever --no-cert-check
// forces.
package trust

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// RevokedSerial is one certificate serial number entered into the local
// revocation cache (populated by Refresher.RefreshCRL via MarkRevoked).
type RevokedSerial struct {
	SerialHex string `gorm:"primaryKey"`
	RevokedAt time.Time
}

// RefreshState tracks the last successful CRL refresh, so RefreshCRL can
// rate-limit itself across process restarts as well as within one.
type RefreshState struct {
	ID          uint `gorm:"primaryKey"`
	LastRefresh time.Time
}

// Store is the gorm-backed trust database: the revocation cache plus
// refresh bookkeeping, selected by DSN scheme exactly the way the
// teacher's DatabaseConfig.getState dispatches on its Type field.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn, which must begin with "sqlite://" or
// "postgres://", and ensures the trust schema exists.
func Open(dsn string) (*Store, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Parse, imgerr.CodeInvalidParam, err, "parsing trust database DSN")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(u.Scheme) {
	case "sqlite":
		path := u.Opaque
		if path == "" {
			path = u.Path
		}
		dialector = sqlite.Open(path)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, imgerr.New(imgerr.Parse, imgerr.CodeInvalidParam, fmt.Sprintf("unsupported trust database scheme %q (must be sqlite or postgres)", u.Scheme))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "opening trust database")
	}
	if err := db.AutoMigrate(&RevokedSerial{}, &RefreshState{}); err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeInit, err, "migrating trust database schema")
	}
	return &Store{db: db}, nil
}

// IsRevoked reports whether serialHex (the certificate's serial number,
// hex-encoded) has been entered into the revocation cache.
func (s *Store) IsRevoked(serialHex string) (bool, error) {
	var count int64
	if err := s.db.Model(&RevokedSerial{}).Where("serial_hex = ?", serialHex).Count(&count).Error; err != nil {
		return false, imgerr.Wrap(imgerr.IO, imgerr.CodeRead, err, "querying revocation cache")
	}
	return count > 0, nil
}

// MarkRevoked enters serialHex into the revocation cache, idempotently.
func (s *Store) MarkRevoked(serialHex string) error {
	row := RevokedSerial{SerialHex: serialHex, RevokedAt: time.Now()}
	if err := s.db.Save(&row).Error; err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "recording revoked serial")
	}
	return nil
}

// lastRefresh returns the recorded last-refresh time, or the zero time if
// RefreshCRL has never run.
func (s *Store) lastRefresh() (time.Time, error) {
	var row RefreshState
	err := s.db.First(&row, 1).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, imgerr.Wrap(imgerr.IO, imgerr.CodeRead, err, "reading refresh state")
	}
	return row.LastRefresh, nil
}

func (s *Store) recordRefresh(at time.Time) error {
	row := RefreshState{ID: 1, LastRefresh: at}
	if err := s.db.Save(&row).Error; err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "recording refresh state")
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeInternal, err, "obtaining underlying trust database handle")
	}
	if err := sqlDB.Close(); err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "closing trust database")
	}
	return nil
}
