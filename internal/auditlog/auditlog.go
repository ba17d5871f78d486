// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package auditlog is a gorm-backed ledger of genprotimg build attempts,
// recording each build's inputs and outcome for later audit.
package auditlog

import (
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ibm-s390-linux/genprotimg/internal/imgerr"
)

// BuildRecord is one completed (successful or failed) build attempt.
type BuildRecord struct {
	ID            uint `gorm:"primaryKey"`
	StartedAt     time.Time
	FinishedAt    time.Time
	OutputPath    string
	NumHosts      int
	NumComponents int
	NumEncrypted  uint64 `gorm:"column:num_encrypted_pages"`
	OutputSHA256  string
	Succeeded     bool
	ErrorMsg      string
}

// Ledger wraps the build-history database.
type Ledger struct {
	db *gorm.DB
}

// Open connects to dsn ("sqlite://path" or "postgres://...", exactly as
// internal/trust.Open dispatches) and ensures the builds table exists.
func Open(dsn string) (*Ledger, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.Parse, imgerr.CodeInvalidParam, err, "parsing audit log DSN")
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
		return nil, imgerr.New(imgerr.Parse, imgerr.CodeInvalidParam, "unsupported audit log DSN scheme: "+u.Scheme)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeOpen, err, "opening audit log database")
	}
	if err := db.AutoMigrate(&BuildRecord{}); err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeInit, err, "migrating audit log schema")
	}
	return &Ledger{db: db}, nil
}

// RecordSuccess appends a successful build entry.
func (l *Ledger) RecordSuccess(started time.Time, outputPath string, numHosts, numComponents int, numEncryptedPages uint64, outputSHA256 string) error {
	rec := BuildRecord{
		StartedAt:     started,
		FinishedAt:    time.Now(),
		OutputPath:    outputPath,
		NumHosts:      numHosts,
		NumComponents: numComponents,
		NumEncrypted:  numEncryptedPages,
		OutputSHA256:  outputSHA256,
		Succeeded:     true,
	}
	if err := l.db.Create(&rec).Error; err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "recording successful build")
	}
	return nil
}

// RecordFailure appends a failed build entry, capturing buildErr's message.
func (l *Ledger) RecordFailure(started time.Time, outputPath string, buildErr error) error {
	rec := BuildRecord{
		StartedAt:  started,
		FinishedAt: time.Now(),
		OutputPath: outputPath,
		Succeeded:  false,
		ErrorMsg:   buildErr.Error(),
	}
	if err := l.db.Create(&rec).Error; err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "recording failed build")
	}
	return nil
}

// Recent returns the n most recent build records, newest first.
func (l *Ledger) Recent(n int) ([]BuildRecord, error) {
	var recs []BuildRecord
	if err := l.db.Order("id desc").Limit(n).Find(&recs).Error; err != nil {
		return nil, imgerr.Wrap(imgerr.IO, imgerr.CodeRead, err, "querying recent builds")
	}
	return recs, nil
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeInternal, err, "obtaining underlying audit log database handle")
	}
	if err := sqlDB.Close(); err != nil {
		return imgerr.Wrap(imgerr.IO, imgerr.CodeWrite, err, "closing audit log database")
	}
	return nil
}
