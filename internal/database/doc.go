// Package database opens the SQLite store shared by the sync engine.
//
// Each concern keeps its own repository in a sub-package that takes *gorm.DB:
//
//	sites/        remote peer registry
//	queue/        outbound work queue
//	mappings/     local <-> remote identity mapping
//	conflicts/    detected conflicts awaiting resolution
//	transportlog/ request/response audit trail
//	bookings/     local booking, customer and availability records
//	sync/         progress of periodic jobs
//
// # Usage
//
//	db, err := database.NewDatabase("./sitesync.db")
//	sites := sites.NewRepository(db.DB, encryptor)
package database
