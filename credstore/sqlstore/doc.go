// Package sqlstore is a credstore.Store backed by gorm.
//
// Each Store owns three tables named after its table prefix
// ({prefix}_principals, {prefix}_passkeys, {prefix}_backup_codes), so one
// database can hold a user realm and an admin realm side by side. Single-use
// and monotonic updates are conditional UPDATE or DELETE statements whose
// affected row count decides the winner.
package sqlstore
