// Package credstore defines the persistence contract for principals and
// their authentication factors.
//
// One [Store] instance serves one principal table (users or administrators).
// Implementations must make the mutating factor operations atomic:
// ConsumeBackupCode removes a code for exactly one caller, and
// AdvanceTOTPStep and AdvancePasskeyCounter are compare-and-set.
//
// Reference implementations live in credstore/redisstore and
// credstore/sqlstore.
package credstore
