// Package redisstore is a credstore.Store backed by Redis.
//
// Principals are JSON documents indexed by email and WebAuthn user handle.
// Every counter the engine relies on for replay protection lives in its
// own key so it can be compared and advanced atomically:
//
//	{prefix}:p:{id}           principal document
//	{prefix}:email:{email}    id
//	{prefix}:handle:{handle}  id (base64url handle)
//	{prefix}:step:{id}        last accepted TOTP step
//	{prefix}:backup:{id}      set of hex backup code hashes
//	{prefix}:pks:{id}         set of owned credential ids (base64url)
//	{prefix}:pk:{credential}  hash: owner, data, sign_count, backed_up, last_used
//
// Use one Store (one prefix) per principal kind.
package redisstore
