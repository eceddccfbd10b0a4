// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity is the durable record of users and API tokens.
//
// Users carry a bcrypt password hash, a set of role labels, and a
// grant set. Tokens belong to a user and carry their own grant set,
// an optional expiry, and a revoked flag. Everything lives in one
// SQLite database (tables users, user_roles, tokens, plus the
// migrations bookkeeping table); grant sets are stored as
// deterministic CBOR.
//
// # Bootstrap
//
// The first [Store.CreateUser] on an empty store always succeeds and
// always grants Owner, whatever roles and permissions were requested.
// The user count and the insert happen in one immediate transaction,
// so two concurrent first calls cannot both bootstrap.
//
// # Token secrets
//
// A token value has the form "pa1.<token_id>.<secret>". The store keeps
// only a BLAKE3 keyed digest of the secret, so reading the database
// does not yield usable tokens, and [Store.ListTokens] can never return
// a token value. Lookups compare digests in constant time.
//
// # Revocation
//
// [Store.RevokeUser] deletes the user and all of their tokens in one
// transaction and returns the ids of the removed tokens, so the caller
// can drop sessions derived from them. [Store.RevokeToken] only marks
// the token revoked; the record stays listable.
//
// Every read goes to the database. Nothing here caches grants, so a
// change made by [Store.GrantAccess] is visible to the next check.
package identity
