// Package id generates identifiers and secret tokens.
//
// Entity identifiers are UUIDv7 strings (time ordered, index friendly).
// Request identifiers are ULIDs. Share tokens are base64url encoded random
// bytes with at least 128 bits of entropy.
//
//	fileID := id.New()
//	reqID := id.NewULID()
//	token, err := id.NewToken(id.TokenBytes)
package id
