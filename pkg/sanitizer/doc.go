// Package sanitizer cleans user supplied names before they are persisted.
//
// Folder and file names are displayed by clients, so any markup is removed
// with a strict bluemonday policy. Text is normalized to Unicode NFC so that
// visually identical names compare equal under the folder uniqueness rule.
package sanitizer
