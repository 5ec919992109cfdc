// Package blob stores uploaded document bytes. Bronze reads documents back
// through the same Store using the document's storage key.
package blob
