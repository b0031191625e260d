package kvstore

// MaxKeyLength is the widest key the backing column stores, in bytes.
const MaxKeyLength = 100

// KeyValid returns true if the key fits the key column. The check is
// byte-based, so multi-byte runes count at their encoded width.
func KeyValid(key string) bool {
	return len(key) <= MaxKeyLength
}
