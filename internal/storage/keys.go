package storage

const (
	slidingPrefix     = "rl:sw:"
	bucketPrefix      = "rl:tb:"
	distributedPrefix = "rl:dist:"
)

// SlidingKey is the window record of identifier.
func SlidingKey(identifier string) string {
	return slidingPrefix + identifier
}

// BucketKey is the token bucket of identifier.
func BucketKey(identifier string) string {
	return bucketPrefix + identifier
}

// GlobalKey is the record every node gates on for identifier. The braces are
// a Redis Cluster hash tag: GlobalKey and LocalKey always share a slot, so a
// single script may touch both.
func GlobalKey(identifier string) string {
	return distributedPrefix + "{" + identifier + "}"
}

// LocalKey is the per-node bookkeeping record for identifier.
func LocalKey(identifier, serverID string) string {
	return GlobalKey(identifier) + ":" + serverID
}

// clearPatterns expands an identifier glob into the key globs of every record
// kind.
func clearPatterns(pattern string) []string {
	return []string{
		slidingPrefix + pattern,
		bucketPrefix + pattern,
		distributedPrefix + "{" + pattern + "}",
		distributedPrefix + "{" + pattern + "}:*",
	}
}
