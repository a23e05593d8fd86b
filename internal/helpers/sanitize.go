package helpers

// SafeIDPrefix shortens ids and digests for table output.
func SafeIDPrefix(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
