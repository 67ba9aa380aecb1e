package player

import "strconv"

// Checksum returns a cheap structural fingerprint of records built from the
// first, middle and last IDs plus the length. Lists are only ever replaced
// wholesale, so the fingerprint changes whenever the content does.
func Checksum(records []Record) string {
	n := len(records)
	if n == 0 {
		return "empty|0"
	}
	return records[0].ID + "|" + records[n/2].ID + "|" + records[n-1].ID + "|" + strconv.Itoa(n)
}
