package schedule

import (
	"crypto/md5"
	"encoding/hex"
)

// canonicalLayout is the wall-clock form used when hashing candidates.
// Changing it changes every identifier and breaks deduplication against
// events that already exist.
const canonicalLayout = "2006-01-02 15:04:05"

// Identify returns the deduplication identifier for a candidate: the hex MD5
// of "<label>-<start>-<end>". The digest is a dedup key only and is not
// meant to be security sensitive.
func Identify(c ShiftCandidate) string {
	key := c.label + "-" + c.start.Format(canonicalLayout) + "-" + c.end.Format(canonicalLayout)
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
