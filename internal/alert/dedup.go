package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// dedupHash identifies a notification for suppression: same container, same
// event kind, same action or reason, within the same minute bucket.
func dedupHash(containerID, kind, actionOrReason string, ts time.Time) string {
	bucket := ts.Unix() / 60
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", containerID, kind, actionOrReason, bucket)))
	return hex.EncodeToString(h[:])
}
