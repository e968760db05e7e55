package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/modguard/modguard/pkg/domain/moderation"
)

// Fingerprint computes a deterministic digest over the canonical form of
// a moderation request: content items in order plus threshold overrides
// with stable key ordering. Volatile fields (request IDs, timestamps)
// never participate, so two semantically identical requests always hash
// to the same value.
func Fingerprint(items []moderation.ContentItem, thresholds map[string]float64) string {
	h := sha256.New()

	for _, item := range items {
		switch item.Kind {
		case moderation.ContentKindImage:
			h.Write([]byte("image\x00"))
			h.Write(item.Image)
		default:
			h.Write([]byte("text\x00"))
			h.Write([]byte(item.Text))
		}
		h.Write([]byte{0})
	}

	keys := make([]string, 0, len(thresholds))
	for k := range thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, strconv.FormatFloat(thresholds[k], 'f', -1, 64))
	}

	return hex.EncodeToString(h.Sum(nil))
}
