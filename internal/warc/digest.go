package warc

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// labeledDigest computes a labeled xxh128 digest of data, in the
// "xxh3-128:<hex>" form spec.md §4.I step 4 calls for.
func labeledDigest(data []byte) string {
	sum := xxh3.Hash128(data)
	return fmt.Sprintf("xxh3-128:%016x%016x", sum.Hi, sum.Lo)
}
