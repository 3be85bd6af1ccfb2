package transfer

// Item is one download descriptor produced by the manifest provider.
//
// Dest is content-addressed (<remotePath>/<contentHash>), so two items with
// the same hash intentionally collide on the same cache entry. Hash uniquely
// determines valid content: it is the SHA-1 of the artifact's decompressed
// payload.
type Item struct {
	URL            string
	Dest           string
	Hash           string
	Size           int64
	CompressedSize int64
}
