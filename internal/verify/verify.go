package verify

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// ErrInvalidStream reports a structurally broken compressed artifact. It is a
// distinct outcome from a hash mismatch: corruption always forces a
// redownload, while a mismatch means the bytes were well formed but wrong.
var ErrInvalidStream = errors.New("verify: invalid compressed stream")

// Phase identifies which part of a verification pass an observer callback
// refers to.
type Phase int

const (
	PhaseDecompress Phase = iota
	PhaseHash
)

// Observer receives monotonically increasing progress fractions in [0,1] per
// phase. It is a reporting side channel only.
type Observer func(phase Phase, fraction float64)

const readChunk = 64 * 1024

// FileHash streams the gzip-compressed file at path through an incremental
// SHA-1 of its decompressed payload. The decompressed content is never held in
// memory. decompressedSize is the expected payload length and is only used to
// scale hashing progress; pass 0 when unknown.
func FileHash(path string, decompressedSize int64, obs Observer) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for verification: %w", err)
	}
	defer f.Close()

	var compressedSize int64
	if fi, err := f.Stat(); err == nil {
		compressedSize = fi.Size()
	}

	cr := &countingReader{r: f}

	gz, err := gzip.NewReader(cr)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidStream, err)
	}
	defer gz.Close()

	hash := sha1.New()
	buf := make([]byte, readChunk)

	var hashed int64

	for {
		n, err := gz.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
			hashed += int64(n)

			if obs != nil {
				obs(PhaseDecompress, fraction(cr.n, compressedSize))
				obs(PhaseHash, fraction(hashed, decompressedSize))
			}
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidStream, err)
		}
	}

	if obs != nil {
		obs(PhaseDecompress, 1)
		obs(PhaseHash, 1)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 0
	}

	if done >= total {
		return 1
	}

	return float64(done) / float64(total)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	return n, err
}
