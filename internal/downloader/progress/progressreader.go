package progress

import "io"

// Reader wraps an io.Reader and invokes a callback as bytes flow through,
// at most once per interval bytes plus a final call at EOF. It carries no
// locking; wrap one stream per Reader.
type Reader struct {
	r           io.Reader
	total       int64
	interval    int64
	cb          func(read, total int64)
	read        int64
	sinceReport int64
}

func NewReader(r io.Reader, total, interval int64, cb func(read, total int64)) *Reader {
	if interval <= 0 {
		interval = 1
	}

	return &Reader{r: r, total: total, interval: interval, cb: cb}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceReport += int64(n)

		if pr.cb != nil && pr.sinceReport >= pr.interval {
			pr.cb(pr.read, pr.total)
			pr.sinceReport = 0
		}
	}

	if err == io.EOF && pr.cb != nil && pr.sinceReport > 0 {
		pr.cb(pr.read, pr.total)
		pr.sinceReport = 0
	}

	return n, err
}

// BytesRead returns the cumulative count read through the wrapper.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}
