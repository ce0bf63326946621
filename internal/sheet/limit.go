package sheet

import "io"

// limitReader fails with ErrFileTooLarge once more than max bytes have
// been read, so oversized uploads stop early instead of being buffered.
type limitReader struct {
	r    io.Reader
	max  int64
	read int64
	over bool
}

func newLimitReader(r io.Reader, max int64) *limitReader {
	return &limitReader{r: r, max: max}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.over {
		return 0, ErrFileTooLarge
	}
	// Allow one byte past the limit so an exact-size file is accepted
	// and a larger one is detected.
	if rem := l.max + 1 - l.read; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.max {
		l.over = true
		return n, ErrFileTooLarge
	}
	return n, err
}

func (l *limitReader) exceeded() bool { return l.over }
