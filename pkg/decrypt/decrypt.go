// Package decrypt implements random-access reading of an AES-256-CBC,
// PKCS#7-padded, IV-prepended encrypted resource (spec §4.7): seeking to
// an arbitrary plaintext offset touches only the ciphertext blocks that
// offset actually needs, rather than decrypting the stream from the
// start.
package decrypt

import (
	"io"

	lcpcrypto "github.com/readium/lcp-client-go/pkg/crypto"
	"github.com/readium/lcp-client-go/pkg/metrics"
	"github.com/readium/lcp-client-go/pkg/status"
)

// blockSize is the CBC block size this stream decrypts, B in spec §4.7.
const blockSize = 16

// Source is the underlying encrypted byte stream: the IV occupies its
// first block, the ciphertext (with PKCS#7 padding on its final
// plaintext block) follows.
type Source interface {
	io.ReaderAt
	// Size returns the total ciphertext size, including the IV block.
	Size() (int64, error)
}

// Stream is a read/seek adapter exposing the plaintext of an encrypted
// Source without ever materializing the whole decrypted resource in
// memory.
type Stream struct {
	src Source
	key []byte

	pos int64 // current logical (plaintext) read position

	size         int64 // memoized plaintext size, -1 until computed
	paddingLen   int   // memoized padding length of the final block
	lastBlockIdx int64 // ciphertext block index (1-based) of the last block
}

// New wraps src for random-access decryption with key.
func New(src Source, key []byte) *Stream {
	return &Stream{src: src, key: key, size: -1}
}

// Size returns the plaintext size: ciphertext_size − IV_size −
// padding_size, computing the padding length on first call by decrypting
// the stream's final block (spec §4.7 "padding size is determined on
// first size() call").
func (s *Stream) Size() (int64, error) {
	if s.size >= 0 {
		return s.size, nil
	}

	cipherSize, err := s.src.Size()
	if err != nil {
		return 0, status.Wrap(status.DecryptShortRead, "read source size", err)
	}
	if cipherSize < 2*blockSize || cipherSize%blockSize != 0 {
		return 0, status.New(status.DecryptPaddingInvalid, "ciphertext size is not a whole number of blocks past the IV")
	}

	lastBlockIdx := cipherSize/blockSize - 1
	prevBlock, lastBlock, err := s.readBlockPair(lastBlockIdx)
	if err != nil {
		return 0, err
	}
	plain, err := lcpcrypto.DecryptCBCBlock(s.key, prevBlock, lastBlock)
	if err != nil {
		return 0, status.Wrap(status.DecryptPaddingInvalid, "decrypt final block", err)
	}
	unpadded, err := lcpcrypto.UnpadPKCS7(plain, blockSize)
	if err != nil {
		return 0, status.Wrap(status.DecryptPaddingInvalid, "strip padding", err)
	}

	s.paddingLen = len(plain) - len(unpadded)
	s.lastBlockIdx = lastBlockIdx
	s.size = cipherSize - blockSize - int64(s.paddingLen)
	return s.size, nil
}

// readBlockPair reads ciphertext block k and its preceding block (the
// block at index k-1, or the IV when k == 1).
func (s *Stream) readBlockPair(k int64) (prev, cur []byte, err error) {
	raw := make([]byte, 2*blockSize)
	n, err := s.src.ReadAt(raw, (k-1)*blockSize)
	if err != nil && !(err == io.EOF && n == len(raw)) {
		return nil, nil, status.Wrap(status.DecryptShortRead, "read block pair", err)
	}
	if n != len(raw) {
		return nil, nil, status.New(status.DecryptShortRead, "short read from underlying source")
	}
	return raw[:blockSize], raw[blockSize:], nil
}

// Seek repositions the logical read cursor. Only io.SeekStart,
// io.SeekCurrent and io.SeekEnd are supported.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	size, err := s.Size()
	if err != nil {
		return 0, err
	}

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = size + offset
	default:
		return 0, status.New(status.ContextInvalid, "invalid whence")
	}

	if newPos < 0 || newPos > size {
		return 0, status.New(status.DecryptOutOfRange, "seek position out of range")
	}
	s.pos = newPos
	return s.pos, nil
}

// Read decrypts plaintext bytes starting at the current logical position
// into p, advancing the position by the number of bytes written (spec
// §4.7's random-access algorithm).
func (s *Stream) Read(p []byte) (int, error) {
	size, err := s.Size()
	if err != nil {
		return 0, err
	}
	if s.pos >= size {
		return 0, io.EOF
	}

	n := int64(len(p))
	if s.pos+n > size {
		n = size - s.pos
	}

	plain, err := s.decryptRange(s.pos, n)
	if err != nil {
		return 0, err
	}
	copy(p, plain)
	s.pos += int64(len(plain))
	metrics.DecryptBytesTotal.Add(float64(len(plain)))
	return len(plain), nil
}

// decryptRange returns n plaintext bytes starting at logical offset p,
// following the block-aligned algorithm of spec §4.7: pull the
// containing ciphertext blocks plus the one preceding block needed as
// chained IV, decrypt block-by-block, then trim to the requested range.
func (s *Stream) decryptRange(p, n int64) ([]byte, error) {
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	if p < 0 || p > size {
		return nil, status.New(status.DecryptOutOfRange, "range start out of bounds")
	}
	if p+n > size {
		n = size - p
	}
	if n == 0 {
		return nil, nil
	}

	kLo := p/blockSize + 1
	kHi := (p+n-1)/blockSize + 1

	// Ciphertext blocks [kLo-1 .. kHi] inclusive: kHi-kLo+2 blocks,
	// starting at byte offset (kLo-1)*B.
	blockCount := kHi - kLo + 2
	startOffset := (kLo - 1) * blockSize

	raw := make([]byte, blockCount*blockSize)
	read, err := s.src.ReadAt(raw, startOffset)
	if err != nil && !(err == io.EOF && int64(read) == int64(len(raw))) {
		return nil, status.Wrap(status.DecryptShortRead, "read ciphertext range", err)
	}
	if int64(read) != int64(len(raw)) {
		return nil, status.New(status.DecryptShortRead, "short read from underlying source")
	}

	plain := make([]byte, 0, (blockCount-1)*blockSize)
	for i := int64(0); i < blockCount-1; i++ {
		prev := raw[i*blockSize : (i+1)*blockSize]
		cur := raw[(i+1)*blockSize : (i+2)*blockSize]
		block, err := lcpcrypto.DecryptCBCBlock(s.key, prev, cur)
		if err != nil {
			return nil, status.Wrap(status.DecryptPaddingInvalid, "decrypt block", err)
		}

		// The ciphertext block at absolute index kLo+i carries PKCS#7
		// padding only when it is the final block of the whole stream.
		absoluteBlockIdx := kLo + i
		if absoluteBlockIdx == s.lastBlockIdx && s.paddingLen > 0 {
			block = block[:len(block)-s.paddingLen]
		}
		plain = append(plain, block...)
	}

	leading := p % blockSize
	if leading > int64(len(plain)) {
		leading = int64(len(plain))
	}
	end := leading + n
	if end > int64(len(plain)) {
		end = int64(len(plain))
	}
	return plain[leading:end], nil
}
