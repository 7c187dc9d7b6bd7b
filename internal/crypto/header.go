package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"southwinds.dev/rekey/internal/misc"
)

// Encrypted file layout: one header block followed by the payload,
// encrypted block by block and zero-padded to a whole number of blocks.
//
//	[ 8] magic
//	[ 1] format version
//	[16] salt
//	[32] verifier = SHA-256(salt || fileKey)
//	[ 8] payload length, big endian
//	[..] zero padding up to BlockSize
var headerMagic = []byte{'r', 'k', 'd', 'b', 0x01, 'e', 'n', 'c'}

const (
	headerVersion = 1

	// HeaderSize is the on-disk size of the file header. It equals the
	// block size so payload block offsets stay block-aligned.
	HeaderSize = misc.BlockSize

	verifierSize = sha256.Size
)

// ErrNotEncrypted reports that a file does not carry the encrypted
// storage format header.
var ErrNotEncrypted = errors.New("file is not in the encrypted storage format")

// Header is the decoded form of an encrypted file's first block.
type Header struct {
	Salt       []byte
	Verifier   []byte
	PayloadLen int64
}

// NewHeader creates a header with a fresh random salt and a zero payload
// length. The verifier must be set before encoding.
func NewHeader() (*Header, error) {
	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return &Header{Salt: salt}, nil
}

// Encode serializes the header into one storage block.
func (h *Header) Encode() []byte {
	block := make([]byte, HeaderSize)
	n := copy(block, headerMagic)
	block[n] = headerVersion
	n++
	n += copy(block[n:], h.Salt)
	n += copy(block[n:], h.Verifier)
	binary.BigEndian.PutUint64(block[n:], uint64(h.PayloadLen))
	return block
}

// PayloadLenOffset is the byte offset of the payload length field inside
// the header block; the stream writer back-patches it on close.
func PayloadLenOffset() int64 {
	return int64(len(headerMagic) + 1 + misc.SaltSize + verifierSize)
}

// DecodeHeader parses an encrypted file's first block. A block that does
// not start with the format magic yields ErrNotEncrypted.
func DecodeHeader(block []byte) (*Header, error) {
	if len(block) < HeaderSize || !bytes.HasPrefix(block, headerMagic) {
		return nil, ErrNotEncrypted
	}
	n := len(headerMagic)
	if block[n] != headerVersion {
		return nil, fmt.Errorf("unsupported storage format version %d", block[n])
	}
	n++
	h := &Header{
		Salt:     append([]byte(nil), block[n:n+misc.SaltSize]...),
		Verifier: append([]byte(nil), block[n+misc.SaltSize:n+misc.SaltSize+verifierSize]...),
	}
	n += misc.SaltSize + verifierSize
	h.PayloadLen = int64(binary.BigEndian.Uint64(block[n:]))
	if h.PayloadLen < 0 {
		return nil, fmt.Errorf("corrupt header: negative payload length")
	}
	return h, nil
}

// IsEncrypted reports whether the given leading bytes carry the
// encrypted storage format magic.
func IsEncrypted(leading []byte) bool {
	return bytes.HasPrefix(leading, headerMagic)
}
