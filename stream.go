package rekey

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/awnumar/memguard"

	"southwinds.dev/rekey/internal/crypto"
	"southwinds.dev/rekey/internal/misc"
)

// The stream adapter wraps a raw file in an optional block-cipher
// transform, presenting a plain byte stream either way. At most one
// block of plaintext is buffered at any time; streams must be closed so
// the final partial block is flushed (writer) and key copies are wiped.

// OpenReader opens path for reading through the given key. With a nil
// key bytes pass through unchanged. The returned size is the logical
// payload size of the stream.
//
// Key mismatches are detected eagerly: a wrong key, a key against a
// plaintext file, or a nil key against an encrypted file all fail with
// ErrWrongKey before a single payload byte is read.
func OpenReader(path string, suite crypto.Suite, key *KeyMaterial) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if key == nil {
		return f, info.Size(), nil
	}

	header, cipher, err := readHeader(f, path, suite, key)
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	return &blockReader{
		f:         f,
		cipher:    cipher,
		buf:       make([]byte, misc.BlockSize),
		remaining: header.PayloadLen,
	}, header.PayloadLen, nil
}

// readHeader decodes and validates the header block and builds the
// block cipher for the file. The per-file key copy is wiped before
// returning.
func readHeader(f *os.File, path string, suite crypto.Suite, key *KeyMaterial) (*crypto.Header, crypto.BlockCipher, error) {
	block := make([]byte, crypto.HeaderSize)
	if _, err := io.ReadFull(f, block); err != nil {
		// Too short to carry a header: not produced by this format.
		return nil, nil, fmt.Errorf("%w: %s is not encrypted", ErrWrongKey, path)
	}
	header, err := crypto.DecodeHeader(block)
	if err != nil {
		if err == crypto.ErrNotEncrypted {
			return nil, nil, fmt.Errorf("%w: %s is not encrypted", ErrWrongKey, path)
		}
		return nil, nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	fileKey, err := key.fileKey(header.Salt, suite.KeySize())
	if err != nil {
		return nil, nil, err
	}
	defer memguard.WipeBytes(fileKey)

	if !crypto.VerifierMatch(header.Verifier, crypto.Verifier(header.Salt, fileKey)) {
		return nil, nil, fmt.Errorf("%w: %s", ErrWrongKey, path)
	}

	cipher, err := suite.New(fileKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s cipher for %s: %w", suite.Name(), path, err)
	}
	return header, cipher, nil
}

type blockReader struct {
	f         *os.File
	cipher    crypto.BlockCipher
	buf       []byte // one decrypted block
	avail     []byte // unread window into buf
	blockNum  uint64
	remaining int64 // payload bytes not yet surfaced
}

func (r *blockReader) Read(p []byte) (int, error) {
	if len(r.avail) == 0 {
		if r.remaining <= 0 {
			return 0, io.EOF
		}
		if _, err := io.ReadFull(r.f, r.buf); err != nil {
			return 0, fmt.Errorf("failed to read encrypted block %d: %w", r.blockNum, err)
		}
		r.cipher.DecryptBlock(r.buf, r.buf, r.blockNum)
		r.blockNum++
		n := int64(len(r.buf))
		if n > r.remaining {
			n = r.remaining // drop final-block padding
		}
		r.avail = r.buf[:n]
		r.remaining -= n
	}
	n := copy(p, r.avail)
	r.avail = r.avail[n:]
	return n, nil
}

func (r *blockReader) Close() error {
	memguard.WipeBytes(r.buf)
	return r.f.Close()
}

// OpenWriter opens path for writing through the given key, truncating
// any existing content. With a nil key bytes pass through unchanged.
// Close flushes the zero-padded final block and back-patches the
// payload length into the header.
func OpenWriter(path string, suite crypto.Suite, key *KeyMaterial) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, misc.FilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	if key == nil {
		return f, nil
	}

	header, err := crypto.NewHeader()
	if err != nil {
		f.Close()
		return nil, err
	}

	fileKey, err := key.fileKey(header.Salt, suite.KeySize())
	if err != nil {
		f.Close()
		return nil, err
	}
	defer memguard.WipeBytes(fileKey)

	header.Verifier = crypto.Verifier(header.Salt, fileKey)

	cipher, err := suite.New(fileKey)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create %s cipher for %s: %w", suite.Name(), path, err)
	}

	if _, err = f.Write(header.Encode()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header of %s: %w", path, err)
	}

	return &blockWriter{
		f:      f,
		cipher: cipher,
		buf:    make([]byte, misc.BlockSize),
		out:    make([]byte, misc.BlockSize),
	}, nil
}

type blockWriter struct {
	f        *os.File
	cipher   crypto.BlockCipher
	buf      []byte // one plaintext block being filled
	out      []byte // scratch ciphertext block
	n        int    // bytes buffered in buf
	blockNum uint64
	written  int64 // total payload bytes accepted
	closed   bool
}

func (w *blockWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed stream")
	}
	total := 0
	for len(p) > 0 {
		n := copy(w.buf[w.n:], p)
		w.n += n
		w.written += int64(n)
		p = p[n:]
		total += n
		if w.n == len(w.buf) {
			if err := w.flushBlock(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (w *blockWriter) flushBlock() error {
	w.cipher.EncryptBlock(w.out, w.buf, w.blockNum)
	if _, err := w.f.Write(w.out); err != nil {
		return fmt.Errorf("failed to write encrypted block %d: %w", w.blockNum, err)
	}
	w.blockNum++
	w.n = 0
	return nil
}

func (w *blockWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer func() {
		memguard.WipeBytes(w.buf)
		memguard.WipeBytes(w.out)
	}()

	if w.n > 0 {
		// Zero-pad the final partial block; the header's payload length
		// tells readers where the real data ends.
		for i := w.n; i < len(w.buf); i++ {
			w.buf[i] = 0
		}
		w.n = len(w.buf)
		if err := w.flushBlock(); err != nil {
			w.f.Close()
			return err
		}
	}

	lenField := make([]byte, 8)
	binary.BigEndian.PutUint64(lenField, uint64(w.written))
	if _, err := w.f.WriteAt(lenField, crypto.PayloadLenOffset()); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to finalize header: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to sync: %w", err)
	}
	return w.f.Close()
}

// VerifyKey asserts that key is structurally valid for the file at path
// by checking the storage format's validation marker, without reading
// any payload. A nil key is valid only for a plaintext file.
func VerifyKey(path string, suite crypto.Suite, key *KeyMaterial) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if key == nil {
		leading := make([]byte, 8)
		n, _ := io.ReadFull(f, leading)
		if crypto.IsEncrypted(leading[:n]) {
			return fmt.Errorf("%w: %s is encrypted, decryption passphrase required", ErrWrongKey, path)
		}
		return nil
	}

	_, _, err = readHeader(f, path, suite, key)
	return err
}
