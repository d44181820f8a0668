package pager

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ───────────────────────────────────────────────────────────────────────────
// Page-level encryption (FeatureEncryption)
// ───────────────────────────────────────────────────────────────────────────
//
// Each page's body (everything after the common PageHeader) is sealed with
// ChaCha20-Poly1305 under a single database-wide key. The header itself
// (Type, Flags, ID, LSN, CRC) stays in the clear so page-type routing and
// the existing CRC check work unchanged once a page is opened. The nonce is
// derived from the page id, so a key must never be reused across two
// database files. The superblock (page 0) is never sealed, since its
// FeatureFlags field is what tells a reopen whether a key is required.

// pageEncryptor seals and opens page bodies with ChaCha20-Poly1305.
type pageEncryptor struct {
	aead cipher.AEAD
}

func newPageEncryptor(key []byte) (*pageEncryptor, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init page cipher: %w", err)
	}
	return &pageEncryptor{aead: aead}, nil
}

func (e *pageEncryptor) overhead() int { return e.aead.Overhead() }

func pageNonce(id PageID) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint32(nonce, uint32(id))
	return nonce
}

// seal encrypts buf's body into a new buffer overhead() bytes longer than
// buf; buf itself is left unchanged. buf must be a full, CRC-stamped plaintext page.
func (e *pageEncryptor) seal(id PageID, buf []byte) []byte {
	header := buf[:PageHeaderSize]
	body := buf[PageHeaderSize:]
	out := make([]byte, PageHeaderSize, PageHeaderSize+len(body)+e.overhead())
	copy(out, header)
	return e.aead.Seal(out, pageNonce(id), body, nil)
}

// open decrypts a sealed page back into a plain pageSize buffer.
func (e *pageEncryptor) open(id PageID, sealed []byte) ([]byte, error) {
	if len(sealed) < PageHeaderSize {
		return nil, fmt.Errorf("sealed page %d too short: %d bytes", id, len(sealed))
	}
	header := sealed[:PageHeaderSize]
	body := sealed[PageHeaderSize:]
	plainBody, err := e.aead.Open(nil, pageNonce(id), body, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt page %d: %w", id, err)
	}
	out := make([]byte, PageHeaderSize+len(plainBody))
	copy(out, header)
	copy(out[PageHeaderSize:], plainBody)
	return out, nil
}
