// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest of a rule file.
type Digest [32]byte

// ruleDomainKey separates rule digests from any other BLAKE3 use. The
// bytes are the ASCII domain name, zero-padded to 32 bytes.
var ruleDomainKey = [32]byte{
	't', 'a', 'g', 'b', 'u', 's', '.', 'r', 'u', 'l', 'e', '.',
	'b', 'i', 'n', 'a', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashFile streams the file at path through keyed BLAKE3.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()
	return HashReader(file)
}

// HashReader hashes everything r yields.
func HashReader(r io.Reader) (Digest, error) {
	hasher, err := blake3.NewKeyed(ruleDomainKey[:])
	if err != nil {
		return Digest{}, fmt.Errorf("creating rule hasher: %w", err)
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return Digest{}, fmt.Errorf("hashing: %w", err)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// String returns the hex encoding, the form used in logs.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters.
func (d Digest) Short() string {
	return d.String()[:12]
}

// ParseDigest parses a 64-character hex digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
