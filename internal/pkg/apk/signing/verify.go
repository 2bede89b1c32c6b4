package signing

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
)

// VerifyV2 checks the archive's v2 signature: the signing block must be
// present, signed by the given certificate, and the digests must match the
// archive bytes.
func VerifyV2(apkBytes []byte, cert *x509.Certificate) error {
	eocdPos, cdOffset, cdSize, err := findEOCD(apkBytes)
	if err != nil {
		return err
	}
	if cdOffset+cdSize != eocdPos {
		return fmt.Errorf("%w: central directory does not abut end-of-directory record", mbferror.ErrMalformedContainer)
	}

	blockStart, v2Value, err := findSigningBlock(apkBytes, cdOffset)
	if err != nil {
		return err
	}

	signedData, signature, pubKeyDER, err := parseSigner(v2Value)
	if err != nil {
		return err
	}

	// The signature must verify with the key of the expected certificate.
	pubKey, err := x509.ParsePKIXPublicKey(pubKeyDER)
	if err != nil {
		return fmt.Errorf("%w: bad public key: %s", mbferror.ErrBadSignature, err)
	}
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: unsupported public key type", mbferror.ErrBadSignature)
	}
	certKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || certKey.N.Cmp(rsaKey.N) != 0 || certKey.E != rsaKey.E {
		return fmt.Errorf("%w: signer key does not match expected certificate", mbferror.ErrBadSignature)
	}
	hashed := sha256.Sum256(signedData)
	if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, hashed[:], signature); err != nil {
		return fmt.Errorf("%w: %s", mbferror.ErrBadSignature, err)
	}

	// Recompute the chunked digest with the EOCD's directory offset pointing
	// at the signing block, the way it looked when it was signed.
	expectedDigest, err := parseTopDigest(signedData)
	if err != nil {
		return err
	}
	contents := apkBytes[:blockStart]
	cd := apkBytes[cdOffset:eocdPos]
	eocd := make([]byte, len(apkBytes)-eocdPos)
	copy(eocd, apkBytes[eocdPos:])
	binary.LittleEndian.PutUint32(eocd[16:], uint32(blockStart))

	actualDigest := digestSections(contents, cd, eocd)
	if !bytes.Equal(actualDigest, expectedDigest) {
		return fmt.Errorf("%w: archive digest mismatch", mbferror.ErrBadSignature)
	}
	return nil
}

// findSigningBlock locates the signing block ending at the central
// directory and returns its start offset and the v2 ID-value payload.
func findSigningBlock(data []byte, cdStart int) (blockStart int, v2Value []byte, err error) {
	if cdStart < blockFooterLen+8 {
		return 0, nil, mbferror.ErrNoSignature
	}
	if string(data[cdStart-blockMagicLen:cdStart]) != blockMagic {
		return 0, nil, mbferror.ErrNoSignature
	}
	blockLen := binary.LittleEndian.Uint64(data[cdStart-blockFooterLen:])
	blockStart = cdStart - int(blockLen) - 8
	if blockStart < 0 || blockStart+8 > len(data) {
		return 0, nil, fmt.Errorf("%w: signing block size out of bounds", mbferror.ErrBadSignature)
	}
	if binary.LittleEndian.Uint64(data[blockStart:]) != blockLen {
		return 0, nil, fmt.Errorf("%w: signing block size fields disagree", mbferror.ErrBadSignature)
	}

	pairs := data[blockStart+8 : cdStart-blockFooterLen]
	for len(pairs) >= 12 {
		pairLen := binary.LittleEndian.Uint64(pairs)
		if pairLen < 4 || int(pairLen) > len(pairs)-8 {
			return 0, nil, fmt.Errorf("%w: malformed ID-value pair", mbferror.ErrBadSignature)
		}
		id := binary.LittleEndian.Uint32(pairs[8:])
		value := pairs[12 : 8+pairLen]
		if id == signatureSchemeV2ID {
			return blockStart, value, nil
		}
		pairs = pairs[8+pairLen:]
	}
	return 0, nil, mbferror.ErrNoSignature
}

// parseSigner extracts the first signer's signed data, RSA signature and
// public key from the v2 payload.
func parseSigner(v2Value []byte) (signedData, signature, pubKey []byte, err error) {
	signers, err := readLenPrefixed(&v2Value)
	if err != nil {
		return nil, nil, nil, err
	}
	signer, err := readLenPrefixed(&signers)
	if err != nil {
		return nil, nil, nil, err
	}

	signedData, err = readLenPrefixed(&signer)
	if err != nil {
		return nil, nil, nil, err
	}
	signatures, err := readLenPrefixed(&signer)
	if err != nil {
		return nil, nil, nil, err
	}
	sigEntry, err := readLenPrefixed(&signatures)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(sigEntry) < 8 {
		return nil, nil, nil, fmt.Errorf("%w: truncated signature entry", mbferror.ErrBadSignature)
	}
	if algID := binary.LittleEndian.Uint32(sigEntry); algID != rsaPKCS1V15SHA256 {
		return nil, nil, nil, fmt.Errorf("%w: unsupported signature algorithm 0x%04x", mbferror.ErrBadSignature, algID)
	}
	sigLen := binary.LittleEndian.Uint32(sigEntry[4:])
	if int(sigLen) > len(sigEntry)-8 {
		return nil, nil, nil, fmt.Errorf("%w: truncated signature", mbferror.ErrBadSignature)
	}
	signature = sigEntry[8 : 8+sigLen]

	pubKey, err = readLenPrefixed(&signer)
	if err != nil {
		return nil, nil, nil, err
	}
	return signedData, signature, pubKey, nil
}

// parseTopDigest extracts the SHA-256 chunked digest from signed data.
func parseTopDigest(signedData []byte) ([]byte, error) {
	digests, err := readLenPrefixed(&signedData)
	if err != nil {
		return nil, err
	}
	entry, err := readLenPrefixed(&digests)
	if err != nil {
		return nil, err
	}
	if len(entry) < 8 {
		return nil, fmt.Errorf("%w: truncated digest entry", mbferror.ErrBadSignature)
	}
	if algID := binary.LittleEndian.Uint32(entry); algID != rsaPKCS1V15SHA256 {
		return nil, fmt.Errorf("%w: unsupported digest algorithm 0x%04x", mbferror.ErrBadSignature, algID)
	}
	digestLen := binary.LittleEndian.Uint32(entry[4:])
	if int(digestLen) > len(entry)-8 {
		return nil, fmt.Errorf("%w: truncated digest", mbferror.ErrBadSignature)
	}
	return entry[8 : 8+digestLen], nil
}

// readLenPrefixed consumes one uint32-length-prefixed element from *data.
func readLenPrefixed(data *[]byte) ([]byte, error) {
	if len(*data) < 4 {
		return nil, fmt.Errorf("%w: truncated length prefix", mbferror.ErrBadSignature)
	}
	length := binary.LittleEndian.Uint32(*data)
	if int(length) > len(*data)-4 {
		return nil, fmt.Errorf("%w: length prefix out of bounds", mbferror.ErrBadSignature)
	}
	out := (*data)[4 : 4+length]
	*data = (*data)[4+length:]
	return out, nil
}
