// Package signing implements the v2 whole-package signature scheme: a
// signing block inserted between the last entry and the central directory,
// covering chunked digests of the entire archive.
package signing

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
)

const (
	// signatureSchemeV2ID is the ID-value pair key of the v2 signature.
	signatureSchemeV2ID = 0x7109871a
	// rsaPKCS1V15SHA256 is the only signature algorithm this signer emits.
	rsaPKCS1V15SHA256 = 0x0103
	// chunkSize is the digest granularity over the archive sections.
	chunkSize = 1 << 20

	eocdSignature  = 0x06054b50
	minEOCDLen     = 22
	blockMagic     = "APK Sig Block 42"
	blockMagicLen  = 16
	blockFooterLen = 8 + blockMagicLen
)

// LoadCertAndKey parses a PEM bundle holding one certificate and its RSA
// private key, in either order.
func LoadCertAndKey(pemBytes []byte) (*rsa.PrivateKey, *x509.Certificate, error) {
	var cert *x509.Certificate
	var key *rsa.PrivateKey
	for {
		var block *pem.Block
		block, pemBytes = pem.Decode(pemBytes)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			parsed, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("could not parse certificate: %w", err)
			}
			cert = parsed
		case "RSA PRIVATE KEY":
			parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("could not parse RSA private key: %w", err)
			}
			key = parsed
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("could not parse private key: %w", err)
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, fmt.Errorf("private key is not RSA")
			}
			key = rsaKey
		}
	}
	if cert == nil || key == nil {
		return nil, nil, fmt.Errorf("PEM bundle missing certificate or private key")
	}
	return key, cert, nil
}

// SignV2 inserts a v2 signing block into an unsigned archive and returns the
// signed bytes. The input must not already contain a signing block.
func SignV2(apkBytes []byte, cert *x509.Certificate, key *rsa.PrivateKey) ([]byte, error) {
	eocdPos, cdOffset, cdSize, err := findEOCD(apkBytes)
	if err != nil {
		return nil, err
	}
	if cdOffset+cdSize != eocdPos {
		return nil, fmt.Errorf("%w: central directory does not abut end-of-directory record", mbferror.ErrMalformedContainer)
	}

	contents := apkBytes[:cdOffset]
	cd := apkBytes[cdOffset:eocdPos]
	eocd := apkBytes[eocdPos:]

	// At signing time the unmodified EOCD already points at where the
	// signing block will start, which is exactly what the digest covers.
	topDigest := digestSections(contents, cd, eocd)

	signedData := buildSignedData(topDigest, cert)
	hashed := sha256.Sum256(signedData)
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("could not sign: %w", err)
	}
	pubKey, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("could not marshal public key: %w", err)
	}

	signer := buildSigner(signedData, signature, pubKey)
	block := buildSigningBlock(signer)

	patchedEOCD := make([]byte, len(eocd))
	copy(patchedEOCD, eocd)
	binary.LittleEndian.PutUint32(patchedEOCD[16:], uint32(cdOffset+len(block)))

	out := make([]byte, 0, len(apkBytes)+len(block))
	out = append(out, contents...)
	out = append(out, block...)
	out = append(out, cd...)
	out = append(out, patchedEOCD...)
	return out, nil
}

// digestSections computes the chunked top-level digest over the three
// archive sections.
func digestSections(sections ...[]byte) []byte {
	var chunkDigests [][]byte
	for _, section := range sections {
		// An empty section contributes no chunks at all.
		for start := 0; start < len(section); start += chunkSize {
			end := start + chunkSize
			if end > len(section) {
				end = len(section)
			}
			chunk := section[start:end]
			h := sha256.New()
			var prefix [5]byte
			prefix[0] = 0xa5
			binary.LittleEndian.PutUint32(prefix[1:], uint32(len(chunk)))
			h.Write(prefix[:])
			h.Write(chunk)
			chunkDigests = append(chunkDigests, h.Sum(nil))
		}
	}

	top := sha256.New()
	var prefix [5]byte
	prefix[0] = 0x5a
	binary.LittleEndian.PutUint32(prefix[1:], uint32(len(chunkDigests)))
	top.Write(prefix[:])
	for _, d := range chunkDigests {
		top.Write(d)
	}
	return top.Sum(nil)
}

func buildSignedData(topDigest []byte, cert *x509.Certificate) []byte {
	var digests bytes.Buffer
	writeLenPrefixed(&digests, func(b *bytes.Buffer) {
		writeU32(b, rsaPKCS1V15SHA256)
		writeU32(b, uint32(len(topDigest)))
		b.Write(topDigest)
	})

	var certs bytes.Buffer
	writeLenPrefixed(&certs, func(b *bytes.Buffer) {
		b.Write(cert.Raw)
	})

	var out bytes.Buffer
	writeU32(&out, uint32(digests.Len()))
	out.Write(digests.Bytes())
	writeU32(&out, uint32(certs.Len()))
	out.Write(certs.Bytes())
	writeU32(&out, 0) // additional attributes
	return out.Bytes()
}

func buildSigner(signedData, signature, pubKey []byte) []byte {
	var signatures bytes.Buffer
	writeLenPrefixed(&signatures, func(b *bytes.Buffer) {
		writeU32(b, rsaPKCS1V15SHA256)
		writeU32(b, uint32(len(signature)))
		b.Write(signature)
	})

	var signer bytes.Buffer
	writeU32(&signer, uint32(len(signedData)))
	signer.Write(signedData)
	writeU32(&signer, uint32(signatures.Len()))
	signer.Write(signatures.Bytes())
	writeU32(&signer, uint32(len(pubKey)))
	signer.Write(pubKey)

	// Signers sequence with a single length-prefixed signer.
	var signers bytes.Buffer
	writeLenPrefixed(&signers, func(b *bytes.Buffer) {
		b.Write(signer.Bytes())
	})
	return signers.Bytes()
}

func buildSigningBlock(v2Value []byte) []byte {
	pairLen := uint64(4 + len(v2Value))
	blockLen := uint64(8) + pairLen + blockFooterLen

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, blockLen)
	_ = binary.Write(&out, binary.LittleEndian, pairLen)
	writeU32(&out, signatureSchemeV2ID)
	out.Write(v2Value)
	_ = binary.Write(&out, binary.LittleEndian, blockLen)
	out.WriteString(blockMagic)
	return out.Bytes()
}

// findEOCD locates the end-of-central-directory record and returns its
// offset plus the central directory offset and size it declares.
func findEOCD(data []byte) (eocdPos, cdOffset, cdSize int, err error) {
	if len(data) < minEOCDLen {
		return 0, 0, 0, fmt.Errorf("%w: too short for an archive", mbferror.ErrMalformedContainer)
	}
	// Scan backwards over a possible trailing comment.
	for pos := len(data) - minEOCDLen; pos >= 0; pos-- {
		if binary.LittleEndian.Uint32(data[pos:]) != eocdSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(data[pos+20:]))
		if pos+minEOCDLen+commentLen != len(data) {
			continue
		}
		cdSize = int(binary.LittleEndian.Uint32(data[pos+12:]))
		cdOffset = int(binary.LittleEndian.Uint32(data[pos+16:]))
		if cdOffset+cdSize > pos {
			return 0, 0, 0, fmt.Errorf("%w: central directory out of bounds", mbferror.ErrMalformedContainer)
		}
		return pos, cdOffset, cdSize, nil
	}
	return 0, 0, 0, fmt.Errorf("%w: no end-of-directory record", mbferror.ErrMalformedContainer)
}

func writeU32(b *bytes.Buffer, v uint32) {
	_ = binary.Write(b, binary.LittleEndian, v)
}

// writeLenPrefixed appends one uint32-length-prefixed element built by fill.
func writeLenPrefixed(b *bytes.Buffer, fill func(*bytes.Buffer)) {
	var inner bytes.Buffer
	fill(&inner)
	writeU32(b, uint32(inner.Len()))
	b.Write(inner.Bytes())
}
