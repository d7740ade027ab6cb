package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"hash"
	"sync"
)

const (
	// RFC6455: The value of this header field MUST be a nonce consisting of a
	// randomly selected 16-byte value that has been base64-encoded (see
	// Section 4 of [RFC4648]).  The nonce MUST be selected randomly for each
	// connection.
	nonceKeySize = 16
	nonceSize    = 24 // base64.StdEncoding.EncodedLen(nonceKeySize)

	// RFC6455: The value of this header field is constructed by concatenating
	// /key/, defined above in step 4 in Section 4.2.2, with the string
	// "258EAFA5- E914-47DA-95CA-C5AB0DC85B11", taking the SHA-1 hash of this
	// concatenated value to obtain a 20-byte value and base64- encoding (see
	// Section 4 of [RFC4648]) this 20-byte hash.
	acceptSize = 28 // base64.StdEncoding.EncodedLen(sha1.Size)
)

// WebSocketMagic is the GUID appended to the client key before hashing.
const WebSocketMagic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var sha1Pool sync.Pool

func acquireSha1() hash.Hash {
	if h := sha1Pool.Get(); h != nil {
		return h.(hash.Hash)
	}
	return sha1.New()
}

func releaseSha1(h hash.Hash) {
	h.Reset()
	sha1Pool.Put(h)
}

// AcceptKey returns the Sec-WebSocket-Accept value for the given
// Sec-WebSocket-Key value: base64(sha1(key + WebSocketMagic)).
func AcceptKey(key string) string {
	var dst [acceptSize]byte
	putAccept(dst[:], key)
	return string(dst[:])
}

// CheckAccept reports whether accept is a valid answer on the given key.
func CheckAccept(accept, key string) bool {
	if len(accept) != acceptSize {
		return false
	}
	return AcceptKey(key) == accept
}

// putAccept generates accept bytes and puts them into p.
// Given buffer should be exactly acceptSize bytes. If not putAccept will panic.
func putAccept(p []byte, key string) {
	if len(p) != acceptSize {
		panic("accept buffer is invalid")
	}

	sha := acquireSha1()
	defer releaseSha1(sha)

	var sb [sha1.Size]byte

	sha.Write([]byte(key))
	sha.Write([]byte(WebSocketMagic))

	base64.StdEncoding.Encode(p, sha.Sum(sb[:0]))
}

// validNonce reports whether the key looks like a base64 encoded 16 byte nonce.
func validNonce(key string) bool {
	if len(key) != nonceSize {
		return false
	}
	var dst [nonceKeySize + 2]byte
	n, err := base64.StdEncoding.Decode(dst[:], []byte(key))
	return err == nil && n == nonceKeySize
}
