package client

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"io"
	"os"
	"time"
)

// the length of a client id (base64 encoded SHA-1 hash)
const validIDLength = 28

const randbits = 64

// generateID derives a client id from the hostname, the current time and
// random bits.
func generateID() (string, error) {
	b := new(bytes.Buffer)

	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	b.WriteString(hostname)

	binary.Write(b, binary.LittleEndian, time.Now().UnixNano())

	rb := make([]byte, randbits/8)
	if _, err := io.ReadFull(rand.Reader, rb); err != nil {
		return "", err
	}
	b.Write(rb)

	sum := sha1.Sum(b.Bytes())
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func isValidID(id string) bool {
	return len(id) == validIDLength
}
