package connectors

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
)

const (
	mt5PasswordSalt = "WebAPI"
	mt5CliRandSize  = 16
)

// MT5PasswordHash computes MD5(MD5(UTF16LE(password)) || "WebAPI") in binary form.
func MT5PasswordHash(password string) ([]byte, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	utf16, err := encoder.Bytes([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("encode password as UTF-16LE: %w", err)
	}

	inner := md5.Sum(utf16)
	outer := md5.Sum(append(inner[:], mt5PasswordSalt...))
	return outer[:], nil
}

// MT5SrvRandAnswer answers the server challenge: hex(MD5(passwordHash || srv_rand bytes)).
func MT5SrvRandAnswer(passwordHash []byte, srvRandHex string) (string, error) {
	srvRand, err := hex.DecodeString(srvRandHex)
	if err != nil {
		return "", errSrvRandHex
	}
	return mt5Digest(passwordHash, srvRand), nil
}

// MT5CliRandAnswer is the answer the server must return for our nonce.
func MT5CliRandAnswer(passwordHash, cliRand []byte) string {
	return mt5Digest(passwordHash, cliRand)
}

func mt5Digest(passwordHash, rnd []byte) string {
	buf := make([]byte, 0, len(passwordHash)+len(rnd))
	buf = append(buf, passwordHash...)
	buf = append(buf, rnd...)
	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:])
}

func newMT5CliRand(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, mt5CliRandSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("generate cli_rand: %w", err)
	}
	return buf, nil
}
