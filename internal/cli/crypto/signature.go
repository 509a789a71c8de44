package crypto

import (
	"encoding/base64"
	"strings"

	"filippo.io/edwards25519"
)

const signaturePrefix = "sign1"

// Sign — подпись Шнорра над сообщением, проверяемая по адресу подписанта.
func Sign(k PrivateKey, msg []byte) (string, error) {
	x := k.ViewKey().scalar()
	r, err := randomScalar()
	if err != nil {
		return "", err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r)
	A := new(edwards25519.Point).ScalarBaseMult(x)
	e := hashToScalar("avail/sig", R.Bytes(), A.Bytes(), msg)
	s := new(edwards25519.Scalar).MultiplyAdd(e, x, r)

	buf := append(R.Bytes(), s.Bytes()...)
	return signaturePrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Verify проверяет подпись сообщения адресом addr.
func Verify(addr Address, msg []byte, signature string) bool {
	raw, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(b) != 64 {
		return false
	}
	A, err := addr.point()
	if err != nil {
		return false
	}
	R, err := new(edwards25519.Point).SetBytes(b[:32])
	if err != nil {
		return false
	}
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(b[32:])
	if err != nil {
		return false
	}
	e := hashToScalar("avail/sig", R.Bytes(), A.Bytes(), msg)
	lhs := new(edwards25519.Point).ScalarBaseMult(s)
	rhs := new(edwards25519.Point).Add(R, new(edwards25519.Point).ScalarMult(e, A))
	return lhs.Equal(rhs) == 1
}
