package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
)

func TestKeys_ParseAndAddress(t *testing.T) {
	pk := PrivateKeyFromSeed([]byte("alice"))
	parsed, err := ParsePrivateKey(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk, parsed)

	vk := pk.ViewKey()
	vk2, err := ParseViewKey(vk.String())
	require.NoError(t, err)
	assert.Equal(t, vk, vk2)

	addr := pk.Address()
	assert.True(t, strings.HasPrefix(addr.String(), AddressHRP+"1"))
	_, err = ParseAddress(addr.String())
	assert.NoError(t, err)

	_, err = ParseAddress("aleo1notanaddress")
	assert.Error(t, err)
	_, err = ParsePrivateKey("APrivateKey1zz")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptDecrypt_RoundTrip_AndErrors(t *testing.T) {
	key := LocalKey(PrivateKeyFromSeed([]byte("alice")).ViewKey())

	cipher, nonce, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	plain, err := Decrypt(cipher, nonce, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	// неправильный ключ
	other := LocalKey(PrivateKeyFromSeed([]byte("bob")).ViewKey())
	_, err = Decrypt(cipher, nonce, other)
	assert.Error(t, err)
	// неверный размер nonce
	_, err = Decrypt(cipher, []byte{1, 2, 3}, key)
	assert.Error(t, err)
	// ключ неправильной длины
	_, _, err = Encrypt([]byte("data"), []byte("short"))
	assert.Error(t, err)
}

func TestRecord_OwnerOnlyDecrypts(t *testing.T) {
	alice := PrivateKeyFromSeed([]byte("alice"))
	bob := PrivateKeyFromSeed([]byte("bob"))

	ct, rec, err := EncryptRecord(alice.Address(), chain.CreditsRecordName, []chain.Entry{
		{Name: "microcredits", Value: chain.U64(1_000_000)},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "record1"))

	assert.True(t, IsRecordOwner(ct, alice.ViewKey()))
	assert.False(t, IsRecordOwner(ct, bob.ViewKey()))

	got, err := DecryptRecord(ct, alice.ViewKey())
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	amount, ok := got.Amount()
	assert.True(t, ok)
	assert.Equal(t, uint64(1_000_000), amount)

	_, err = DecryptRecord(ct, bob.ViewKey())
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = Edwards{}.DecryptRecordCiphertext(ct, bob.ViewKey())
	assert.True(t, apperr.IsKind(err, apperr.SnarkVm))
}

func TestCommitmentAndTag_Deterministic(t *testing.T) {
	vk := PrivateKeyFromSeed([]byte("alice")).ViewKey()
	_, rec, err := EncryptRecord(vk.Address(), "credits", []chain.Entry{{Name: "microcredits", Value: "5u64.private"}})
	require.NoError(t, err)

	cm := Commitment(chain.CreditsProgram, rec)
	assert.Equal(t, cm, Commitment(chain.CreditsProgram, rec))
	assert.NotEqual(t, cm, Commitment("token.aleo", rec))

	assert.Equal(t, Tag(vk, cm), Tag(vk, cm))
	other := PrivateKeyFromSeed([]byte("bob")).ViewKey()
	assert.NotEqual(t, Tag(vk, cm), Tag(other, cm))
}

func TestTransition_OwnershipAndOutputs(t *testing.T) {
	alice := PrivateKeyFromSeed([]byte("alice"))
	bob := PrivateKeyFromSeed([]byte("bob"))

	keys, err := NewTransitionKeys(alice.Address())
	require.NoError(t, err)
	assert.True(t, OwnsTransition(keys.TPK, keys.TCM, alice.ViewKey()))
	assert.False(t, OwnsTransition(keys.TPK, keys.TCM, bob.ViewKey()))

	ct, err := SealOutput("42u64", keys.TVK, "token.aleo", "mint", 1)
	require.NoError(t, err)
	out, err := DecryptOutput(ct, keys.TPK, "token.aleo", "mint", 1, alice.ViewKey())
	require.NoError(t, err)
	assert.Equal(t, "42u64", out)

	_, err = DecryptOutput(ct, keys.TPK, "token.aleo", "mint", 2, alice.ViewKey())
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	alice := PrivateKeyFromSeed([]byte("alice"))
	bob := PrivateKeyFromSeed([]byte("bob"))
	msg := []byte("challenge-hash")

	sig, err := Sign(alice, msg)
	require.NoError(t, err)
	assert.True(t, Verify(alice.Address(), msg, sig))
	assert.False(t, Verify(bob.Address(), msg, sig))
	assert.False(t, Verify(alice.Address(), []byte("other"), sig))
	assert.False(t, Verify(alice.Address(), msg, "sign1garbage"))
}

func TestMessage_SealOpen(t *testing.T) {
	bob := PrivateKeyFromSeed([]byte("bob"))
	ct, nonce, err := SealMessage(bob.Address(), []byte(`{"tx_id":"at1"}`))
	require.NoError(t, err)

	plain, err := OpenMessage(ct, nonce, bob.ViewKey())
	require.NoError(t, err)
	assert.JSONEq(t, `{"tx_id":"at1"}`, string(plain))

	_, err = OpenMessage(ct, nonce, PrivateKeyFromSeed([]byte("eve")).ViewKey())
	assert.Error(t, err)
}
