package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// testEpochKeys 从固定共享密钥派生测试密钥
func testEpochKeys(t *testing.T, epoch types.Epoch) (*EpochKeys, types.SessionID) {
	t.Helper()
	sid := types.NewSessionID()
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	keys, err := DeriveEpochKeys(secret, sid, epoch)
	require.NoError(t, err)
	return keys, sid
}

// TestSealOpenRoundTrip 测试 AEAD 加解密往返
func TestSealOpenRoundTrip(t *testing.T) {
	keys, _ := testEpochKeys(t, 0)
	nonce := Nonce(0, 42)
	ad := []byte("header")
	plaintext := []byte("telemetry payload")

	ct, err := Seal(keys.SendKey(true), nonce, ad, plaintext)
	require.NoError(t, err)
	require.Len(t, ct, len(plaintext)+TagSize)

	out, err := Open(keys.RecvKey(false), nonce, ad, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)

	// 用错方向的密钥解不开
	_, err = Open(keys.RecvKey(true), nonce, ad, ct)
	require.ErrorIs(t, err, types.ErrAuthenticationFailed)
}

// TestOpenRejectsTampering 测试任何位翻转都导致认证失败
func TestOpenRejectsTampering(t *testing.T) {
	keys, _ := testEpochKeys(t, 0)
	nonce := Nonce(0, 7)
	ad := []byte("header")
	ct, err := Seal(keys.InitEnc[:], nonce, ad, []byte("payload"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(ct, ad, nonce []byte) ([]byte, []byte, []byte)
	}{
		{"密文位翻转", func(ct, ad, n []byte) ([]byte, []byte, []byte) {
			ct[0] ^= 0x01
			return ct, ad, n
		}},
		{"标签位翻转", func(ct, ad, n []byte) ([]byte, []byte, []byte) {
			ct[len(ct)-1] ^= 0x80
			return ct, ad, n
		}},
		{"附加数据篡改", func(ct, ad, n []byte) ([]byte, []byte, []byte) {
			return ct, []byte("Header"), n
		}},
		{"nonce 不符", func(ct, ad, n []byte) ([]byte, []byte, []byte) {
			return ct, ad, Nonce(0, 8)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := append([]byte(nil), ct...)
			a := append([]byte(nil), ad...)
			n := append([]byte(nil), nonce...)
			c, a, n = tt.mutate(c, a, n)
			_, err := Open(keys.InitEnc[:], n, a, c)
			require.ErrorIs(t, err, types.ErrAuthenticationFailed)
		})
	}
}

// TestDeriveEpochKeysContextBinding 测试派生密钥绑定会话与纪元
func TestDeriveEpochKeysContextBinding(t *testing.T) {
	secret := make([]byte, 32)
	sidA := types.NewSessionID()
	sidB := types.NewSessionID()

	k0, err := DeriveEpochKeys(secret, sidA, 0)
	require.NoError(t, err)
	k1, err := DeriveEpochKeys(secret, sidA, 1)
	require.NoError(t, err)
	kb, err := DeriveEpochKeys(secret, sidB, 0)
	require.NoError(t, err)

	assert.NotEqual(t, k0.InitEnc, k1.InitEnc, "不同纪元须派生不同密钥")
	assert.NotEqual(t, k0.InitEnc, kb.InitEnc, "不同会话须派生不同密钥")
	assert.NotEqual(t, k0.InitEnc, k0.RespEnc, "两个方向须派生不同密钥")
	assert.NotEqual(t, k0.InitEnc, k0.Mac, "加密密钥与 MAC 密钥须不同")
	assert.NotEqual(t, k0.RespEnc, k0.Mac)

	// 相同输入的派生是确定性的
	k0again, err := DeriveEpochKeys(secret, sidA, 0)
	require.NoError(t, err)
	assert.Equal(t, k0.InitEnc, k0again.InitEnc)
	assert.Equal(t, k0.RespEnc, k0again.RespEnc)
}

// TestDirectionKeySelection 测试收发方向密钥互补
func TestDirectionKeySelection(t *testing.T) {
	keys, _ := testEpochKeys(t, 0)

	assert.Equal(t, keys.SendKey(true), keys.RecvKey(false))
	assert.Equal(t, keys.SendKey(false), keys.RecvKey(true))
	assert.NotEqual(t, keys.SendKey(true), keys.SendKey(false))
}

// TestNonceLayout 测试 nonce 的 epoch||seq 大端布局
func TestNonceLayout(t *testing.T) {
	n := Nonce(0x01020304, 0x05060708090A0B0C)
	require.Len(t, n, NonceSize)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, n[0:4])
	assert.Equal(t, []byte{0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C}, n[4:12])
}

// TestSharedSecretAgreement 测试双方 DH 得到相同共享密钥
func TestSharedSecretAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	sab, err := SharedSecret(a.Private, b.Public)
	require.NoError(t, err)
	sba, err := SharedSecret(b.Private, a.Public)
	require.NoError(t, err)
	assert.Equal(t, sab, sba)

	_, err = SharedSecret(a.Private, []byte{1, 2, 3})
	require.ErrorIs(t, err, types.ErrAuthenticationFailed)
}

// TestConfirmMAC 测试确认 MAC 的验证与拒绝
func TestConfirmMAC(t *testing.T) {
	keys, _ := testEpochKeys(t, 0)
	transcript := []byte("secgw-hs-confirm:transcript")

	mac := ConfirmMAC(keys, transcript)
	require.Len(t, mac, MACSize)
	assert.True(t, VerifyConfirmMAC(keys, transcript, mac))
	assert.False(t, VerifyConfirmMAC(keys, []byte("other"), mac))

	other, _ := testEpochKeys(t, 1)
	assert.False(t, VerifyConfirmMAC(other, transcript, mac))
}

// TestSignVerify 测试长期签名
func TestSignVerify(t *testing.T) {
	pub, priv, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	msg := []byte("handshake transcript")
	sig := Sign(priv, msg)
	require.Len(t, sig, SignatureSize)

	assert.True(t, Verify(pub, msg, sig))
	assert.False(t, Verify(pub, []byte("tampered"), sig))
	assert.False(t, Verify(pub, msg, sig[:10]))
	assert.False(t, Verify(pub[:16], msg, sig))
}

// TestFingerprintAndPeerID 测试指纹与对端 ID 派生
func TestFingerprintAndPeerID(t *testing.T) {
	pubA, _, err := GenerateSigningKeyPair()
	require.NoError(t, err)
	pubB, _, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	fpA := Fingerprint(pubA)
	require.Len(t, fpA, FingerprintSize)
	assert.Equal(t, fpA, Fingerprint(pubA))
	assert.NotEqual(t, fpA, Fingerprint(pubB))

	idA := PeerIDFromPublicKey(pubA)
	require.NoError(t, idA.Validate())
	assert.Equal(t, idA, PeerIDFromPublicKey(pubA))
	assert.NotEqual(t, idA, PeerIDFromPublicKey(pubB))
}

// TestZeroize 测试密钥材料清零
func TestZeroize(t *testing.T) {
	keys, _ := testEpochKeys(t, 0)
	keys.Zeroize()
	assert.Equal(t, [KeySize]byte{}, keys.InitEnc)
	assert.Equal(t, [KeySize]byte{}, keys.RespEnc)
	assert.Equal(t, [KeySize]byte{}, keys.Mac)
}
