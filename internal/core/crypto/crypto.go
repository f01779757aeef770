// Package crypto 实现网关的密码学引擎
//
// 纯无状态原语封装，不持有任何会话知识：
//   - 临时密钥交换：Curve25519（通过 flynn/noise 的 DH25519）
//   - 密钥派生：HKDF-SHA256，上下文绑定 (会话标识, 纪元)
//   - AEAD：ChaCha20-Poly1305，12 字节 nonce，收发方向密钥分离
//   - 签名：Ed25519
//   - 指纹：BLAKE3
//
// Nonce 的构造是调用方（会话层）的责任：由 (纪元, 序列号) 确定性派生。
// 序列号的唯一性是单方向的，两个方向各用一把派生密钥，
// 合起来保证 (密钥, nonce) 对在纪元内永不重复。
package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              常量
// ============================================================================

const (
	// KeySize 对称密钥长度（ChaCha20-Poly1305）
	KeySize = chacha20poly1305.KeySize

	// NonceSize AEAD nonce 长度
	NonceSize = chacha20poly1305.NonceSize

	// TagSize AEAD 认证标签长度
	TagSize = 16

	// SignatureSize Ed25519 签名长度
	SignatureSize = ed25519.SignatureSize

	// PublicKeySize Curve25519/Ed25519 公钥长度
	PublicKeySize = 32

	// MACSize 确认 MAC 长度（HMAC-SHA256）
	MACSize = sha256.Size

	// FingerprintSize 公钥指纹长度（BLAKE3-256）
	FingerprintSize = 32
)

// kdfInfoPrefix HKDF 上下文前缀
//
// 将派生密钥绑定到 (会话标识, 纪元)，防止跨会话/跨纪元的密钥复用。
const kdfInfoPrefix = "secgw-epoch-keys:"

// dh25519 Curve25519 DH 函数（noise 套件）
var dh25519 = noise.DH25519

// ============================================================================
//                              密钥交换
// ============================================================================

// KeyPair 临时密钥交换密钥对
type KeyPair struct {
	Private []byte
	Public  []byte
}

// GenerateKeyPair 生成临时 Curve25519 密钥对
func GenerateKeyPair() (KeyPair, error) {
	dhKey, err := dh25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate ephemeral keypair: %w", err)
	}
	return KeyPair{Private: dhKey.Private, Public: dhKey.Public}, nil
}

// SharedSecret 计算共享密钥
//
// shared = DH(own private, peer public)
func SharedSecret(ownPrivate, peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != PublicKeySize {
		return nil, fmt.Errorf("%w: peer public key length %d", types.ErrAuthenticationFailed, len(peerPublic))
	}
	secret, err := dh25519.DH(ownPrivate, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("dh: %w", err)
	}
	return secret, nil
}

// Zeroize 清零敏感字节
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ============================================================================
//                              密钥派生
// ============================================================================

// EpochKeys 单个纪元的派生密钥材料
//
// AEAD 密钥按传输方向分离：双方从同一 HKDF 输出派生出相同的密钥组，
// 但各自只用己方方向的密钥加密。两个方向的序列号彼此独立，
// 共用一把加密密钥会让双方的 (密钥, nonce) 对相撞。
type EpochKeys struct {
	// InitEnc 发起方出站方向的 AEAD 密钥
	InitEnc [KeySize]byte
	// RespEnc 响应方出站方向的 AEAD 密钥
	RespEnc [KeySize]byte
	// Mac 确认 MAC 密钥
	Mac [KeySize]byte
}

// SendKey 本端出站方向的 AEAD 密钥
func (k *EpochKeys) SendKey(initiator bool) []byte {
	if initiator {
		return k.InitEnc[:]
	}
	return k.RespEnc[:]
}

// RecvKey 对端出站方向的 AEAD 密钥
func (k *EpochKeys) RecvKey(initiator bool) []byte {
	if initiator {
		return k.RespEnc[:]
	}
	return k.InitEnc[:]
}

// Zeroize 清零密钥材料
//
// 纪元退役或会话拆除时必须调用。
func (k *EpochKeys) Zeroize() {
	Zeroize(k.InitEnc[:])
	Zeroize(k.RespEnc[:])
	Zeroize(k.Mac[:])
}

// DeriveEpochKeys 从共享密钥派生纪元密钥材料
//
// HKDF-SHA256(secret, info = prefix || sessionID || epoch(BE))，
// 展开 96 字节：发起方方向 AEAD 密钥、响应方方向 AEAD 密钥、
// 确认 MAC 密钥各 32 字节。
func DeriveEpochKeys(secret []byte, sid types.SessionID, epoch types.Epoch) (*EpochKeys, error) {
	info := make([]byte, 0, len(kdfInfoPrefix)+types.SessionIDSize+4)
	info = append(info, []byte(kdfInfoPrefix)...)
	info = append(info, sid[:]...)
	info = binary.BigEndian.AppendUint32(info, uint32(epoch))

	r := hkdf.New(sha256.New, secret, nil, info)
	keys := &EpochKeys{}
	for _, k := range [][]byte{keys.InitEnc[:], keys.RespEnc[:], keys.Mac[:]} {
		if _, err := io.ReadFull(r, k); err != nil {
			return nil, fmt.Errorf("hkdf expand epoch keys: %w", err)
		}
	}
	return keys, nil
}

// ============================================================================
//                              AEAD
// ============================================================================

// Nonce 从 (纪元, 序列号) 确定性构造 nonce
//
// nonce = epoch(4 BE) || sequence(8 BE)，共 12 字节。
func Nonce(epoch types.Epoch, seq uint64) []byte {
	n := make([]byte, NonceSize)
	binary.BigEndian.PutUint32(n[0:4], uint32(epoch))
	binary.BigEndian.PutUint64(n[4:12], seq)
	return n
}

// Seal AEAD 加密
//
// key 是发送方向的 AEAD 密钥（EpochKeys.SendKey）。返回 ciphertext || tag。
func Seal(key, nonce, associatedData, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, associatedData), nil
}

// Open AEAD 解密并验证
//
// key 是对端发送方向的 AEAD 密钥（EpochKeys.RecvKey）。
// 认证失败返回 types.ErrAuthenticationFailed，绝不输出损坏的明文。
func Open(key, nonce, associatedData, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: aead open", types.ErrAuthenticationFailed)
	}
	return plaintext, nil
}

// ============================================================================
//                              签名
// ============================================================================

// GenerateSigningKeyPair 生成长期 Ed25519 签名密钥对
func GenerateSigningKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate signing keypair: %w", err)
	}
	return pub, priv, nil
}

// Sign 用长期签名私钥签名
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify 验证签名
func Verify(pub ed25519.PublicKey, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}

// ============================================================================
//                              确认 MAC / 指纹
// ============================================================================

// ConfirmMAC 计算握手/重密钥确认 MAC
//
// HMAC-SHA256(macKey, transcript)，证明双方持有匹配的派生密钥材料。
func ConfirmMAC(key *EpochKeys, transcript []byte) []byte {
	h := hmac.New(sha256.New, key.Mac[:])
	h.Write(transcript)
	return h.Sum(nil)
}

// VerifyConfirmMAC 常数时间验证确认 MAC
func VerifyConfirmMAC(key *EpochKeys, transcript, mac []byte) bool {
	return hmac.Equal(ConfirmMAC(key, transcript), mac)
}

// Fingerprint 计算验证公钥的 BLAKE3 指纹
func Fingerprint(pub []byte) []byte {
	sum := blake3.Sum256(pub)
	return sum[:]
}

// PeerIDFromPublicKey 从长期验证公钥派生对端 ID
func PeerIDFromPublicKey(pub ed25519.PublicKey) types.PeerID {
	return types.PeerIDFromFingerprint(Fingerprint(pub))
}
