// Package identity 实现身份边界：对端标识到长期验证密钥的只读为主存储，
// 以及本节点自身的长期签名密钥对。
//
// 存储在构造时初始化，供给（Provision）是显式的原子更新，
// 对后续新握手立即可见；调用栈深处不发生隐式变更。
package identity

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-secure-gateway/internal/core/crypto"
	"github.com/dep2p/go-secure-gateway/pkg/lib/log"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

var logger = log.Logger("identity")

// PeerKey 对端验证密钥及其元数据
type PeerKey struct {
	// VerifyKey ed25519 验证公钥
	VerifyKey ed25519.PublicKey
	// CreatedAt 供给时间
	CreatedAt time.Time
	// ExpiresAt 过期时间；零值表示永不过期。
	// 过期密钥在查找时按未知对端处理（失败关闭）。
	ExpiresAt time.Time
}

// expired 判断密钥在 now 时刻是否已过期
func (k *PeerKey) expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// Store 身份存储
type Store struct {
	mu    sync.RWMutex
	peers map[types.PeerID]PeerKey

	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey
	selfID   types.PeerID
}

// NewStore 用本节点签名密钥对构建身份存储
func NewStore(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*Store, error) {
	if len(pub) != ed25519.PublicKeySize || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: invalid signing key pair")
	}
	return &Store{
		peers:    make(map[types.PeerID]PeerKey),
		signPriv: priv,
		signPub:  pub,
		selfID:   crypto.PeerIDFromPublicKey(pub),
	}, nil
}

// Generate 生成新签名密钥对并构建身份存储
func Generate() (*Store, error) {
	pub, priv, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, err
	}
	return NewStore(pub, priv)
}

// SelfID 本节点标识
func (s *Store) SelfID() types.PeerID {
	return s.selfID
}

// SigningKey 本节点签名私钥
func (s *Store) SigningKey() ed25519.PrivateKey {
	return s.signPriv
}

// VerifyKey 本节点验证公钥
func (s *Store) VerifyKey() ed25519.PublicKey {
	return s.signPub
}

// Provision 原子供给对端验证密钥
//
// expiresAt 为零值表示永不过期。重复供给覆盖旧条目，
// 对新握手立即可见；已建立的会话不受影响。
func (s *Store) Provision(pub ed25519.PublicKey, expiresAt time.Time) (types.PeerID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("identity: invalid verification key length %d", len(pub))
	}
	id := crypto.PeerIDFromPublicKey(pub)

	s.mu.Lock()
	s.peers[id] = PeerKey{
		VerifyKey: append(ed25519.PublicKey(nil), pub...),
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	s.mu.Unlock()

	logger.Info("已供给对端验证密钥", "peer", id, "expires", expiresAt)
	return id, nil
}

// Revoke 撤销对端验证密钥
func (s *Store) Revoke(id types.PeerID) {
	s.mu.Lock()
	delete(s.peers, id)
	s.mu.Unlock()
	logger.Info("已撤销对端验证密钥", "peer", id)
}

// Lookup 查找对端验证密钥
//
// 未供给或已过期的对端返回 types.ErrUnknownPeer（失败关闭）。
func (s *Store) Lookup(id types.PeerID) (ed25519.PublicKey, error) {
	return s.lookupAt(id, time.Now())
}

func (s *Store) lookupAt(id types.PeerID, now time.Time) (ed25519.PublicKey, error) {
	s.mu.RLock()
	k, ok := s.peers[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownPeer, id)
	}
	if k.expired(now) {
		return nil, fmt.Errorf("%w: key for %s expired at %s", types.ErrUnknownPeer, id, k.ExpiresAt)
	}
	return k.VerifyKey, nil
}

// Known 判断对端是否已供给且未过期
func (s *Store) Known(id types.PeerID) bool {
	_, err := s.Lookup(id)
	return err == nil
}

// Peers 返回当前已供给且未过期的对端列表
func (s *Store) Peers() []types.PeerID {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PeerID, 0, len(s.peers))
	for id, k := range s.peers {
		if !k.expired(now) {
			out = append(out, id)
		}
	}
	return out
}
