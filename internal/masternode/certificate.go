package masternode

import (
	"encoding/binary"

	"golang.org/x/crypto/ed25519"

	"github.com/timecoin/node/internal/types"
)

// Certificate is a signed attestation of a masternode's address, tier
// and collateral, checked with Verify. Registry.Register and the
// announcement handler do not take or check a certificate.
type Certificate struct {
	Address      string
	Tier         types.MasternodeTier
	Collateral   uint64
	RegisteredAt int64
	Signature    []byte
}

// signingBytes is the deterministic payload the certificate's
// signature covers.
func (c Certificate) signingBytes() []byte {
	buf := make([]byte, 0, len(c.Address)+1+8+8)
	buf = append(buf, c.Address...)
	buf = append(buf, byte(c.Tier))
	var collateral [8]byte
	binary.BigEndian.PutUint64(collateral[:], c.Collateral)
	buf = append(buf, collateral[:]...)
	var registeredAt [8]byte
	binary.BigEndian.PutUint64(registeredAt[:], uint64(c.RegisteredAt))
	buf = append(buf, registeredAt[:]...)
	return buf
}

// Sign fills in Signature using the masternode's Ed25519 identity key.
func (c *Certificate) Sign(priv ed25519.PrivateKey) {
	c.Signature = ed25519.Sign(priv, c.signingBytes())
}

// Verify checks the certificate's signature against pub and that its
// claimed tier/collateral pairing is internally consistent.
func (c Certificate) Verify(pub ed25519.PublicKey) bool {
	if c.Tier.Collateral() != c.Collateral {
		return false
	}
	return ed25519.Verify(pub, c.signingBytes(), c.Signature)
}
