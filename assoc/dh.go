package assoc

import (
	"crypto/rand"
	"fmt"
	"hash"
	"math/big"
)

// Default Diffie-Hellman modulus and generator from the OpenID 2.0
// specification (Appendix B). Providers that want different parameters
// receive them explicitly in the associate request, so both sides always
// agree on the group.
const defaultModulusHex = "DCF93A0B883972EC0E19989AC5A2CE310E1D37717E8D9571BB7623731866E61E" +
	"F75A2E27898B057F9891C2E27A639C3F29B60814581CD3B2CA3986D2683705577D45C2E7E52DC81C7A171876" +
	"E5CEA74B1448BFDFAF18828EFD2519F14E45E3826634AF1949E5B535CC829A483B8A76223E5D490A257F05BD" +
	"FF16F2FB22C583AB"

var (
	defaultModulus, _ = new(big.Int).SetString(defaultModulusHex, 16)
	defaultGen        = big.NewInt(2)
)

// btwoc encodes a non-negative integer in big-endian two's complement,
// the shortest form with a clear sign bit.
func btwoc(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	if b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}

// fromBtwoc decodes a btwoc value. All protocol values are positive, so
// plain big-endian interpretation suffices once empty input is ruled out.
func fromBtwoc(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty btwoc value")
	}
	if b[0]&0x80 != 0 {
		return nil, fmt.Errorf("negative btwoc value")
	}
	return new(big.Int).SetBytes(b), nil
}

// dhKey is the consumer's half of a Diffie-Hellman exchange.
type dhKey struct {
	private *big.Int
	public  *big.Int
}

// generateKey picks a random private exponent in [1, p-1) and derives
// the public value g^x mod p.
func generateKey() (*dhKey, error) {
	limit := new(big.Int).Sub(defaultModulus, big.NewInt(2))
	x, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate DH key: %w", err)
	}
	x.Add(x, big.NewInt(1))
	return &dhKey{
		private: x,
		public:  new(big.Int).Exp(defaultGen, x, defaultModulus),
	}, nil
}

// unmaskSecret recovers the MAC key: H(btwoc(g^xy mod p)) XOR
// enc_mac_key. The digest length fixes the key length; a provider
// sending a differently sized mask is talking a different protocol.
func unmaskSecret(serverPublic *big.Int, key *dhKey, newHash func() hash.Hash, encMacKey []byte) ([]byte, error) {
	shared := new(big.Int).Exp(serverPublic, key.private, defaultModulus)

	h := newHash()
	h.Write(btwoc(shared))
	digest := h.Sum(nil)

	if len(encMacKey) != len(digest) {
		return nil, fmt.Errorf("enc_mac_key length %d, want %d", len(encMacKey), len(digest))
	}
	secret := make([]byte, len(digest))
	for i := range digest {
		secret[i] = digest[i] ^ encMacKey[i]
	}
	return secret, nil
}
