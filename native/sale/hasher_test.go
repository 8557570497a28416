package sale

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func generateSigner(t *testing.T) (*ecdsa.PrivateKey, [20]byte) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	var addr [20]byte
	copy(addr[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	return key, addr
}

func TestFingerprintIsDeterministic(t *testing.T) {
	setup := testSetup(t)
	first, err := Fingerprint(setup, []byte("terms-v1"), "usdt")
	require.NoError(t, err)
	second, err := Fingerprint(setup.Clone(), []byte("terms-v1"), "USDT")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFingerprintBindsEveryField(t *testing.T) {
	base := testSetup(t)
	reference, err := Fingerprint(base, nil, base.PaymentToken)
	require.NoError(t, err)

	mutations := map[string]func(*Setup){
		"owner":        func(s *Setup) { s.Owner = addr(0x44) },
		"min":          func(s *Setup) { s.MinAmount = big.NewInt(101) },
		"cap":          func(s *Setup) { s.CapAmount = big.NewInt(5001) },
		"total":        func(s *Setup) { s.TotalValue = big.NewInt(10001) },
		"pricing":      func(s *Setup) { s.PricingToken = 3 },
		"selling":      func(s *Setup) { s.SellingToken = "OTH" },
		"transferable": func(s *Setup) { s.TokenIsTransferable = true },
		"tokenFee":     func(s *Setup) { s.TokenFeePoints = 501 },
		"paymentFee":   func(s *Setup) { s.PaymentFeePoints = 251 },
		"future":       func(s *Setup) { s.IsFutureToken = true },
	}
	for name, mutate := range mutations {
		mutated := base.Clone()
		mutate(mutated)
		digest, err := Fingerprint(mutated, nil, base.PaymentToken)
		require.NoError(t, err, name)
		require.NotEqual(t, reference, digest, "mutation %q must change the fingerprint", name)
	}

	digest, err := Fingerprint(base, []byte("x"), base.PaymentToken)
	require.NoError(t, err)
	require.NotEqual(t, reference, digest)

	digest, err = Fingerprint(base, nil, "dai")
	require.NoError(t, err)
	require.NotEqual(t, reference, digest)
}

func TestSignAndRecoverFingerprint(t *testing.T) {
	key, signer := generateSigner(t)
	setup := testSetup(t)
	fingerprint, err := Fingerprint(setup, nil, setup.PaymentToken)
	require.NoError(t, err)

	signature, err := SignFingerprint(key, fingerprint)
	require.NoError(t, err)

	recovered, err := RecoverValidator(fingerprint, signature)
	require.NoError(t, err)
	require.Equal(t, signer, recovered)

	_, err = RecoverValidator(fingerprint, []byte("garbage"))
	require.Error(t, err)
}
