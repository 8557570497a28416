package sale

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"launchpad/native/token"
)

// SetupDomainV1 is the domain separator bound into every setup fingerprint.
const SetupDomainV1 = "LAUNCHPAD_SALE_SETUP_V1"

// Fingerprint deterministically hashes the full economic configuration of a
// sale. The digest binds the operator approval to the exact parameters the
// seller later submits, and doubles as the message signed by an off-chain
// validator in the signature-based creation variant.
func Fingerprint(setup *Setup, extraData []byte, paymentToken string) ([32]byte, error) {
	var digest [32]byte
	sanitized, err := SanitizeSetup(setup)
	if err != nil {
		return digest, err
	}
	payment, err := token.NormalizeSymbol(paymentToken)
	if err != nil {
		return digest, err
	}
	words := sanitized.VestingSchedule.Words()
	encodedWords := make([]string, len(words))
	for i := range words {
		encodedWords[i] = words[i].Hex()
	}
	builder := strings.Builder{}
	builder.WriteString(SetupDomainV1)
	builder.WriteString("|owner=")
	builder.WriteString(hex.EncodeToString(sanitized.Owner[:]))
	builder.WriteString("|min=")
	builder.WriteString(sanitized.MinAmount.String())
	builder.WriteString("|cap=")
	builder.WriteString(sanitized.CapAmount.String())
	builder.WriteString("|total=")
	builder.WriteString(sanitized.TotalValue.String())
	builder.WriteString(fmt.Sprintf("|pricing=%d/%d", sanitized.PricingToken, sanitized.PricingPayment))
	builder.WriteString("|payment=")
	builder.WriteString(payment)
	builder.WriteString("|selling=")
	builder.WriteString(sanitized.SellingToken)
	builder.WriteString("|vesting=")
	builder.WriteString(strings.Join(encodedWords, ","))
	builder.WriteString(fmt.Sprintf("|transferable=%t", sanitized.TokenIsTransferable))
	builder.WriteString(fmt.Sprintf("|fees=%d/%d/%d", sanitized.TokenFeePoints, sanitized.ExtraFeePoints, sanitized.PaymentFeePoints))
	builder.WriteString(fmt.Sprintf("|future=%t/%d", sanitized.IsFutureToken, sanitized.FutureTokenSaleID))
	builder.WriteString("|extra=")
	builder.WriteString(hex.EncodeToString(extraData))
	copy(digest[:], ethcrypto.Keccak256([]byte(builder.String())))
	return digest, nil
}

// SignFingerprint produces a recoverable secp256k1 signature over the setup
// fingerprint. Used by off-chain validators to attest a configuration.
func SignFingerprint(key *ecdsa.PrivateKey, fingerprint [32]byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("sale: nil signing key")
	}
	return ethcrypto.Sign(fingerprint[:], key)
}

// RecoverValidator recovers the signer address from a fingerprint signature.
func RecoverValidator(fingerprint [32]byte, signature []byte) ([20]byte, error) {
	var addr [20]byte
	pub, err := ethcrypto.SigToPub(fingerprint[:], signature)
	if err != nil {
		return addr, fmt.Errorf("sale: invalid signature: %w", err)
	}
	copy(addr[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return addr, nil
}
