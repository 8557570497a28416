package state

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

var (
	saleRecordPrefix      = []byte("launchpad/sale/record/")
	saleCounterKeyBytes   = []byte("launchpad/sale/counter")
	saleApprovalPrefix    = []byte("launchpad/sale/approval/")
	saleFingerprintPrefix = []byte("launchpad/sale/fingerprint/")
	factoryOperatorPrefix = []byte("launchpad/factory/operator/")
	factoryValidatorPrefix = []byte("launchpad/factory/validator/")
	bundleRecordPrefix    = []byte("launchpad/bundle/record/")
	bundleCounterKeyBytes = []byte("launchpad/bundle/counter")
	bundleOwnerPrefix     = []byte("launchpad/bundle/owner/")
	tokenBalancePrefix    = []byte("launchpad/token/balance/")
	tokenAllowancePrefix  = []byte("launchpad/token/allowance/")
)

func appendUint64(prefix []byte, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

func appendString(prefix []byte, suffix string) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

func saleRecordKey(id uint64) []byte { return appendUint64(saleRecordPrefix, id) }

func saleApprovalKey(id uint64) []byte { return appendUint64(saleApprovalPrefix, id) }

func saleFingerprintKey(fingerprint [32]byte) []byte {
	return appendString(saleFingerprintPrefix, hex.EncodeToString(fingerprint[:]))
}

func factoryOperatorKey(addr [20]byte) []byte {
	return appendString(factoryOperatorPrefix, hex.EncodeToString(addr[:]))
}

func factoryValidatorKey(addr [20]byte) []byte {
	return appendString(factoryValidatorPrefix, hex.EncodeToString(addr[:]))
}

func bundleRecordKey(id uint64) []byte { return appendUint64(bundleRecordPrefix, id) }

func bundleOwnerKey(owner [20]byte) []byte {
	return appendString(bundleOwnerPrefix, hex.EncodeToString(owner[:]))
}

func tokenBalanceKey(symbol string, addr [20]byte) []byte {
	suffix := strings.ToUpper(symbol) + "/" + hex.EncodeToString(addr[:])
	return appendString(tokenBalancePrefix, suffix)
}

func tokenAllowanceKey(symbol string, owner, spender [20]byte) []byte {
	suffix := strings.ToUpper(symbol) + "/" + hex.EncodeToString(owner[:]) + "/" + hex.EncodeToString(spender[:])
	return appendString(tokenAllowancePrefix, suffix)
}
