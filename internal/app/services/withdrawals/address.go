package withdrawals

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	tronAddressLength = 25
	tronAddressPrefix = 0x41
	checksumLength    = 4
)

var (
	errAddressEmpty    = errors.New("address is empty")
	errAddressLength   = errors.New("address has the wrong length")
	errAddressPrefix   = errors.New("address is not a TRON mainnet address")
	errAddressChecksum = errors.New("address checksum mismatch")
)

// AddressValidator rejects destination addresses that cannot receive funds.
type AddressValidator func(address string) error

// ValidateTronAddress checks a base58check encoded TRON address as used by
// TRC20 transfers.
func ValidateTronAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errAddressEmpty
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != tronAddressLength {
		return errAddressLength
	}
	if raw[0] != tronAddressPrefix {
		return errAddressPrefix
	}
	payload := raw[:tronAddressLength-checksumLength]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:checksumLength], raw[tronAddressLength-checksumLength:]) {
		return errAddressChecksum
	}
	return nil
}

// AcceptNonEmpty only requires an address to be present.
func AcceptNonEmpty(address string) error {
	if strings.TrimSpace(address) == "" {
		return errAddressEmpty
	}
	return nil
}
