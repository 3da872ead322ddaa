package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Category classifies an observed transaction from one party's
// point of view.
type Category string

const (
	CategorySend     Category = "send"
	CategoryReceive  Category = "receive"
	CategoryContract Category = "contract"
)

// ValidCategory reports whether c is a known transaction category.
func ValidCategory(c Category) bool {
	switch c {
	case CategorySend, CategoryReceive, CategoryContract:
		return true
	}
	return false
}

// AddressRecord is the rolling aggregate state for a single address.
// Created lazily on first sight, mutated only by the history store,
// never deleted.
type AddressRecord struct {
	Address string `json:"address"`

	TransactionCount uint64 `json:"transactionCount"`
	TotalVolume      uint64 `json:"totalVolume"`

	LastTransactionTime time.Time `json:"lastTransactionTime"`

	// RapidTransactionCount increments while consecutive transactions
	// land inside the rapid window and resets to zero the moment a gap
	// exceeds it. All other counters only grow.
	RapidTransactionCount    uint64 `json:"rapidTransactionCount"`
	FailedTransactionCount   uint64 `json:"failedTransactionCount"`
	ContractInteractionCount uint64 `json:"contractInteractionCount"`
	RoundAmountCount         uint64 `json:"roundAmountCount"`

	// RiskScore is the last composite score computed for this address,
	// cached for the query surface. Always in [0,100].
	RiskScore int `json:"riskScore"`

	// SuspiciousPatterns lists the pattern kinds ever raised for this
	// address. Informational; not an input to scoring.
	SuspiciousPatterns []PatternKind `json:"suspiciousPatterns,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPattern reports whether kind was previously raised for the address.
func (r *AddressRecord) HasPattern(kind PatternKind) bool {
	for _, k := range r.SuspiciousPatterns {
		if k == kind {
			return true
		}
	}
	return false
}

// ContractRatioPct returns the contract-interaction percentage using
// truncating integer division. Threshold comparisons elsewhere depend
// on this exact truncation, so it must never move to floating point.
func (r *AddressRecord) ContractRatioPct() uint64 {
	if r.TransactionCount == 0 {
		return 0
	}
	return r.ContractInteractionCount * 100 / r.TransactionCount
}

// NormalizeAddress canonicalizes hex chain addresses to their EIP-55
// checksum form so differently-cased spellings key the same history
// record. Non-hex identifiers pass through opaque.
func NormalizeAddress(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}
