package txrace

import (
	"context"
	"strings"

	"github.com/celer-network/tx-racer/store"
	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Role tells the two raced payloads apart
type Role string

const (
	RoleClaim   = Role("claim")
	RoleRecover = Role("recover")
	RoleFunding = Role("funding")
)

// SignedPayload is an opaque, fully signed raw transaction. The bytes are copied on
// construction and never change afterwards, so every resubmission carries the same
// nonce and the same signature.
type SignedPayload struct {
	role Role
	raw  []byte
	hash common.Hash
}

// NewSignedPayload copies raw and precomputes its transaction hash
func NewSignedPayload(role Role, raw []byte) (*SignedPayload, error) {
	if len(raw) == 0 {
		return nil, errors.Errorf("empty %s payload", role)
	}
	b := make([]byte, len(raw))
	copy(b, raw)
	return &SignedPayload{
		role: role,
		raw:  b,
		// keccak256 over the canonical encoding is the tx hash for legacy and typed txs alike
		hash: crypto.Keccak256Hash(b),
	}, nil
}

// ParseSignedPayload decodes a 0x-prefixed hex string and checks that it is a
// decodable transaction
func ParseSignedPayload(role Role, hexStr string) (*SignedPayload, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(hexStr))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s payload hex", role)
	}
	payload, err := NewSignedPayload(role, raw)
	if err != nil {
		return nil, err
	}
	if _, err := payload.Decode(); err != nil {
		return nil, err
	}
	return payload, nil
}

func (p *SignedPayload) Role() Role {
	return p.role
}

// Bytes returns a copy of the raw payload
func (p *SignedPayload) Bytes() []byte {
	b := make([]byte, len(p.raw))
	copy(b, p.raw)
	return b
}

// Hash is the transaction id an endpoint reports after accepting the payload
func (p *SignedPayload) Hash() common.Hash {
	return p.hash
}

// Decode parses the payload as an ethereum transaction. Used for validation and logging only.
func (p *SignedPayload) Decode() (*gethTypes.Transaction, error) {
	tx := new(gethTypes.Transaction)
	if err := tx.UnmarshalBinary(p.raw); err != nil {
		return nil, errors.Wrapf(err, "%s payload is not a valid signed transaction", p.role)
	}
	return tx, nil
}

func (p *SignedPayload) String() string {
	return string(p.role) + ":" + p.hash.Hex()
}

// PayloadBuilder produces the claim and recover payloads of one race. It is called
// exactly once per race.
type PayloadBuilder interface {
	BuildPayloads(ctx context.Context) (claim *SignedPayload, rec *SignedPayload, err error)
}

// StaticPayloadBuilder serves payloads that were signed elsewhere and handed in as hex
type StaticPayloadBuilder struct {
	ClaimHex   string
	RecoverHex string
}

var _ PayloadBuilder = (*StaticPayloadBuilder)(nil)

func (b *StaticPayloadBuilder) BuildPayloads(ctx context.Context) (*SignedPayload, *SignedPayload, error) {
	claim, err := ParseSignedPayload(RoleClaim, b.ClaimHex)
	if err != nil {
		return nil, nil, err
	}
	rec, err := ParseSignedPayload(RoleRecover, b.RecoverHex)
	if err != nil {
		return nil, nil, err
	}
	if claim.Hash() == rec.Hash() {
		return nil, nil, errors.New("claim and recover payloads are identical")
	}
	return claim, rec, nil
}

// StoredPayloadBuilder loads the payloads of an earlier race from the journal
type StoredPayloadBuilder struct {
	Store  store.Store
	RaceID uuid.UUID
}

var _ PayloadBuilder = (*StoredPayloadBuilder)(nil)

func (b *StoredPayloadBuilder) BuildPayloads(ctx context.Context) (*SignedPayload, *SignedPayload, error) {
	race, err := b.Store.GetRace(b.RaceID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not load race %s", b.RaceID)
	}
	claim, err := NewSignedPayload(RoleClaim, race.ClaimPayload)
	if err != nil {
		return nil, nil, err
	}
	rec, err := NewSignedPayload(RoleRecover, race.RecoverPayload)
	if err != nil {
		return nil, nil, err
	}
	if claim.Hash() != race.ClaimHash || rec.Hash() != race.RecoverHash {
		return nil, nil, errors.Errorf("stored payloads of race %s do not match their recorded hashes", b.RaceID)
	}
	return claim, rec, nil
}

// PreparedPayloads hands out payloads that were already built, e.g. after an operator
// confirmed them
type PreparedPayloads struct {
	Claim   *SignedPayload
	Recover *SignedPayload
}

var _ PayloadBuilder = (*PreparedPayloads)(nil)

func (p *PreparedPayloads) BuildPayloads(ctx context.Context) (*SignedPayload, *SignedPayload, error) {
	if p.Claim == nil || p.Recover == nil {
		return nil, nil, errors.New("claim and recover payloads are both required")
	}
	return p.Claim, p.Recover, nil
}
