package ledger

import (
	"fmt"
)

// UpgradeType identifies the protocol parameter changed by an Upgrade.
type UpgradeType uint8

const (
	UpgradeVersion UpgradeType = iota + 1
	UpgradeBaseFee
	UpgradeBaseReserve
	UpgradeMaxTxSetSize
)

// Upgrade changes one protocol parameter. Upgrades are applied after the
// transactions of the ledger that carries them.
type Upgrade struct {
	Type  UpgradeType
	Value int64
}

func (u Upgrade) String() string {
	switch u.Type {
	case UpgradeVersion:
		return fmt.Sprintf("protocolversion=%d", u.Value)
	case UpgradeBaseFee:
		return fmt.Sprintf("basefee=%d", u.Value)
	case UpgradeBaseReserve:
		return fmt.Sprintf("basereserve=%d", u.Value)
	case UpgradeMaxTxSetSize:
		return fmt.Sprintf("maxtxsetsize=%d", u.Value)
	default:
		return fmt.Sprintf("unknown(%d)=%d", u.Type, u.Value)
	}
}

// apply returns params with the upgrade applied, or an error if the upgrade is
// not valid on top of params.
func (u Upgrade) apply(params Params) (Params, error) {
	switch u.Type {
	case UpgradeVersion:
		if u.Value <= int64(params.ProtocolVersion) {
			return params, fmt.Errorf("protocol version %d is not newer than %d", u.Value, params.ProtocolVersion)
		}
		params.ProtocolVersion = uint32(u.Value)
	case UpgradeBaseFee:
		if u.Value <= 0 {
			return params, fmt.Errorf("invalid base fee %d", u.Value)
		}
		params.BaseFee = u.Value
	case UpgradeBaseReserve:
		if u.Value <= 0 {
			return params, fmt.Errorf("invalid base reserve %d", u.Value)
		}
		params.BaseReserve = u.Value
	case UpgradeMaxTxSetSize:
		if u.Value <= 0 {
			return params, fmt.Errorf("invalid max tx set size %d", u.Value)
		}
		params.MaxTxSetSize = uint32(u.Value)
	default:
		return params, fmt.Errorf("unknown upgrade type %d", u.Type)
	}
	return params, nil
}

// Value is what consensus finalizes for one sequence number. It is produced
// once and never mutated.
type Value struct {
	Seq       uint32
	TxSetHash []byte
	TxSet     TxSet
	CloseTime uint64
	Upgrades  []Upgrade
}

// NewValue builds a Value for seq on top of the ledger identified by prevHash
// and fills in the transaction set hash.
func NewValue(seq uint32, prevHash []byte, txs []Transaction, closeTime uint64, upgrades ...Upgrade) (*Value, error) {
	v := &Value{
		Seq: seq,
		TxSet: TxSet{
			PreviousLedgerHash: prevHash,
			Txs:                txs,
		},
		CloseTime: closeTime,
		Upgrades:  upgrades,
	}
	h, err := v.TxSet.Hash()
	if err != nil {
		return nil, err
	}
	v.TxSetHash = h
	return v, nil
}

// Marshal returns the canonical encoding of the value.
func (v *Value) Marshal() ([]byte, error) {
	return marshal(v)
}

// Unmarshal decodes a value produced by Marshal.
func (v *Value) Unmarshal(data []byte) error {
	return unmarshal(data, v)
}

// Hash identifies the value. Two deliveries for the same sequence are the same
// value iff their hashes are equal.
func (v *Value) Hash() ([]byte, error) {
	return hashOf(v.normalized())
}

func (v *Value) normalized() *Value {
	out := *v
	out.TxSet.Txs = make([]Transaction, len(v.TxSet.Txs))
	for i, tx := range v.TxSet.Txs {
		out.TxSet.Txs[i] = tx.normalized()
	}
	if out.Upgrades == nil {
		out.Upgrades = []Upgrade{}
	}
	return &out
}
