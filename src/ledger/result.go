package ledger

// ResultCode is the outcome of one transaction.
type ResultCode uint8

const (
	TxSuccess ResultCode = iota
	// TxFailed means an operation failed. The fee was charged and the sequence
	// number consumed, but no operation took effect.
	TxFailed
	TxNoAccount
	TxInsufficientFee
	TxInsufficientBalance
	TxBadSeq
	TxMissingOperation
)

func (c ResultCode) String() string {
	switch c {
	case TxSuccess:
		return "Success"
	case TxFailed:
		return "Failed"
	case TxNoAccount:
		return "NoAccount"
	case TxInsufficientFee:
		return "InsufficientFee"
	case TxInsufficientBalance:
		return "InsufficientBalance"
	case TxBadSeq:
		return "BadSeq"
	case TxMissingOperation:
		return "MissingOperation"
	default:
		return "Unknown"
	}
}

// OpCode is the outcome of one operation.
type OpCode uint8

const (
	OpSuccess OpCode = iota
	OpMalformed
	OpUnderfunded
	OpNoDestination
	OpAlreadyExists
	OpLowReserve
	OpNotSupported
)

func (c OpCode) String() string {
	switch c {
	case OpSuccess:
		return "Success"
	case OpMalformed:
		return "Malformed"
	case OpUnderfunded:
		return "Underfunded"
	case OpNoDestination:
		return "NoDestination"
	case OpAlreadyExists:
		return "AlreadyExists"
	case OpLowReserve:
		return "LowReserve"
	case OpNotSupported:
		return "NotSupported"
	default:
		return "Unknown"
	}
}

// Result records what happened to one transaction.
type Result struct {
	TxHash     []byte
	Code       ResultCode
	FeeCharged int64
	OpCodes    []OpCode
}

// ResultSet holds one Result per transaction, in apply order.
type ResultSet struct {
	Results []Result
}

// Marshal returns the canonical encoding of the result set.
func (rs *ResultSet) Marshal() ([]byte, error) {
	return marshal(rs)
}

// Unmarshal decodes a result set produced by Marshal.
func (rs *ResultSet) Unmarshal(data []byte) error {
	return unmarshal(data, rs)
}

// Hash returns the SHA256 hash of the canonical encoding.
func (rs *ResultSet) Hash() ([]byte, error) {
	return hashOf(rs.normalized())
}

// normalized replaces nil slices with empty ones so that a result set hashes
// the same before and after a round trip through storage.
func (rs *ResultSet) normalized() *ResultSet {
	out := &ResultSet{Results: make([]Result, len(rs.Results))}
	for i, r := range rs.Results {
		if r.OpCodes == nil {
			r.OpCodes = []OpCode{}
		}
		out.Results[i] = r
	}
	return out
}
