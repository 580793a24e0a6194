package ledger

// ApplyContext is what an Applier may know about the ledger being closed.
type ApplyContext struct {
	LedgerSeq uint32
	Params    Params
}

// Applier executes the operations of a transaction whose fee has been charged
// and whose sequence number has been consumed. It writes its effects to
// accounts, which the closer discards unless the returned code is TxSuccess.
//
// Implementations must be deterministic.
type Applier interface {
	Apply(ctx ApplyContext, tx *Transaction, accounts *Delta) (ResultCode, []OpCode)
}

// OperationApplier implements CreateAccount and Payment. Every account must
// keep at least Params.MinBalance(0) after an operation.
type OperationApplier struct{}

// Apply implements Applier. Every operation is attempted so that each gets a
// code, even after an earlier one failed.
func (OperationApplier) Apply(ctx ApplyContext, tx *Transaction, accounts *Delta) (ResultCode, []OpCode) {
	codes := make([]OpCode, len(tx.Operations))
	failed := false
	for i := range tx.Operations {
		var code OpCode
		switch op := tx.Operations[i]; op.Type {
		case CreateAccount:
			code = createAccount(ctx, tx.Source, op, accounts)
		case Payment:
			code = payment(ctx, tx.Source, op, accounts)
		default:
			code = OpNotSupported
		}
		codes[i] = code
		if code != OpSuccess {
			failed = true
		}
	}
	if failed {
		return TxFailed, codes
	}
	return TxSuccess, codes
}

func createAccount(ctx ApplyContext, source string, op Operation, accounts *Delta) OpCode {
	if op.Amount <= 0 || op.Destination == "" {
		return OpMalformed
	}
	if _, ok := accounts.Account(op.Destination); ok {
		return OpAlreadyExists
	}
	minBalance := ctx.Params.MinBalance(0)
	if op.Amount < minBalance {
		return OpLowReserve
	}
	src, ok := accounts.Account(source)
	if !ok {
		return OpUnderfunded
	}
	if src.Balance-op.Amount < minBalance {
		return OpUnderfunded
	}
	src.Balance -= op.Amount
	accounts.Put(src)
	accounts.Put(Account{
		ID:      op.Destination,
		Balance: op.Amount,
		SeqNum:  int64(ctx.LedgerSeq) << 32,
	})
	return OpSuccess
}

func payment(ctx ApplyContext, source string, op Operation, accounts *Delta) OpCode {
	if op.Amount <= 0 || op.Destination == "" {
		return OpMalformed
	}
	dst, ok := accounts.Account(op.Destination)
	if !ok {
		return OpNoDestination
	}
	if op.Destination == source {
		return OpSuccess
	}
	src, ok := accounts.Account(source)
	if !ok || src.Balance-op.Amount < ctx.Params.MinBalance(0) {
		return OpUnderfunded
	}
	src.Balance -= op.Amount
	dst.Balance += op.Amount
	accounts.Put(src)
	accounts.Put(dst)
	return OpSuccess
}
