package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"

	"github.com/relves/quorumsig/internal/codec"
	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/types"
)

// SystemProgramID addresses the built-in ledger program.
const SystemProgramID = address.Address("system")

const opTransfer = "transfer"

var ErrInvalidInstruction = errors.New("invalid system instruction")

// Transfer builds an instruction moving amount from one balance to another.
// from must sign. amount may not exceed codec.MaxUint.
func Transfer(from, to address.Address, amount uint64) (Instruction, error) {
	if err := codec.CheckUint("amount", amount); err != nil {
		return Instruction{}, err
	}
	payload, err := codec.Encode(2, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "op", qp.String(opTransfer))
		qp.MapEntry(ma, "amount", qp.Int(int64(amount)))
	})
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		Target: SystemProgramID,
		Accounts: []types.AccountMeta{
			{Address: from, IsSigner: true, IsWritable: true},
			{Address: to, IsWritable: true},
		},
		Payload: payload,
	}, nil
}

// SystemProgram moves ledger balances.
type SystemProgram struct{}

func (SystemProgram) Process(ctx context.Context, tx storage.Tx, call Call) error {
	n, err := codec.Decode(call.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	op, err := codec.String(n, "op")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	if op != opTransfer {
		return fmt.Errorf("%w: unknown op %q", ErrInvalidInstruction, op)
	}
	amount, err := codec.Uint(n, "amount")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}

	if len(call.Accounts) != 2 {
		return fmt.Errorf("%w: transfer takes 2 accounts, got %d", ErrInvalidInstruction, len(call.Accounts))
	}
	from, to := call.Accounts[0], call.Accounts[1]
	if !from.IsWritable || !to.IsWritable {
		return fmt.Errorf("%w: transfer accounts must be writable", ErrInvalidInstruction)
	}
	if !call.IsSigner(from.Address) {
		return fmt.Errorf("%w: %s", ErrMissingSignature, from.Address)
	}

	if err := tx.Debit(ctx, from.Address, amount); err != nil {
		return err
	}
	return tx.Credit(ctx, to.Address, amount)
}
