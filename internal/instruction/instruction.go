package instruction

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

var (
	initializeUserDisc     = anchorInstructionDiscriminator("initialize_user")
	deleteUserDisc         = anchorInstructionDiscriminator("delete_user")
	depositCollateralDisc  = anchorInstructionDiscriminator("deposit_collateral")
	withdrawCollateralDisc = anchorInstructionDiscriminator("withdraw_collateral")
	openPositionDisc       = anchorInstructionDiscriminator("open_position")
	closePositionDisc      = anchorInstructionDiscriminator("close_position")
	initializeDisc         = anchorInstructionDiscriminator("initialize")
	initializeHistoryDisc  = anchorInstructionDiscriminator("initialize_history")
	initializeMarketDisc   = anchorInstructionDiscriminator("initialize_market")
)

// PositionDirection is the side of a position opened on a market.
type PositionDirection uint8

const (
	Long PositionDirection = iota
	Short
)

func (d PositionDirection) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

func anchorInstructionDiscriminator(ixName string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + ixName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// argWriter appends borsh-encoded arguments after the discriminator.
type argWriter struct {
	buf *bytes.Buffer
	enc *bin.Encoder
	err error
}

func newArgWriter(disc [8]byte) *argWriter {
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	return &argWriter{buf: buf, enc: bin.NewBorshEncoder(buf)}
}

func (w *argWriter) bool(v bool) {
	if w.err == nil {
		w.err = w.enc.WriteBool(v)
	}
}

func (w *argWriter) u8(v uint8) {
	if w.err == nil {
		w.err = w.enc.WriteUint8(v)
	}
}

func (w *argWriter) u64(v uint64) {
	if w.err == nil {
		w.err = w.enc.WriteUint64(v, bin.LE)
	}
}

func (w *argWriter) i64(v int64) {
	if w.err == nil {
		w.err = w.enc.WriteInt64(v, bin.LE)
	}
}

func (w *argWriter) u128(v bin.Uint128) {
	if w.err == nil {
		w.err = w.enc.WriteUint128(v, bin.LE)
	}
}

func (w *argWriter) bytes(name string) ([]byte, error) {
	if w.err != nil {
		return nil, fmt.Errorf("encode %s args: %w", name, w.err)
	}
	return w.buf.Bytes(), nil
}

// U128 widens a uint64 into the program's u128 argument type.
func U128(v uint64) bin.Uint128 {
	return bin.Uint128{Lo: v, Endianness: bin.LE}
}

// optionalAccounts keeps each optional account and its flag in step: the flag
// is true exactly when the account is appended to the remaining accounts.
type optionalAccounts struct {
	metas solana.AccountMetaSlice
}

func (o *optionalAccounts) add(pk *solana.PublicKey, writable bool) bool {
	if pk == nil {
		return false
	}
	o.metas = append(o.metas, solana.NewAccountMeta(*pk, writable, false))
	return true
}

// CreateAccount funds a fresh account of a fixed size owned by owner.
func CreateAccount(funding, newAccount, owner solana.PublicKey, space, lamports uint64) (solana.Instruction, error) {
	ix, err := system.NewCreateAccountInstruction(lamports, space, owner, funding, newAccount).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build create account %s: %w", newAccount, err)
	}
	return ix, nil
}
