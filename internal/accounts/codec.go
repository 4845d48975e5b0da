package accounts

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/coldbell/clearinghouse/internal/sdkerr"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const DiscriminatorLength = 8

// Record is an on-ledger account layout tagged with an 8-byte discriminator.
type Record interface {
	Discriminator() [8]byte
	MarshalWithEncoder(enc *bin.Encoder) error
	UnmarshalWithDecoder(dec *bin.Decoder) error
}

// DecodeFunc turns raw account data into a typed record.
type DecodeFunc[T any] func(data []byte) (*T, error)

// Decode checks the discriminator before decoding the remaining bytes.
// Trailing bytes past the layout are ignored.
func Decode[T any, PT interface {
	*T
	Record
}](data []byte) (*T, error) {
	var out T
	record := PT(&out)
	want := record.Discriminator()
	name := fmt.Sprintf("%T", out)

	if len(data) < DiscriminatorLength {
		return nil, sdkerr.New(sdkerr.ErrDecode, "decode", name,
			fmt.Errorf("account data is %d bytes, shorter than discriminator", len(data)))
	}
	if !bytes.Equal(data[:DiscriminatorLength], want[:]) {
		return nil, sdkerr.New(sdkerr.ErrDecode, "decode", name,
			fmt.Errorf("discriminator mismatch: got %x want %x", data[:DiscriminatorLength], want[:]))
	}
	if err := record.UnmarshalWithDecoder(bin.NewBorshDecoder(data[DiscriminatorLength:])); err != nil {
		return nil, sdkerr.New(sdkerr.ErrDecode, "decode", name, err)
	}
	return &out, nil
}

// Encode writes the discriminator followed by the record layout.
func Encode(record Record) ([]byte, error) {
	buf := new(bytes.Buffer)
	disc := record.Discriminator()
	buf.Write(disc[:])
	if err := record.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, fmt.Errorf("encode %T: %w", record, err)
	}
	return buf.Bytes(), nil
}

func accountDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

func readPubkey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}

func writePubkey(enc *bin.Encoder, pk solana.PublicKey) error {
	return enc.WriteBytes(pk[:], false)
}

type fieldReader struct {
	dec *bin.Decoder
	err error
}

func (r *fieldReader) pubkey(dst *solana.PublicKey) {
	if r.err != nil {
		return
	}
	*dst, r.err = readPubkey(r.dec)
}

func (r *fieldReader) bool(dst *bool) {
	if r.err != nil {
		return
	}
	*dst, r.err = r.dec.ReadBool()
}

func (r *fieldReader) u8(dst *uint8) {
	if r.err != nil {
		return
	}
	*dst, r.err = r.dec.ReadUint8()
}

func (r *fieldReader) u64(dst *uint64) {
	if r.err != nil {
		return
	}
	*dst, r.err = r.dec.ReadUint64(bin.LE)
}

func (r *fieldReader) i64(dst *int64) {
	if r.err != nil {
		return
	}
	*dst, r.err = r.dec.ReadInt64(bin.LE)
}

func (r *fieldReader) u128(dst *bin.Uint128) {
	if r.err != nil {
		return
	}
	*dst, r.err = r.dec.ReadUint128(bin.LE)
}

func (r *fieldReader) i128(dst *bin.Int128) {
	if r.err != nil {
		return
	}
	*dst, r.err = r.dec.ReadInt128(bin.LE)
}

type fieldWriter struct {
	enc *bin.Encoder
	err error
}

func (w *fieldWriter) pubkey(v solana.PublicKey) {
	if w.err == nil {
		w.err = writePubkey(w.enc, v)
	}
}

func (w *fieldWriter) bool(v bool) {
	if w.err == nil {
		w.err = w.enc.WriteBool(v)
	}
}

func (w *fieldWriter) u8(v uint8) {
	if w.err == nil {
		w.err = w.enc.WriteUint8(v)
	}
}

func (w *fieldWriter) u64(v uint64) {
	if w.err == nil {
		w.err = w.enc.WriteUint64(v, bin.LE)
	}
}

func (w *fieldWriter) i64(v int64) {
	if w.err == nil {
		w.err = w.enc.WriteInt64(v, bin.LE)
	}
}

func (w *fieldWriter) u128(v bin.Uint128) {
	if w.err == nil {
		w.err = w.enc.WriteUint128(v, bin.LE)
	}
}

func (w *fieldWriter) i128(v bin.Int128) {
	if w.err == nil {
		w.err = w.enc.WriteInt128(v, bin.LE)
	}
}

func (r *fieldReader) bytes(dst []byte) {
	if r.err != nil {
		return
	}
	var raw []byte
	raw, r.err = r.dec.ReadNBytes(len(dst))
	copy(dst, raw)
}

func (w *fieldWriter) bytes(v []byte) {
	if w.err == nil {
		w.err = w.enc.WriteBytes(v, false)
	}
}
