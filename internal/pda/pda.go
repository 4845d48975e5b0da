package pda

import (
	"fmt"
	"math"

	"github.com/coldbell/clearinghouse/internal/sdkerr"
	"github.com/gagliardetto/solana-go"
)

const (
	stateSeed           = "clearing_house"
	collateralVaultSeed = "collateral_vault"
	insuranceVaultSeed  = "insurance_vault"
	userSeed            = "user"
)

var createAddress = solana.CreateProgramAddress

// Derive searches nonces from 255 down to 0 and returns the first candidate
// that falls off the ed25519 curve.
func Derive(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	// one slot is reserved for the nonce
	if len(seeds) > solana.MaxSeeds-1 {
		return solana.PublicKey{}, 0, sdkerr.New(sdkerr.ErrInvalidSeeds, "derive address", programID.String(),
			fmt.Errorf("%d seeds exceeds limit of %d", len(seeds), solana.MaxSeeds-1))
	}
	for i, seed := range seeds {
		if len(seed) > solana.MaxSeedLength {
			return solana.PublicKey{}, 0, sdkerr.New(sdkerr.ErrInvalidSeeds, "derive address", programID.String(),
				fmt.Errorf("seed %d is %d bytes, limit is %d", i, len(seed), solana.MaxSeedLength))
		}
	}

	candidateSeeds := make([][]byte, len(seeds)+1)
	copy(candidateSeeds, seeds)
	for nonce := math.MaxUint8; nonce >= 0; nonce-- {
		candidateSeeds[len(seeds)] = []byte{uint8(nonce)}
		address, err := createAddress(candidateSeeds, programID)
		if err == nil {
			return address, uint8(nonce), nil
		}
	}
	return solana.PublicKey{}, 0, sdkerr.New(sdkerr.ErrDerivationExhausted, "derive address", programID.String(), nil)
}

func DeriveStatePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{[]byte(stateSeed)}, programID)
}

func DeriveCollateralVaultPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{[]byte(collateralVaultSeed)}, programID)
}

func DeriveCollateralVaultAuthorityPDA(programID, collateralVault solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{collateralVault.Bytes()}, programID)
}

func DeriveInsuranceVaultPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{[]byte(insuranceVaultSeed)}, programID)
}

func DeriveInsuranceVaultAuthorityPDA(programID, insuranceVault solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{insuranceVault.Bytes()}, programID)
}

func DeriveUserPDA(programID, authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return Derive([][]byte{[]byte(userSeed), authority.Bytes()}, programID)
}
