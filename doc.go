// Package mixerv2 implements a fixed-denomination privacy mixer with a
// season-weighted staking ledger.
//
// Depositors commit MiMC(secret, nullifier) into a per-asset incremental
// merkle tree and later withdraw to any address by proving tree membership
// in zero knowledge (Groth16 over BN254), revealing only a nullifier hash
// that prevents double spends. Pool fees accrue to staking seasons and are
// settled pro rata by time-weighted stake.
//
// Layout:
//
//	internal/merkle    incremental MiMC merkle tree with bounded root history
//	internal/mixer     commitment/nullifier registries and withdrawal checks
//	internal/withdraw  the membership circuit, note format, prover, verifier
//	internal/staking   seasons, positions, and exact reward settlement
//	internal/vault     fund custody, orchestration, REST and websocket API
//	internal/store     LevelDB journal for deposits, nullifiers, snapshots
//	client             Go client covering the full deposit/prove/withdraw flow
//	cmd/mixerd         the daemon
package mixerv2
