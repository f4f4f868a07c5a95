package coordinator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

// NonceManager hands out consecutive transaction nonces for one
// (chain, signer) pair. Its record in the coordinator store is:
//
//	{
//	  "next_nonce": N,
//	  "dropped_nonces": [..],             // reclaimable, FIFO
//	  "pending": { step-id: {"nonce": n, "block_added": b} },
//	  "block_at_last_confirmed_nonce": B
//	}
//
// Every operation is a single conditional update; concurrent workers
// contend via condition failure and re-read.
type NonceManager struct {
	store  Store
	chain  chain.ID
	signer string
}

// NewNonceManager creates a manager for one (chain, signer) pair.
func NewNonceManager(store Store, chainID chain.ID, signer chain.Address) *NonceManager {
	return &NonceManager{
		store:  store,
		chain:  chainID,
		signer: strings.ToLower(signer.String()),
	}
}

func (m *NonceManager) key() string {
	return fmt.Sprintf("nonce/%d/%s", m.chain, m.signer)
}

func stepAttr(stepID chain.StepID) string {
	return hex.EncodeToString(stepID[:])
}

// Acquire returns the nonce assigned to the step, allocating one if
// needed. curBlock and systemNonce come from the chain adapter; the system
// nonce is only consulted on a cold start. The cases are tried roughly
// most-likely-first; each is individually atomic, and if a concurrent
// update invalidates all of them the caller re-reads and retries.
func (m *NonceManager) Acquire(ctx context.Context, stepID chain.StepID, curBlock, systemNonce uint64) (uint64, error) {
	if nonce, err := m.attemptColdStart(ctx, stepID, curBlock, systemNonce); err == nil {
		return nonce, nil
	} else if !errors.Is(err, ErrConditionFailed) {
		return 0, err
	}
	if nonce, err := m.attemptNext(ctx, stepID, curBlock); err == nil {
		return nonce, nil
	} else if !errors.Is(err, ErrConditionFailed) {
		return 0, err
	}
	if nonce, err := m.Existing(ctx, stepID); err == nil {
		return nonce, nil
	} else if !errors.Is(err, ErrConditionFailed) {
		return 0, err
	}
	if nonce, err := m.attemptReclaim(ctx, stepID, curBlock); err == nil {
		return nonce, nil
	} else if !errors.Is(err, ErrConditionFailed) {
		return 0, err
	}
	// Possible when concurrent finalizes/drops shift the record between
	// attempts; the next driver iteration simply tries again.
	return 0, xerrors.New(xerrors.CodeConditionFailed, "no nonce case applied")
}

// attemptColdStart is case 1: the pending map is empty, so the record is
// (re)initialised from the on-chain account nonce.
func (m *NonceManager) attemptColdStart(ctx context.Context, stepID chain.StepID, curBlock, systemNonce uint64) (uint64, error) {
	attr := stepAttr(stepID)
	_, err := m.store.ConditionalUpdate(ctx, m.key(),
		[]Condition{
			{Op: CondSizeEq, Path: []string{"pending"}, Value: 0},
		},
		[]Mutation{
			{Op: MutSet, Path: []string{"block_at_last_confirmed_nonce"}, Value: curBlock},
			{Op: MutSet, Path: []string{"dropped_nonces"}, Value: []any{}},
			{Op: MutSet, Path: []string{"pending"}, Value: map[string]any{
				attr: map[string]any{"nonce": systemNonce, "block_added": curBlock},
			}},
			{Op: MutSet, Path: []string{"next_nonce"}, Value: systemNonce + 1},
		},
	)
	if err != nil {
		return 0, err
	}
	return systemNonce, nil
}

// attemptNext is case 2: no assignment for this step, nothing to reclaim,
// other transactions pending; take next_nonce and advance it.
func (m *NonceManager) attemptNext(ctx context.Context, stepID chain.StepID, curBlock uint64) (uint64, error) {
	attr := stepAttr(stepID)
	doc, err := m.store.ConditionalUpdate(ctx, m.key(),
		[]Condition{
			{Op: CondNotExists, Path: []string{"pending", attr}},
			{Op: CondSizeEq, Path: []string{"dropped_nonces"}, Value: 0},
			{Op: CondSizeGt, Path: []string{"pending"}, Value: 0},
		},
		[]Mutation{
			{Op: MutSet, Path: []string{"pending", attr, "block_added"}, Value: curBlock},
			{Op: MutSetFromPath, Path: []string{"pending", attr, "nonce"}, From: []string{"next_nonce"}},
			{Op: MutIncr, Path: []string{"next_nonce"}, Value: 1},
		},
	)
	if err != nil {
		return 0, err
	}
	nonce, ok := NumberAt(doc, "pending", attr, "nonce")
	if !ok {
		return 0, xerrors.New(xerrors.CodeStorageFailure, "nonce missing after assignment")
	}
	return nonce, nil
}

// Existing is case 3: the step already holds an assignment; read it back.
// Returns ErrConditionFailed when no assignment exists.
func (m *NonceManager) Existing(ctx context.Context, stepID chain.StepID) (uint64, error) {
	doc, err := m.store.Get(ctx, m.key())
	if err != nil {
		return 0, err
	}
	nonce, ok := NumberAt(doc, "pending", stepAttr(stepID), "nonce")
	if !ok {
		return 0, ErrConditionFailed
	}
	return nonce, nil
}

// attemptReclaim is case 4: reuse the oldest dropped nonce. Reclamation is
// FIFO; the head of dropped_nonces goes first so no nonce is skipped.
func (m *NonceManager) attemptReclaim(ctx context.Context, stepID chain.StepID, curBlock uint64) (uint64, error) {
	attr := stepAttr(stepID)
	doc, err := m.store.ConditionalUpdate(ctx, m.key(),
		[]Condition{
			{Op: CondNotExists, Path: []string{"pending", attr}},
			{Op: CondSizeGt, Path: []string{"dropped_nonces"}, Value: 0},
			{Op: CondSizeGt, Path: []string{"pending"}, Value: 0},
		},
		[]Mutation{
			{Op: MutSet, Path: []string{"pending", attr, "block_added"}, Value: curBlock},
			{Op: MutSetFromHead, Path: []string{"pending", attr, "nonce"}, From: []string{"dropped_nonces"}},
			{Op: MutPopHead, Path: []string{"dropped_nonces"}},
		},
	)
	if err != nil {
		return 0, err
	}
	nonce, ok := NumberAt(doc, "pending", attr, "nonce")
	if !ok {
		return 0, xerrors.New(xerrors.CodeStorageFailure, "nonce missing after reclaim")
	}
	return nonce, nil
}

// Finalize releases the step's assignment after its transaction reached a
// finalized block. Unconditional and idempotent: a second call finds the
// pending entry already gone and changes nothing else of consequence.
func (m *NonceManager) Finalize(ctx context.Context, stepID chain.StepID, curBlock uint64) error {
	_, err := m.store.ConditionalUpdate(ctx, m.key(),
		nil,
		[]Mutation{
			{Op: MutSet, Path: []string{"block_at_last_confirmed_nonce"}, Value: curBlock},
			{Op: MutRemove, Path: []string{"pending", stepAttr(stepID)}},
		},
	)
	return err
}

// Drop moves the step's nonce to the reclaim list after its transaction
// was observed dropped. A condition failure means the entry was already
// finalized or dropped by another worker, which is fine.
func (m *NonceManager) Drop(ctx context.Context, stepID chain.StepID) error {
	attr := stepAttr(stepID)
	_, err := m.store.ConditionalUpdate(ctx, m.key(),
		[]Condition{
			{Op: CondExists, Path: []string{"pending", attr}},
		},
		[]Mutation{
			{Op: MutListAppend, Path: []string{"dropped_nonces"}, From: []string{"pending", attr, "nonce"}},
			{Op: MutRemove, Path: []string{"pending", attr}},
		},
	)
	if errors.Is(err, ErrConditionFailed) {
		return nil
	}
	return err
}
