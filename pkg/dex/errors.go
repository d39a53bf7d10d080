package dex

import "errors"

var (
	// ErrInvalidOrder marks synchronous validation rejections. The caller
	// can correct the order and resubmit; no state was touched.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrUnknownPair means no book exists for the requested pair.
	ErrUnknownPair = errors.New("unknown pair")

	// ErrNoLiquidity is returned for a MARKET order when the opposite side
	// is empty. A market order has no price to rest at.
	ErrNoLiquidity = errors.New("no opposite-side liquidity")

	// ErrInvalidState marks structural corruption of a book (overfill,
	// broken sort invariant). The affected pair is taken offline.
	ErrInvalidState = errors.New("invalid book state")

	// ErrBookOffline means the pair's book was taken offline after a
	// detected ErrInvalidState and no longer accepts operations.
	ErrBookOffline = errors.New("book offline")

	// ErrInsufficientBalance is the wallet collaborator's lock failure.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
