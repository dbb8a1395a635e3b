package palm

import (
	"context"
	"fmt"
)

// ConfirmationRequest describes a partial regeneration awaiting approval:
// some models of the batch carry caller-supplied instances and the rest
// would be regenerated by the engine's after-translation hook.
type ConfirmationRequest struct {
	Engine     string
	Connection string
	// Regenerate lists the models without a supplied instance.
	Regenerate []string
	Total      int
}

// ConfirmationPolicy decides whether a partial regeneration may proceed.
// Approval triggers one forced pass that regenerates every model.
type ConfirmationPolicy interface {
	Confirm(ctx context.Context, req ConfirmationRequest) (bool, error)
}

// ConfirmFunc adapts a function to ConfirmationPolicy.
type ConfirmFunc func(ctx context.Context, req ConfirmationRequest) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, req ConfirmationRequest) (bool, error) {
	return f(ctx, req)
}

// Built-in policies.
var (
	AutoApprove ConfirmationPolicy = ConfirmFunc(func(context.Context, ConfirmationRequest) (bool, error) {
		return true, nil
	})
	AutoDeny ConfirmationPolicy = ConfirmFunc(func(context.Context, ConfirmationRequest) (bool, error) {
		return false, nil
	})
)

// Confirmation modes accepted by ConfirmationFor.
const (
	ConfirmApprove = "approve"
	ConfirmDeny    = "deny"
	ConfirmAsk     = "ask"
)

// ConfirmationFor returns the non-interactive policy for a configured mode.
// ConfirmAsk needs a terminal and is resolved by the caller.
func ConfirmationFor(mode string) (ConfirmationPolicy, error) { //nolint:ireturn
	switch mode {
	case ConfirmApprove:
		return AutoApprove, nil
	case "", ConfirmDeny:
		return AutoDeny, nil
	default:
		return nil, fmt.Errorf("palm: unsupported confirmation mode %q", mode)
	}
}
