// Package session enforces plan ownership and the one-active-plan-per-
// session rule on behalf of the service layer.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/planvault/internal/audit"
	"github.com/basket/planvault/internal/planstore"
	"github.com/basket/planvault/internal/shared"
)

// Guard authorizes session access to plans. It fails closed: a missing
// plan and a foreign plan both deny.
type Guard struct {
	store  *planstore.Store
	logger *slog.Logger
}

func NewGuard(store *planstore.Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, logger: logger}
}

// AuthorizeAccess verifies that sessionID owns planID. Returns the
// typed not-found error when the plan does not exist and a
// *planstore.SessionMismatchError when another session owns it.
func (g *Guard) AuthorizeAccess(ctx context.Context, sessionID string, planID int64) error {
	if strings.TrimSpace(sessionID) == "" {
		return &planstore.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	plan, err := g.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.SessionID != sessionID {
		audit.Record(audit.DecisionDeny, "authorize_access",
			"session does not own plan",
			fmt.Sprintf("session=%s plan=%d", sessionID, planID),
			shared.TraceID(ctx))
		g.logger.Warn("session denied access to plan",
			"session_id", sessionID, "plan_id", planID)
		return &planstore.SessionMismatchError{SessionID: sessionID, PlanID: planID}
	}
	return nil
}

// AuthorizeActivation is the fast-path check that sessionID holds no
// active plan. The partial unique index in the store is the actual
// correctness mechanism under concurrent activations; this check exists
// to fail with a clear error before paying for a transaction.
func (g *Guard) AuthorizeActivation(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &planstore.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	activeID, err := g.store.FindActivePlanID(ctx, sessionID)
	if err != nil {
		return err
	}
	if activeID != 0 {
		audit.Record(audit.DecisionDeny, "authorize_activation",
			"session already has an active plan",
			fmt.Sprintf("session=%s active_plan=%d", sessionID, activeID),
			shared.TraceID(ctx))
		return &planstore.ActivePlanConflictError{SessionID: sessionID, ActivePlanID: activeID}
	}
	return nil
}
