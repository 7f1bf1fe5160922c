// Package workflow is the Workflow Engine: it orchestrates the borrow,
// return, and submit operations, driving the dispatcher, the operation
// registry, and the event broadcaster, and performs rollback on failure.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/poolbroker/pkg/apierr"
	"github.com/cuemby/poolbroker/pkg/broadcast"
	"github.com/cuemby/poolbroker/pkg/config"
	"github.com/cuemby/poolbroker/pkg/dispatch"
	"github.com/cuemby/poolbroker/pkg/log"
	"github.com/cuemby/poolbroker/pkg/metrics"
	"github.com/cuemby/poolbroker/pkg/operations"
	"github.com/cuemby/poolbroker/pkg/store"
)

// Engine wires together the Pool Store, Subscriber Dispatcher, Operation
// Registry, and Event Broadcaster into the borrow/return/submit workflows.
type Engine struct {
	Store      store.Store
	Dispatcher *dispatch.Dispatcher
	Registry   *operations.Registry
	Bus        *broadcast.Bus
	Config     *config.Config
}

// New builds an Engine from its collaborators.
func New(st store.Store, d *dispatch.Dispatcher, reg *operations.Registry, bus *broadcast.Bus, cfg *config.Config) *Engine {
	return &Engine{Store: st, Dispatcher: d, Registry: reg, Bus: bus, Config: cfg}
}

// BorrowResult is the synchronous response to a successful borrow.
type BorrowResult struct {
	Item        json.RawMessage `json:"item"`
	BorrowToken string          `json:"borrow_token"`
}

// Borrow runs the synchronous borrow workflow (spec §4.E.1). waitSeconds
// nil means non-blocking borrow; otherwise the engine blocks up to that
// many seconds for an item to become available.
func (e *Engine) Borrow(ctx context.Context, waitSeconds *int, params json.RawMessage) (*BorrowResult, error) {
	item, err := e.acquireItem(ctx, waitSeconds)
	if err != nil {
		return nil, err
	}

	subs := e.Config.BorrowSubscribers()
	result := e.Dispatcher.Dispatch(ctx, "borrow", subs, dispatch.Payload{Item: item, Params: params})
	if result.Failed != nil {
		// rollback: restore the item to the pool before surfacing the error
		if rerr := e.Store.ReturnItem(context.Background(), item); rerr != nil {
			log.WithComponent("workflow").Error().Err(rerr).Msg("rollback return_item failed after borrow dispatch failure")
		}
		return nil, apierr.New(apierr.SubscriberError, fmt.Sprintf("subscriber %q rejected borrow: %s", result.Failed.Name, result.Failed.Message))
	}

	token := uuid.New().String()
	if err := e.Store.RecordBorrowed(ctx, item, token); err != nil {
		if rerr := e.Store.ReturnItem(context.Background(), item); rerr != nil {
			log.WithComponent("workflow").Error().Err(rerr).Msg("rollback return_item failed after record_borrowed failure")
		}
		return nil, apierr.Wrap(apierr.StoreError, "failed to record borrowed item", err)
	}

	return &BorrowResult{Item: item, BorrowToken: token}, nil
}

func (e *Engine) acquireItem(ctx context.Context, waitSeconds *int) (json.RawMessage, error) {
	if waitSeconds == nil {
		return e.Store.Borrow(ctx)
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BorrowBlockingDuration)
	return e.Store.BorrowBlocking(ctx, time.Duration(*waitSeconds)*time.Second)
}

// Return runs the asynchronous return workflow (spec §4.E.2). It verifies
// the borrow token synchronously, then detaches to a background
// goroutine with context.Background() so client disconnect does not
// cancel the workflow.
func (e *Engine) Return(ctx context.Context, item json.RawMessage, token string) (string, error) {
	if err := e.Store.VerifyBorrowToken(ctx, item, token); err != nil {
		return "", err
	}

	id := e.startOperation(item, e.Config.ReturnSubscribers())

	// ForceReturn re-adds the item and clears its ledger entry atomically,
	// avoiding a window where the item would be both in the pool and the
	// ledger if the two mutations ran as separate, independently-failing
	// steps (invariant 1: item ∈ pool ⇔ item ∉ ledger).
	go e.runMutatingWorkflow(id, "return", item, e.Config.ReturnSubscribers(), func(bg context.Context) error {
		return e.Store.ForceReturn(bg, item)
	})

	return id, nil
}

// Submit runs the asynchronous submit workflow (spec §4.E.3): identical
// to Return but unauthenticated and using the submit subscriber group.
func (e *Engine) Submit(ctx context.Context, item json.RawMessage) (string, error) {
	id := e.startOperation(item, e.Config.SubmitSubscribers())

	go e.runMutatingWorkflow(id, "submit", item, e.Config.SubmitSubscribers(), func(bg context.Context) error {
		return e.Store.ReturnItem(bg, item)
	})

	return id, nil
}

func (e *Engine) startOperation(item json.RawMessage, subs map[string]config.SubscriberDef) string {
	id := uuid.New().String()
	names := make([]string, 0, len(subs))
	mustSucceed := mustSucceedNames(subs)
	for name := range subs {
		names = append(names, name)
	}
	e.Registry.Create(id, item, names, mustSucceed)
	e.Bus.Publish(id, broadcast.Created())
	return id
}

// runMutatingWorkflow implements the shared return/submit body: dispatch,
// then on success run commit (the store mutation), updating the
// registry and broadcasting events at each step (spec §4.E.2 step 3).
func (e *Engine) runMutatingWorkflow(id string, event string, item json.RawMessage, subs map[string]config.SubscriberDef, commit func(context.Context) error) {
	bg := context.Background()
	opLog := log.WithOperationID(id)

	result := e.Dispatcher.Dispatch(bg, event, subs, dispatch.Payload{Item: item})
	if result.Failed != nil {
		msg := fmt.Sprintf("subscriber %q failed: %s", result.Failed.Name, result.Failed.Message)
		e.Registry.Fail(id, msg)
		e.Bus.Publish(id, broadcast.FailedEvent(msg))
		opLog.Warn().Str("subscriber", result.Failed.Name).Msg("must-succeed subscriber failed, no pool mutation performed")
		return
	}

	e.Registry.SetStatus(id, operations.InProgress)
	e.Bus.Publish(id, broadcast.NotificationsOK())

	if err := commit(bg); err != nil {
		msg := err.Error()
		e.Registry.Fail(id, msg)
		e.Bus.Publish(id, broadcast.FailedEvent(msg))
		opLog.Error().Err(err).Msg("store commit failed after successful dispatch")
		return
	}

	e.Registry.Succeed(id)
	e.Bus.Publish(id, broadcast.Completed())
}

func mustSucceedNames(subs map[string]config.SubscriberDef) []string {
	var names []string
	for name, def := range subs {
		if def.MustSucceed {
			names = append(names, name)
		}
	}
	return names
}
