package services

import (
	"fmt"
	"strings"

	domain "github.com/salles-management/api/internal/domain"
)

// LifecycleEvent names a request to move an order between statuses.
type LifecycleEvent string

const (
	EventConfirm  LifecycleEvent = "confirm"
	EventProcess  LifecycleEvent = "process"
	EventReady    LifecycleEvent = "ready"
	EventComplete LifecycleEvent = "complete"
	EventCancel   LifecycleEvent = "cancel"
	EventReject   LifecycleEvent = "reject"
)

// ParseLifecycleEvent validates a textual event name.
func ParseLifecycleEvent(raw string) (LifecycleEvent, bool) {
	event := LifecycleEvent(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := eventRoles[event]; !ok {
		return "", false
	}
	return event, true
}

type transitionEffect uint8

const (
	effectAssignActor transitionEffect = 1 << iota
	effectRecordPickup
	effectCompensate
	effectRejectNote
	effectCancelReason
)

func (e transitionEffect) has(flag transitionEffect) bool {
	return e&flag != 0
}

type transitionKey struct {
	from  OrderStatus
	event LifecycleEvent
	role  Role
}

type transitionOutcome struct {
	to        OrderStatus
	saleTypes []SaleType
	effects   transitionEffect
}

type transitionRule struct {
	event     LifecycleEvent
	from      []OrderStatus
	roles     []Role
	to        OrderStatus
	saleTypes []SaleType
	ownerOnly bool
	effects   transitionEffect
}

var (
	staffRoles    = []Role{domain.RoleAdmin, domain.RoleVendor}
	customerRoles = []Role{domain.RoleCustomer}
	onlineOnly    = []SaleType{domain.SaleTypeOnline}
	anySaleType   = []SaleType{domain.SaleTypeOnline, domain.SaleTypeInStore}
	nonTerminal   = []OrderStatus{
		domain.OrderStatusCreated,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPendingPickup,
		domain.OrderStatusReadyPickup,
	}
)

var transitionRules = []transitionRule{
	{
		event:     EventConfirm,
		from:      []OrderStatus{domain.OrderStatusCreated, domain.OrderStatusPendingPickup},
		roles:     staffRoles,
		to:        domain.OrderStatusConfirmed,
		saleTypes: onlineOnly,
		effects:   effectAssignActor,
	},
	{
		event:     EventProcess,
		from:      []OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusCreated, domain.OrderStatusPendingPickup},
		roles:     staffRoles,
		to:        domain.OrderStatusPendingPickup,
		saleTypes: onlineOnly,
		effects:   effectAssignActor,
	},
	{
		event:     EventReady,
		from:      []OrderStatus{domain.OrderStatusPendingPickup, domain.OrderStatusConfirmed, domain.OrderStatusCreated},
		roles:     staffRoles,
		to:        domain.OrderStatusReadyPickup,
		saleTypes: onlineOnly,
		effects:   effectAssignActor,
	},
	{
		event:     EventComplete,
		from:      []OrderStatus{domain.OrderStatusReadyPickup},
		roles:     staffRoles,
		to:        domain.OrderStatusCompleted,
		saleTypes: onlineOnly,
		effects:   effectAssignActor | effectRecordPickup,
	},
	{
		event:     EventCancel,
		from:      nonTerminal,
		roles:     customerRoles,
		to:        domain.OrderStatusCancelled,
		saleTypes: onlineOnly,
		ownerOnly: true,
		effects:   effectCompensate | effectCancelReason,
	},
	{
		event:     EventReject,
		from:      nonTerminal,
		roles:     staffRoles,
		to:        domain.OrderStatusCancelled,
		saleTypes: anySaleType,
		effects:   effectAssignActor | effectCompensate | effectRejectNote | effectCancelReason,
	},
}

// eventPolicy summarises who may ever request an event, independent of the order's status.
type eventPolicy struct {
	roles     map[Role]struct{}
	ownerOnly bool
}

var transitionTable, eventRoles = buildTransitionTable(transitionRules)

func buildTransitionTable(rules []transitionRule) (map[transitionKey]transitionOutcome, map[LifecycleEvent]*eventPolicy) {
	table := make(map[transitionKey]transitionOutcome)
	policies := make(map[LifecycleEvent]*eventPolicy)
	for _, rule := range rules {
		policy := policies[rule.event]
		if policy == nil {
			policy = &eventPolicy{roles: make(map[Role]struct{})}
			policies[rule.event] = policy
		}
		policy.ownerOnly = policy.ownerOnly || rule.ownerOnly
		for _, role := range rule.roles {
			policy.roles[role] = struct{}{}
			for _, from := range rule.from {
				key := transitionKey{from: from, event: rule.event, role: role}
				if _, dup := table[key]; dup {
					panic(fmt.Sprintf("duplicate transition %s/%s/%s", from, rule.event, role))
				}
				table[key] = transitionOutcome{
					to:        rule.to,
					saleTypes: rule.saleTypes,
					effects:   rule.effects,
				}
			}
		}
	}
	return table, policies
}

// resolveTransition looks the event up for the order's current status and the actor's role.
// Role and ownership are checked before status.
func resolveTransition(order Order, event LifecycleEvent, actor Actor) (transitionOutcome, error) {
	policy, known := eventRoles[event]
	if !known {
		return transitionOutcome{}, fmt.Errorf("%w: unknown event %q", ErrInvalidInput, event)
	}
	if _, ok := policy.roles[actor.Role]; !ok {
		return transitionOutcome{}, fmt.Errorf("%w: role %q cannot %s orders", ErrForbidden, actor.Role, event)
	}
	if policy.ownerOnly && order.CustomerID != actor.ID {
		return transitionOutcome{}, fmt.Errorf("%w: order does not belong to the caller", ErrForbidden)
	}

	outcome, ok := transitionTable[transitionKey{from: order.Status, event: event, role: actor.Role}]
	if !ok {
		switch order.Status {
		case domain.OrderStatusCompleted, domain.OrderStatusCancelled:
			return transitionOutcome{}, fmt.Errorf("%w: cannot %s a %s order", ErrInvalidTransition, event, strings.ToLower(string(order.Status)))
		}
		return transitionOutcome{}, fmt.Errorf("%w: cannot %s order in status %s", ErrInvalidTransition, event, order.Status)
	}
	if !containsSaleType(outcome.saleTypes, order.SaleType) {
		return transitionOutcome{}, fmt.Errorf("%w: cannot %s a %s order", ErrInvalidTransition, event, order.SaleType)
	}
	return outcome, nil
}

func containsSaleType(types []SaleType, target SaleType) bool {
	for _, t := range types {
		if t == target {
			return true
		}
	}
	return false
}
