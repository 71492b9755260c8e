package engine

import (
	"fmt"

	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
)

// applier runs a rule's actions against one environment inside a cycle's
// transaction. Variables bound by an action are visible to later actions.
type applier struct {
	txn *space.Txn

	// tuples created by effects; their holds are dropped after commit.
	tuples []*ir.Tuple
}

// apply runs every action of rule in declaration order, extending env.
func (a *applier) apply(rule *ir.Rule, env ir.Bindings) error {
	for i, act := range rule.Actions {
		if err := a.action(act, env); err != nil {
			return fmt.Errorf("then[%d] %s: %w", i, act.Kind, err)
		}
	}
	return nil
}

func (a *applier) action(act ir.Action, env ir.Bindings) error {
	switch act.Kind {
	case ir.ActionBind:
		v, err := value(act.Value, env)
		if err != nil {
			return err
		}
		if act.Arith != "" {
			right, err := value(act.Right, env)
			if err != nil {
				return err
			}
			if v, err = ir.Arith(act.Arith, v, right); err != nil {
				return err
			}
		}
		env[act.Target] = v
		return nil

	case ir.ActionSet:
		ref, err := object(act.Object, env)
		if err != nil {
			return err
		}
		v, err := value(act.Value, env)
		if err != nil {
			return err
		}
		return a.txn.SetAttribute(ref, act.Attr, v)

	case ir.ActionRemove:
		ref, err := object(act.Object, env)
		if err != nil {
			return err
		}
		return a.txn.RemoveAttribute(ref, act.Attr)

	case ir.ActionCreate:
		ref, err := a.txn.CreateObject()
		if err != nil {
			return err
		}
		env[act.Target] = ref
		return nil

	case ir.ActionDelete:
		ref, err := object(act.Object, env)
		if err != nil {
			return err
		}
		return a.txn.DeleteObject(ref)

	case ir.ActionTuple:
		values := make([]ir.Value, len(act.Items))
		for i, item := range act.Items {
			v, err := value(item, env)
			if err != nil {
				return err
			}
			values[i] = v
		}
		tup, err := a.txn.CreateTuple(values...)
		if err != nil {
			return err
		}
		a.tuples = append(a.tuples, tup)
		env[act.Target] = tup
		return nil

	case ir.ActionRoot:
		ref, err := object(act.Object, env)
		if err != nil {
			return err
		}
		return a.txn.AddRoot(ref)

	case ir.ActionUnroot:
		ref, err := object(act.Object, env)
		if err != nil {
			return err
		}
		return a.txn.RemoveRoot(ref)

	default:
		return ir.NewInvalidRuleError("unknown action kind %q", act.Kind)
	}
}

// value evaluates an action operand. Effects never see wildcards or unbound
// variables in a validated rule.
func value(t ir.Term, env ir.Bindings) (ir.Value, error) {
	switch t.Kind {
	case ir.TermConst:
		return t.Value, nil
	case ir.TermVar:
		v, ok := env[t.Var]
		if !ok {
			return nil, ir.NewInvalidRuleError("variable %s is unbound", t.Var)
		}
		return v, nil
	default:
		return nil, ir.NewInvalidRuleError("wildcard has no value")
	}
}

// object evaluates an operand that must name an object.
func object(t ir.Term, env ir.Bindings) (ir.ObjectRef, error) {
	v, err := value(t, env)
	if err != nil {
		return ir.ObjectRef{}, err
	}
	ref, ok := v.(ir.ObjectRef)
	if !ok {
		return ir.ObjectRef{}, ir.NewTypeMismatchError("object operand", v, nil)
	}
	return ref, nil
}
