package ir

import "strings"

// ActionKind identifies an effect applied when a rule fires.
type ActionKind string

const (
	ActionBind   ActionKind = "bind"   // ?target = value, or ?target = left op right
	ActionSet    ActionKind = "set"    // object.attr = value
	ActionRemove ActionKind = "remove" // remove object.attr
	ActionCreate ActionKind = "create" // ?target = new object
	ActionDelete ActionKind = "delete" // delete object
	ActionTuple  ActionKind = "tuple"  // ?target = (items...)
	ActionRoot   ActionKind = "root"   // pin object as a GC root
	ActionUnroot ActionKind = "unroot" // unpin object
)

// Action is one effect of a rule. Actions run in declaration order inside the
// cycle's transaction; a variable bound by one action is visible to the next.
type Action struct {
	Kind ActionKind

	Target Var
	Object Term
	Attr   Symbol

	// Value is the assigned term; with Arith set it is the left operand.
	Value Term
	Arith ArithOp
	Right Term

	Items []Term
}

// BindAction builds ?target = value.
func BindAction(target string, value Term) Action {
	return Action{Kind: ActionBind, Target: Var(target), Value: value}
}

// BindCalcAction builds ?target = left op right.
func BindCalcAction(target string, left Term, op ArithOp, right Term) Action {
	return Action{Kind: ActionBind, Target: Var(target), Value: left, Arith: op, Right: right}
}

// SetAction builds obj.attr = value.
func SetAction(obj Term, attr string, value Term) Action {
	return Action{Kind: ActionSet, Object: obj, Attr: Intern(attr), Value: value}
}

// RemoveAction builds remove obj.attr.
func RemoveAction(obj Term, attr string) Action {
	return Action{Kind: ActionRemove, Object: obj, Attr: Intern(attr)}
}

// CreateAction builds ?target = new object.
func CreateAction(target string) Action {
	return Action{Kind: ActionCreate, Target: Var(target)}
}

// DeleteAction builds delete obj.
func DeleteAction(obj Term) Action {
	return Action{Kind: ActionDelete, Object: obj}
}

// TupleAction builds ?target = (items...).
func TupleAction(target string, items ...Term) Action {
	return Action{Kind: ActionTuple, Target: Var(target), Items: items}
}

// RootAction builds root obj.
func RootAction(obj Term) Action {
	return Action{Kind: ActionRoot, Object: obj}
}

// UnrootAction builds unroot obj.
func UnrootAction(obj Term) Action {
	return Action{Kind: ActionUnroot, Object: obj}
}

// Reads returns the terms the action evaluates.
func (a Action) Reads() []Term {
	switch a.Kind {
	case ActionBind:
		if a.Arith != "" {
			return []Term{a.Value, a.Right}
		}
		return []Term{a.Value}
	case ActionSet:
		return []Term{a.Object, a.Value}
	case ActionRemove, ActionDelete, ActionRoot, ActionUnroot:
		return []Term{a.Object}
	case ActionTuple:
		return a.Items
	default:
		return nil
	}
}

// Binds returns the variable the action binds, if any.
func (a Action) Binds() (Var, bool) {
	switch a.Kind {
	case ActionBind, ActionCreate, ActionTuple:
		return a.Target, true
	default:
		return "", false
	}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionBind:
		if a.Arith != "" {
			return a.Target.String() + " = " + a.Value.String() + " " + string(a.Arith) + " " + a.Right.String()
		}
		return a.Target.String() + " = " + a.Value.String()
	case ActionSet:
		return "set " + a.Object.String() + "." + a.Attr.Name() + " = " + a.Value.String()
	case ActionRemove:
		return "remove " + a.Object.String() + "." + a.Attr.Name()
	case ActionCreate:
		return a.Target.String() + " = new"
	case ActionDelete:
		return "delete " + a.Object.String()
	case ActionTuple:
		items := make([]string, len(a.Items))
		for i, t := range a.Items {
			items[i] = t.String()
		}
		return a.Target.String() + " = (" + strings.Join(items, ", ") + ")"
	case ActionRoot:
		return "root " + a.Object.String()
	case ActionUnroot:
		return "unroot " + a.Object.String()
	default:
		return string(a.Kind)
	}
}
