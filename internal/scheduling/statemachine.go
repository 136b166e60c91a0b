package scheduling

import "slices"

type transition struct {
	from AppointmentStatus
	to   AppointmentStatus
}

type edge struct {
	roles          []Role
	requiresReason bool
	releases       bool
}

var transitions = map[transition]edge{
	{StatusPending, StatusConfirmed}:   {roles: []Role{RoleStaff, RoleSystem}},
	{StatusPending, StatusCancelled}:   {roles: []Role{RoleStaff, RolePatient, RoleSystem}, requiresReason: true, releases: true},
	{StatusConfirmed, StatusCancelled}: {roles: []Role{RoleStaff, RoleSystem}, requiresReason: true, releases: true},
	{StatusConfirmed, StatusCompleted}: {roles: []Role{RoleStaff, RoleSystem}},
}

// pendingCompletion is only reachable when the machine is not strict.
var pendingCompletion = edge{roles: []Role{RoleStaff, RoleSystem}}

// StateMachine holds the appointment transition rules.
type StateMachine struct {
	allowPendingCompletion bool
}

func NewStateMachine(allowPendingCompletion bool) StateMachine {
	return StateMachine{allowPendingCompletion: allowPendingCompletion}
}

func (m StateMachine) lookup(from, to AppointmentStatus) (edge, bool) {
	if e, ok := transitions[transition{from, to}]; ok {
		return e, true
	}
	if m.allowPendingCompletion && from == StatusPending && to == StatusCompleted {
		return pendingCompletion, true
	}
	return edge{}, false
}

// CanTransition reports whether from -> to is an edge of the graph, ignoring roles.
func (m StateMachine) CanTransition(from, to AppointmentStatus) bool {
	_, ok := m.lookup(from, to)
	return ok
}

// Plan validates a requested change against the appointment's current state
// and returns whether the change releases ledger capacity.
func (m StateMachine) Plan(appt *Appointment, to AppointmentStatus, caller Caller, cancelReason string) (releases bool, err error) {
	e, ok := m.lookup(appt.Status, to)
	if !ok {
		return false, &InvalidTransitionError{AppointmentID: appt.ID, Current: appt.Status, Requested: to}
	}
	if !slices.Contains(e.roles, caller.Role) {
		return false, &InvalidTransitionError{
			AppointmentID: appt.ID,
			Current:       appt.Status,
			Requested:     to,
			Detail:        "not permitted for role " + string(caller.Role),
		}
	}
	if e.requiresReason && cancelReason == "" {
		return false, &ValidationError{Field: "cancel_reason", Message: "a reason is required to cancel"}
	}
	return e.releases, nil
}
