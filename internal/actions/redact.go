package actions

// publicStatus maps the authenticated status onto the public one: a private
// session looks closed from outside.
func publicStatus(s Status) Status {
	if s == StatusPrivate {
		return StatusClosed
	}
	return s
}

// PublicStatus is the exported mapping used by read paths and sinks.
func PublicStatus(s Status) Status {
	return publicStatus(s)
}

// Redact transforms an action into its public-safe form. The id and every
// user reference are stripped, notes survive only on public announcements,
// and private status maps to closed. Non-public announcements carry nothing
// that may be shown; for those ok is false and the action must be dropped.
//
// Redact is pure and idempotent; it is the only visibility transform in the
// codebase and every public read path goes through it.
func Redact(a Action) (Action, bool) {
	switch a.Type {
	case TypeStatus:
		return Action{
			Time:   a.Time,
			Type:   TypeStatus,
			Status: publicStatus(a.Status),
		}, true
	case TypeAnnouncement:
		if a.Public == nil || !*a.Public {
			return Action{}, false
		}
		public := true
		return Action{
			Time:   a.Time,
			Type:   TypeAnnouncement,
			Note:   a.Note,
			Method: a.Method,
			AID:    a.AID,
			From:   a.From,
			To:     a.To,
			Public: &public,
		}, true
	case TypePresence:
		return Action{
			Time: a.Time,
			Type: TypePresence,
		}, true
	default:
		return Action{}, false
	}
}

// RedactAll filters and redacts a result set for the public surface.
func RedactAll(in []Action) []Action {
	out := make([]Action, 0, len(in))
	for _, a := range in {
		if redacted, ok := Redact(a); ok {
			out = append(out, redacted)
		}
	}
	return out
}
