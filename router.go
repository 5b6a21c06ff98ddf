package main

// Audience is where a message goes, decided purely from the message kind,
// the sender's role, and the session phase.
type Audience int

const (
	// AudienceNone drops the message silently: no session yet, or the event
	// fell outside an active window.
	AudienceNone Audience = iota
	// AudienceRoom delivers to every room member except the sender, who gets
	// a local confirmation instead.
	AudienceRoom
	// AudienceMafia delivers to the mafia sub-group only.
	AudienceMafia
	// AudienceRejected delivers nothing and sends the sender an explicit
	// rejection notice.
	AudienceRejected
)

const (
	kindChat = "chat"
	kindVote = "vote"
)

// routeAudience is the phase-gated routing table. Chat before a session
// exists is open-lobby chat and goes to the whole room; at night both chat
// and votes are restricted to mafia senders, and non-mafia senders are
// rejected outright. Votes outside a voting window are silently ignored.
func routeAudience(kind string, senderRole Role, phase Phase, hasSession bool) Audience {
	switch kind {
	case kindChat:
		if !hasSession || phase.IsDay {
			return AudienceRoom
		}

		if senderRole == RoleMafia {
			return AudienceMafia
		}

		return AudienceRejected
	case kindVote:
		if !hasSession || !phase.IsVoting {
			return AudienceNone
		}

		if phase.IsDay {
			return AudienceRoom
		}

		if senderRole == RoleMafia {
			return AudienceMafia
		}

		return AudienceRejected
	}

	return AudienceNone
}
