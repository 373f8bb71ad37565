package call

// State is a call's position in its lifecycle. Transitions are validated;
// illegal edges are programming errors and are refused.
type State int

const (
	// StateInitiating: the outbound call is being placed with the carrier.
	StateInitiating State = iota

	// StateRinging: the carrier accepted the call and the callee is ringing.
	StateRinging

	// StateAnswered: the callee picked up; media has not bound yet.
	StateAnswered

	// StateReady: media is bound and transcription connected; idle between
	// turns.
	StateReady

	// StateSpeaking: agent audio is streaming to the caller.
	StateSpeaking

	// StateListening: a transcript waiter is armed for the caller's reply.
	StateListening

	// StateEnding: teardown in progress (STT, media, telephony).
	StateEnding

	// StateEnded: all resources released; the call leaves the registry.
	StateEnded
)

var stateNames = map[State]string{
	StateInitiating: "INITIATING",
	StateRinging:    "RINGING",
	StateAnswered:   "ANSWERED",
	StateReady:      "READY",
	StateSpeaking:   "SPEAKING",
	StateListening:  "LISTENING",
	StateEnding:     "ENDING",
	StateEnded:      "ENDED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// transitions is the legal edge set. Any state may additionally move to
// ENDING (hangup, fatal error, or agent end).
var transitions = map[State][]State{
	StateInitiating: {StateRinging},
	StateRinging:    {StateAnswered},
	StateAnswered:   {StateReady},
	StateReady:      {StateSpeaking},
	StateSpeaking:   {StateListening, StateReady},
	StateListening:  {StateReady},
	StateEnding:     {StateEnded},
	StateEnded:      {},
}

// ValidTransition reports whether moving from one state to another follows
// the lifecycle graph.
func ValidTransition(from, to State) bool {
	if to == StateEnding {
		return from != StateEnding && from != StateEnded
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
