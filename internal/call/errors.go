package call

import "errors"

// Sentinel errors surfaced to the agent or driving the state machine. Agent
// operations wrap these so callers can errors.Is against them.
var (
	// ErrCallBusy means another agent operation is in flight on the call.
	ErrCallBusy = errors.New("call is busy with another operation")

	// ErrCallNotFound means no registered call matches the given id.
	ErrCallNotFound = errors.New("call not found")

	// ErrCallEnded means the call has ended and accepts no further turns.
	ErrCallEnded = errors.New("call has ended")

	// ErrCancelled is delivered to waiters when the call is ending.
	ErrCancelled = errors.New("operation cancelled: call is ending")

	// ErrCarrierRejected means placeCall failed; terminal for the attempt.
	ErrCarrierRejected = errors.New("carrier rejected the call")

	// ErrMediaTimeout means the carrier never opened the media stream after
	// the call was answered.
	ErrMediaTimeout = errors.New("media stream did not connect in time")

	// ErrTTSFailed means synthesis failed for the current turn. Recoverable:
	// the call stays ready and the agent may retry.
	ErrTTSFailed = errors.New("speech synthesis failed")

	// ErrSTTUnavailable means transcription reconnects were exhausted.
	// Terminal for the call.
	ErrSTTUnavailable = errors.New("transcription unavailable")

	// ErrTranscriptTimeout means the listener elapsed without a complete
	// utterance. Recoverable: the call stays ready.
	ErrTranscriptTimeout = errors.New("no transcript before timeout")
)
