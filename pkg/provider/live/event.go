package live

// Kind discriminates the variants of [Event].
type Kind int

const (
	// KindAudio carries a base64 PCM16 chunk of model speech in Event.Audio.
	KindAudio Kind = iota + 1

	// KindInputTranscript carries a fragment of the user's recognised speech.
	KindInputTranscript

	// KindOutputTranscript carries a fragment of the model's spoken text.
	KindOutputTranscript

	// KindTurnComplete marks the end of a model turn.
	KindTurnComplete

	// KindInterrupted reports that the user barged in and the model stopped.
	KindInterrupted

	// KindClosed is the terminal event of a cleanly closed session.
	KindClosed

	// KindError is the terminal event of a failed session; Event.Err is set.
	KindError
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindInputTranscript:
		return "input_transcript"
	case KindOutputTranscript:
		return "output_transcript"
	case KindTurnComplete:
		return "turn_complete"
	case KindInterrupted:
		return "interrupted"
	case KindClosed:
		return "closed"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether k ends the event stream.
func (k Kind) Terminal() bool {
	return k == KindClosed || k == KindError
}

// Event is one inbound message from a live session.
type Event struct {
	Kind Kind

	// Audio is the base64 PCM16 payload of a KindAudio event.
	Audio string

	// SampleRate of the KindAudio payload in Hz; 0 if the service did not say.
	SampleRate int

	// Text is the transcript fragment of a transcript event.
	Text string

	// Err is the cause of a KindError event.
	Err error
}

// State is the connection state of a [Session].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
