package verifier

import "errors"

// Kind tags a verification outcome. Exactly one kind applies per call.
type Kind string

const (
	KindVerified       Kind = "verified"
	KindLivenessFailed Kind = "liveness_failed"
	KindNotRecognized  Kind = "not_recognized"
	KindTransportError Kind = "transport_error"
)

// Outcome is the classified result of one verification call. UserName and
// Confidence are only set for KindVerified and Err only for KindTransportError.
type Outcome struct {
	Kind       Kind
	UserName   string
	Confidence float64
	Err        error
	// ServerMessage is the verifier's free-text explanation, kept for logs.
	ServerMessage string
}

// Verified builds a successful outcome.
func Verified(name string, confidence float64) Outcome {
	return Outcome{Kind: KindVerified, UserName: name, Confidence: confidence}
}

// TransportFailure builds a transport outcome around err.
func TransportFailure(err error) Outcome {
	if err == nil {
		err = errors.New("verifier: unknown transport failure")
	}
	return Outcome{Kind: KindTransportError, Err: err}
}

// OK reports whether the subject was verified and live.
func (o Outcome) OK() bool { return o.Kind == KindVerified }
