package domain

// ProbeTokenHeader carries the probe token on every outgoing probe so bounce
// reports that quote headers can be tied back to a record.
const ProbeTokenHeader = "X-Probe-Token"

// ProbeMessage is one outgoing test message.
type ProbeMessage struct {
	From      string
	To        string
	Subject   string
	Body      string
	Token     string
	MessageID string // RFC 5322 Message-ID without angle brackets
}
