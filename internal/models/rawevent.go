package models

// RawEvent is the Threshold Engine's transient input shape. It is never
// retained past the tick in which it is folded into a synthesized Alert (or
// dropped as malformed).
type RawEvent struct {
	TimestampMs     int64
	Reason          string
	Type            string
	Message         string
	InvolvedKind    string
	InvolvedName    string
	Namespace       string
	Labels          map[string]string
}

// Field returns the value of a top-level or involvedObject-nested field by
// selector name, used by the Threshold Engine's match-spec evaluation.
// Supported selectors: "reason", "type", "message", "namespace",
// "involvedObject.kind", "involvedObject.name", or any key present in Labels.
func (e RawEvent) Field(selector string) string {
	switch selector {
	case "reason":
		return e.Reason
	case "type":
		return e.Type
	case "message":
		return e.Message
	case "namespace":
		return e.Namespace
	case "involvedObject.kind":
		return e.InvolvedKind
	case "involvedObject.name":
		return e.InvolvedName
	default:
		return e.Labels[selector]
	}
}
