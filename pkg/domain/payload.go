package domain

// Payload is the keyed record carried by a bus event.
type Payload map[string]any

// Payload keys owned by the kernel. Every other key of an eval.request is
// auxiliary data and is echoed back in the events it causes.
const (
	KeyCode           = "code"
	KeyStream         = "stream"
	KeyContent        = "content"
	KeyDisplayType    = "display_type"
	KeyExecutionCount = "execution_count"
	KeyResult         = "result"
	KeyError          = "error"
	KeyFilename       = "filename"
)

// EvalRequest is a snippet to evaluate together with the host's auxiliary data.
type EvalRequest struct {
	Code string         `mapstructure:"code" json:"code"`
	Data map[string]any `mapstructure:",remain" json:"-"`
}

// Payload returns the request as an eval.request payload.
func (r EvalRequest) Payload() Payload {
	return merge(r.Data, Payload{KeyCode: r.Code})
}

// merge copies aux first and the event's own fields last, so own fields win.
func merge(aux map[string]any, own Payload) Payload {
	out := make(Payload, len(aux)+len(own))
	for k, v := range aux {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out
}

// OutputPayload builds an eval.output payload.
func OutputPayload(aux map[string]any, stream Stream, content string) Payload {
	return merge(aux, Payload{
		KeyStream:  string(stream),
		KeyContent: content,
	})
}

// DisplayPayload builds an eval.display payload.
func DisplayPayload(aux map[string]any, displayType string, content any, count int) Payload {
	return merge(aux, Payload{
		KeyDisplayType:    displayType,
		KeyContent:        content,
		KeyExecutionCount: count,
	})
}

// FinishedPayload builds an eval.finished payload. The result key is present
// only when the evaluation produced a value.
func FinishedPayload(aux map[string]any, count int, result Bundle) Payload {
	own := Payload{KeyExecutionCount: count}
	if result != nil {
		own[KeyResult] = result
	}
	return merge(aux, own)
}

// ErrorPayload builds an eval.error payload.
func ErrorPayload(aux map[string]any, err error, count int) Payload {
	return merge(aux, Payload{
		KeyError:          ErrorInfo(err),
		KeyExecutionCount: count,
	})
}

// DownloadPayload builds a file.download payload.
func DownloadPayload(filename string, content []byte) Payload {
	return Payload{
		KeyFilename: filename,
		KeyContent:  content,
	}
}
