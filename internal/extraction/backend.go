package extraction

import "context"

// Backend turns non-spreadsheet documents (PDF scans, images) into raw text
// plus a confidence score. Implementations wrap cloud OCR or a local text
// layer; the engine treats them as a pluggable strategy selected per template.
type Backend interface {
	Name() Method
	ExtractText(ctx context.Context, data []byte, contentType string) (text string, confidence int, err error)
}

// BackendRegistry holds the configured OCR backends keyed by method.
type BackendRegistry struct {
	backends map[Method]Backend
}

func NewBackendRegistry(backends ...Backend) *BackendRegistry {
	r := &BackendRegistry{backends: make(map[Method]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// Select resolves a template method to a backend. MethodAuto prefers vision
// when configured, then documentai; MethodLocal needs no backend and
// returns nil.
func (r *BackendRegistry) Select(method Method) Backend {
	switch method {
	case MethodLocal, "":
		return nil
	case MethodAuto:
		if b, ok := r.backends[MethodVision]; ok {
			return b
		}
		if b, ok := r.backends[MethodDocumentAI]; ok {
			return b
		}
		return nil
	default:
		return r.backends[method]
	}
}
