package refstore

import (
	"context"
	"fmt"

	"github.com/tracklab/artifactcore/internal/logger"
)

// TrackingHandler is the default handler MultiHandler falls back to when
// no registered handler covers a reference's scheme. It never downloads
// anything and never checksums bytes — it treats the URI itself as the
// entry's digest, the way the original implementation's passthrough
// handler does for schemes it doesn't understand (e.g. "http://", "gs://"
// without the GCS SDK wired in, or a bespoke internal scheme). It logs a
// warning on every store, and once per scheme on metadata-mode load, so a
// misconfigured policy is visible without spamming the log for every
// entry.
type TrackingHandler struct {
	log    *logger.Logger
	warned map[string]bool
}

// NewTrackingHandler returns a TrackingHandler. log may be nil, in which
// case warnings are silently dropped.
func NewTrackingHandler(log *logger.Logger) *TrackingHandler {
	return &TrackingHandler{log: log, warned: make(map[string]bool)}
}

func (h *TrackingHandler) Scheme() string { return "" }

func (h *TrackingHandler) LoadPath(ctx context.Context, destDir string, req LoadRequest, local bool) (string, error) {
	scheme := schemeOf(req.URI)
	if local {
		return "", fmt.Errorf("refstore: cannot download reference %s, scheme %q is not recognized", req.URI, scheme)
	}
	if h.log != nil && !h.warned[scheme] {
		h.warned[scheme] = true
		h.log.Warn(fmt.Sprintf("refstore: no handler registered for scheme %q, treating reference %s as opaque", scheme, req.URI))
	}
	return req.URI, nil
}

func (h *TrackingHandler) StorePath(ctx context.Context, uri string, namePrefix string, checksum bool, maxObjects int) ([]ObjectRef, error) {
	if namePrefix == "" {
		return nil, fmt.Errorf("%w: %s", ErrNameRequired, uri)
	}
	if h.log != nil {
		h.log.Warn(fmt.Sprintf("refstore: reference %s cannot be checksummed, scheme %q is not recognized", uri, schemeOf(uri)))
	}
	return []ObjectRef{{Path: namePrefix, URI: uri, Digest: uri}}, nil
}
