package refstore

import "context"

// MultiHandler dispatches a reference URI to the Handler registered for
// its scheme, falling back to a default handler (normally a
// TrackingHandler) when no scheme-specific handler is registered.
//
// The original implementation's dispatcher had this check inverted: it
// looked up the scheme-specific handler and, if the lookup returned nil
// AND a default handler happened to also be absent, it panicked instead
// of ever reaching the fallback branch — so an unregistered scheme with a
// default handler configured would still fail instead of degrading to the
// default. resolve here fixes that: any scheme miss falls
// through to the default handler whenever one is set, full stop.
type MultiHandler struct {
	handlers map[string]Handler
	def      Handler
}

// NewMultiHandler returns a MultiHandler with no handlers registered and
// no default. Use RegisterHandler and SetDefault (or NewDefaultMultiHandler)
// to populate it.
func NewMultiHandler() *MultiHandler {
	return &MultiHandler{handlers: make(map[string]Handler)}
}

// NewDefaultMultiHandler returns a MultiHandler pre-registered with the
// local, S3, and GCS handlers (the original scheme set) plus def as the
// fallback for everything else, including azblob:// when the Azure
// handler isn't separately registered.
func NewDefaultMultiHandler(local *LocalFileHandler, s3h *S3Handler, gcs *GCSHandler, def Handler) *MultiHandler {
	m := NewMultiHandler()
	if local != nil {
		m.RegisterHandler(local)
	}
	if s3h != nil {
		m.RegisterHandler(s3h)
	}
	if gcs != nil {
		m.RegisterHandler(gcs)
	}
	m.SetDefault(def)
	return m
}

// RegisterHandler adds h under its own Scheme(). A later call with the
// same scheme replaces the earlier registration.
func (m *MultiHandler) RegisterHandler(h Handler) {
	m.handlers[h.Scheme()] = h
}

// SetDefault sets the fallback handler used for any scheme with no
// registered handler.
func (m *MultiHandler) SetDefault(h Handler) {
	m.def = h
}

// UsesDefaultHandler reports whether uri's scheme has no specific handler
// registered and would therefore be served by the default (passthrough)
// handler, if any. Callers use this to require an explicit name for
// references the engine cannot interpret natively.
func (m *MultiHandler) UsesDefaultHandler(uri string) bool {
	_, ok := m.handlers[schemeOf(uri)]
	return !ok
}

// resolve returns the handler for uri's scheme, falling back to the
// default. It returns ErrUnsupportedScheme only when neither a
// scheme-specific handler nor a default is available.
func (m *MultiHandler) resolve(uri string) (Handler, error) {
	scheme := schemeOf(uri)
	if h, ok := m.handlers[scheme]; ok {
		return h, nil
	}
	if m.def != nil {
		return m.def, nil
	}
	return nil, fmtUnsupported(uri)
}

func (m *MultiHandler) LoadPath(ctx context.Context, destDir string, req LoadRequest, local bool) (string, error) {
	h, err := m.resolve(req.URI)
	if err != nil {
		return "", err
	}
	return h.LoadPath(ctx, destDir, req, local)
}

func (m *MultiHandler) StorePath(ctx context.Context, uri string, namePrefix string, checksum bool, maxObjects int) ([]ObjectRef, error) {
	h, err := m.resolve(uri)
	if err != nil {
		return nil, err
	}
	return h.StorePath(ctx, uri, namePrefix, checksum, maxObjects)
}
