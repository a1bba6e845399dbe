// Package source implements template acquisition: the small interface the
// template manager polls, and its two implementations (spec.md §4.1, §9:
// "source polymorphism via a small interface, not inheritance").
package source

import (
	"context"

	"github.com/veldra-pool/reservegrid/internal/protocol"
)

// TemplateSource produces at most one new template per call. A nil
// template with a nil error means nothing changed since the last call;
// callers poll or block as appropriate to their backend.
type TemplateSource interface {
	// NextTemplate returns the next genuinely new template, or (nil, nil)
	// if there is none yet. It returns an error only for conditions the
	// caller should treat as the source itself being broken (e.g. a
	// disconnected channel), not for a single failed poll — those are
	// retried internally and logged.
	NextTemplate(ctx context.Context) (*protocol.TemplatePropose, error)
}
