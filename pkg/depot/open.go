package depot

import (
	"strings"

	"github.com/marmos91/dittovault/pkg/depot/badger"
	"github.com/marmos91/dittovault/pkg/depot/file"
	"github.com/marmos91/dittovault/pkg/depot/memory"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// Open dispatches a volume URI to the depot backend that owns its scheme.
// This is the one place outside a backend package that looks at a URI's
// scheme; everything above it deals only in Storable.
func Open(uri string) (Storable, error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return file.New(strings.TrimPrefix(uri, "file://")), nil
	case strings.HasPrefix(uri, "mem://"):
		return memory.New(strings.TrimPrefix(uri, "mem://")), nil
	case strings.HasPrefix(uri, "badger://"):
		return badger.New(strings.TrimPrefix(uri, "badger://")), nil
	default:
		return nil, vaulterr.New(vaulterr.InvalidUri, "depot.Open", uri)
	}
}
