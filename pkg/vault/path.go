package vault

import (
	"strings"

	"github.com/marmos91/dittovault/pkg/vaulterr"
)

// splitPath breaks an absolute slash-separated path into its non-empty
// components. "/" itself (the root) splits to an empty slice.
func splitPath(op, path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, vaulterr.New(vaulterr.InvalidArgument, op, path)
	}
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts, nil
}

// splitParent breaks path into its parent directory's components and
// its final element's name. path must name something other than root.
func splitParent(op, path string) (parent []string, name string, err error) {
	parts, err := splitPath(op, path)
	if err != nil {
		return nil, "", err
	}
	if len(parts) == 0 {
		return nil, "", vaulterr.New(vaulterr.InvalidArgument, op, path)
	}
	return parts[:len(parts)-1], parts[len(parts)-1], nil
}
