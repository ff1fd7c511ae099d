package serve

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveSocketPath returns the daemon socket path.
// Resolution order: $EVOCAITION_SOCKET > $XDG_RUNTIME_DIR/evocaition.sock > /tmp/evocaition-<uid>.sock
func ResolveSocketPath() string {
	if path := os.Getenv("EVOCAITION_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "evocaition.sock")
	}
	return fmt.Sprintf("/tmp/evocaition-%d.sock", os.Getuid())
}
