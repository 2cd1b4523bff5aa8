package buffer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// createTempFile creates a uniquely named file under dir, combining the
// process id, a timestamp, and a random component to avoid collisions
// across concurrent requests — the same scheme gobeaver-filekit's local
// driver uses for its chunked-upload part staging area.
func createTempFile(dir string) (*os.File, string, error) {
	name, err := randomTempName()
	if err != nil {
		return nil, "", fmt.Errorf("generate temp name: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("ensure temp dir: %w", err)
	}

	path := dir + string(os.PathSeparator) + name
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

func randomTempName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("avgate-upload-%d-%d-%s", os.Getpid(), time.Now().UnixNano(), hex.EncodeToString(b)), nil
}
