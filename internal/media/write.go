// SPDX-License-Identifier: MIT

package media

import (
	"fmt"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/taskstream/internal/log"
)

// WriteFileAtomic writes data to path with fsync-before-rename semantics so
// a crash never leaves a partially written artifact behind.
func WriteFileAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := log.WithComponent("media")
			logger.Debug().Err(err).Str(log.FieldPath, path).Msg("cleanup pending file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}
