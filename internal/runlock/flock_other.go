//go:build !unix && !windows

package runlock

import (
	"errors"
	"os"
)

func lockFile(*os.File) error {
	return errors.New("file locking is not supported on this platform")
}

func unlockFile(*os.File) error {
	return nil
}
