package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-localmodel/pkg/utils"
)

// FilePlacer moves a single downloaded file into the target directory
type FilePlacer struct {
	targetDir string
	fileName  string
	logger    *utils.Logger
}

// NewFilePlacer creates a file placer; an empty fileName keeps the downloaded name
func NewFilePlacer(targetDir, fileName string, logger *utils.Logger) *FilePlacer {
	return &FilePlacer{targetDir: targetDir, fileName: fileName, logger: logger}
}

// Run places the file at path with 0644 permissions
func (fp *FilePlacer) Run(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: file does not exist: %s", ErrFileSystem, path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := fp.fileName
	if name == "" {
		name = filepath.Base(path)
	}
	dest := filepath.Join(fp.targetDir, name)
	fp.logger.Info("Placing file: %s -> %s", path, dest)

	if path != dest {
		if err := utils.MoveFile(path, dest); err != nil {
			return fmt.Errorf("%w: %v", ErrFileSystem, err)
		}
	}
	if err := os.Chmod(dest, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", dest, err)
	}
	fp.logger.Verbose("Set permissions to 0644 for %s", dest)
	return nil
}
