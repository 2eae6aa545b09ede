// src/services/storage_service.go
package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/username/payfolio/src/logger"
)

// StorageService persists uploaded files on local disk under the
// configured upload directory. Stored names are random so a hostile
// original filename never reaches the filesystem.
type StorageService struct {
	baseDir string
}

func NewStorageService(baseDir string) *StorageService {
	return &StorageService{baseDir: baseDir}
}

// Save writes the file under baseDir/subdir and returns its relative URL.
func (s *StorageService) Save(data []byte, subdir, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	storedName := uuid.New().String() + ext
	dir := filepath.Join(s.baseDir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	fullPath := filepath.Join(dir, storedName)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to store file %s: %w", fullPath, err)
	}
	relURL := filepath.ToSlash(filepath.Join(subdir, storedName))
	logger.L.Debug("Stored uploaded file", "originalName", originalName, "url", relURL, "bytes", len(data))
	return relURL, nil
}

// Delete removes a previously stored file; a missing file is not an error.
func (s *StorageService) Delete(relURL string) error {
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(relURL))
	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete stored file %s: %w", fullPath, err)
	}
	return nil
}
