package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/domain"
)

// hashManifest: имя файла артефакта -> ожидаемый sha256 (hex)
type hashManifest map[string]string

// verifyIntegrity сверяет артефакт с манифестом хэшей.
// Production: отсутствие манифеста или записи — жесткий отказ (SecurityError).
// Development: деградирует до предупреждения, несовпадение хэша — отказ всегда.
func verifyIntegrity(manifestPath, artifactPath string, production bool, logger *zap.Logger) error {
	manifest, err := readManifest(manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if production {
				return &domain.SecurityError{File: manifestPath, Reason: "hash manifest not found in production"}
			}
			logger.Warn("hash manifest not found, skipping integrity check",
				zap.String("manifest", manifestPath))
			return nil
		}
		return fmt.Errorf("read hash manifest: %w", err)
	}

	name := filepath.Base(artifactPath)
	expected, ok := manifest[name]
	if !ok {
		if production {
			return &domain.SecurityError{File: name, Reason: "no hash recorded in production"}
		}
		logger.Warn("no hash recorded for artifact, skipping check", zap.String("file", name))
		return nil
	}

	actual, err := fileSHA256(artifactPath)
	if err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	if actual != expected {
		return &domain.SecurityError{File: name, Reason: "checksum mismatch"}
	}
	return nil
}

func readManifest(path string) (hashManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m hashManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
