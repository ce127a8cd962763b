package laser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quadi/qsa-engrave/models"
)

// FileManager owns the SVG output directory and the translation from
// server-local paths to paths the workstation can resolve (typically a
// network share mounted on both machines).
type FileManager struct {
	outputDir  string
	pathPrefix string // workstation-visible replacement for outputDir
	keepFiles  bool
	log        *logrus.Entry
}

func NewFileManager(outputDir, pathPrefix string, keepFiles bool, log *logrus.Logger) (*FileManager, error) {
	if outputDir == "" {
		return nil, models.NewFault(models.CodeInvalidPath, "output directory not configured")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, models.WrapFault(models.CodeInvalidPath, "creating output directory", err)
	}
	return &FileManager{
		outputDir:  outputDir,
		pathPrefix: pathPrefix,
		keepFiles:  keepFiles,
		log:        log.WithField("component", "svgfiles"),
	}, nil
}

// FileName derives the deterministic, filesystem-safe name for one carrier's
// document. Regeneration overwrites the previous file.
func FileName(batchID int64, qsaSequence int) string {
	return fmt.Sprintf("%d-%d.svg", batchID, qsaSequence)
}

// LocalPath is the server-side path of a carrier's document.
func (m *FileManager) LocalPath(batchID int64, qsaSequence int) string {
	return filepath.Join(m.outputDir, FileName(batchID, qsaSequence))
}

// RemotePath translates a local path into the workstation's frame by
// swapping the output directory for the configured prefix. Separators follow
// the prefix, so a Windows share prefix yields backslashed paths.
func (m *FileManager) RemotePath(localPath string) string {
	if m.pathPrefix == "" {
		return localPath
	}
	rel, err := filepath.Rel(m.outputDir, localPath)
	if err != nil {
		return localPath
	}
	sep := "/"
	if strings.Contains(m.pathPrefix, `\`) {
		sep = `\`
		rel = strings.ReplaceAll(rel, "/", `\`)
	}
	return strings.TrimRight(m.pathPrefix, `/\`) + sep + rel
}

// Save writes one carrier's document and returns its local path.
func (m *FileManager) Save(batchID int64, qsaSequence int, data []byte) (string, error) {
	path := m.LocalPath(batchID, qsaSequence)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", models.WrapFault(models.CodeInvalidPath, "writing SVG file", err)
	}
	return path, nil
}

// Exists reports whether a carrier's document has been generated.
func (m *FileManager) Exists(batchID int64, qsaSequence int) bool {
	_, err := os.Stat(m.LocalPath(batchID, qsaSequence))
	return err == nil
}

// CleanupBatch removes every document of a completed batch, best-effort.
// Orphans are tolerated; a no-op when keep_svg_files is set.
func (m *FileManager) CleanupBatch(batchID int64) {
	if m.keepFiles {
		return
	}
	matches, err := filepath.Glob(filepath.Join(m.outputDir, fmt.Sprintf("%d-*.svg", batchID)))
	if err != nil {
		m.log.WithError(err).Warn("cleanup glob failed")
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.WithError(err).WithField("path", path).Warn("cleanup remove failed")
		}
	}
}
