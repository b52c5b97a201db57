package export

import (
	"io"

	"github.com/ashureev/tutorlive/internal/domain"
	"gopkg.in/yaml.v3"
)

// YAMLExporter exports artifacts in YAML format
type YAMLExporter struct{}

// Export exports an artifact to YAML format
func (e *YAMLExporter) Export(artifact *domain.SessionArtifact, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(artifact)
}

// Extension returns the file extension for this format
func (e *YAMLExporter) Extension() string {
	return "yaml"
}
