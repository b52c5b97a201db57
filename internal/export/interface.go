// Package export renders session artifacts for people and tools.
package export

import (
	"fmt"
	"io"

	"github.com/ashureev/tutorlive/internal/domain"
)

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(artifact *domain.SessionArtifact, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: md, yaml, json)", format)
	}
}
