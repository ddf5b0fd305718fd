package diagram

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trendy-design/taskflow/internal/engine"
)

// Format names accepted by Render.
const (
	FormatMermaid = "mermaid"
	FormatASCII   = "ascii"
)

// Render renders model in the named format: mermaid, ascii, png or svg.
func Render(ctx context.Context, model *DiagramModel, format string) ([]byte, error) {
	switch format {
	case FormatMermaid, "":
		return []byte(RenderMermaid(model)), nil
	case FormatASCII:
		return []byte(RenderASCII(model)), nil
	case string(FormatPNG), string(FormatSVG):
		return RenderImage(ctx, model, ImageFormat(format))
	default:
		return nil, fmt.Errorf("diagram: unknown format %q (want mermaid, ascii, png or svg)", format)
	}
}

// DecodeReport decodes a journaled run report. Task errors are not part of
// the encoded report, so the overlay carries statuses and timings only.
func DecodeReport(raw json.RawMessage) (*engine.RunReport, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("diagram: run has no recorded report")
	}
	var report engine.RunReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("diagram: decode run report: %w", err)
	}
	return &report, nil
}
