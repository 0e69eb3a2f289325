package render

import (
	"os"

	"gonum.org/v1/plot"

	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

// SavePNG writes the plot to path at the style's dimensions. The file handle
// is scoped to this call; on a render failure the file is closed and the
// error reported rather than leaking a partially written handle.
func SavePNG(p *plot.Plot, style Style, path string) (err error) {
	const op = "render.SavePNG"

	wt, err := p.WriterTo(style.Width, style.Height, "png")
	if err != nil {
		return errors.Wrapf(err, "metaforest: %s: prepare writer", op)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "metaforest: %s: create %s", op, path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "metaforest: %s: close %s", op, path)
		}
	}()

	if _, err = wt.WriteTo(f); err != nil {
		return errors.Wrapf(err, "metaforest: %s: write %s", op, path)
	}
	return err
}
