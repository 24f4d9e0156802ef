package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/astrogo/fitsio"
)

// FileName returns the export file of a channel: prefix-Channel.csv
func FileName(prefix, channel string) string {
	return prefix + "-" + channel + ".csv"
}

// Flush writes every persisted channel to its own delimited file.  1-D
// channels are written as a single column; higher dimensional channels as
// a table whose columns are the last dimension.
func (s *Store) Flush(prefix string) error {
	if dir := filepath.Dir(prefix); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	for _, c := range s.snapshot() {
		if err := writeCSV(FileName(prefix, c.Name), c); err != nil {
			return fmt.Errorf("exporting %s: %w", c.Name, err)
		}
	}
	return nil
}

func writeCSV(fn string, c Channel) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	cols := 1
	if len(c.Shape) >= 2 {
		cols = c.Shape[len(c.Shape)-1]
	}
	w := csv.NewWriter(f)
	row := make([]string, cols)
	for off := 0; off+cols <= len(c.Data); off += cols {
		for i := 0; i < cols; i++ {
			row[i] = strconv.FormatFloat(c.Data[off+i], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// ExportFITS writes every persisted channel as a float64 image HDU of
// prefix.fits, named by an EXTNAME card.  The first channel is the primary
// HDU and carries cards.
func (s *Store) ExportFITS(prefix string, cards ...fitsio.Card) error {
	chans := s.snapshot()
	if len(chans) == 0 {
		return fmt.Errorf("%w: nothing to export", ErrNoChannel)
	}
	f, err := os.Create(prefix + ".fits")
	if err != nil {
		return err
	}
	defer f.Close()
	fits, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer fits.Close()

	for i, c := range chans {
		// FITS axes run fastest first; an image without axes holds no data,
		// so a scalar channel is written as a single pixel
		dims := []int{1}
		if len(c.Shape) > 0 {
			dims = make([]int, len(c.Shape))
			for j, d := range c.Shape {
				dims[len(c.Shape)-1-j] = d
			}
		}
		meta := []fitsio.Card{{Name: "EXTNAME", Value: c.Name, Comment: "channel"}}
		if i == 0 {
			meta = append(meta, cards...)
		}
		if err := writeImage(fits, dims, meta, c.Data); err != nil {
			return fmt.Errorf("exporting %s: %w", c.Name, err)
		}
	}
	return nil
}

func writeImage(fits *fitsio.File, dims []int, meta []fitsio.Card, data []float64) error {
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	err := im.Header().Append(meta...)
	if err != nil {
		return err
	}
	err = im.Write(data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
