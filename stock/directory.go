// stock/directory.go
package stock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"cookie-claim-system/utils"
)

// DirectoryPool serves every *.txt file in Dir as one unit.
type DirectoryPool struct {
	Dir string
}

func (p *DirectoryPool) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: directory %q does not exist", ErrSourceNotConfigured, p.Dir)
		}
		return nil, fmt.Errorf("read stock directory %q: %w", p.Dir, err)
	}

	units := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !utils.IsStockUnit(e.Name()) {
			continue
		}
		units = append(units, e.Name())
	}
	sort.Strings(units)
	return units, nil
}

func (p *DirectoryPool) Open(_ context.Context, unit string) (io.ReadCloser, error) {
	name := utils.CleanUnitName(unit)
	if name == "" {
		return nil, fmt.Errorf("invalid unit name %q", unit)
	}
	return os.Open(filepath.Join(p.Dir, name))
}

func (p *DirectoryPool) Put(_ context.Context, unit string, body io.Reader, _ int64) error {
	name := utils.CleanUnitName(unit)
	if name == "" || !utils.IsStockUnit(name) {
		return fmt.Errorf("invalid unit name %q", unit)
	}
	if err := os.MkdirAll(p.Dir, os.ModePerm); err != nil {
		return err
	}

	dst, err := os.Create(filepath.Join(p.Dir, name))
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, body)
	return err
}
