// Package archive exports a study store to a single compressed file and
// imports it back, so a study can be resumed on another machine.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nvandessel/simbatch/internal/constants"
	"github.com/nvandessel/simbatch/internal/store"
)

// FileSuffix ends every archive file name.
const FileSuffix = ".simbatch.gz"

// Export reads every configs and metadata row from st. A store without a
// metadata table yields an archive with no generations.
func Export(ctx context.Context, st store.TableStore, studyName string) (*Archive, error) {
	configs, err := st.List(ctx, store.ConfigsTable)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("study store for %s has no config", studyName)
	}

	metadata, err := st.List(ctx, store.MetadataTable)
	if err != nil && !errors.Is(err, store.ErrNoTable) {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	return &Archive{
		CreatedAt: time.Now().UTC(),
		Study:     studyName,
		Configs:   configs,
		Metadata:  metadata,
	}, nil
}

// ImportResult counts the rows written and skipped by Import.
type ImportResult struct {
	ConfigsImported     int `json:"configs_imported"`
	ConfigsSkipped      int `json:"configs_skipped"`
	GenerationsImported int `json:"generations_imported"`
	GenerationsSkipped  int `json:"generations_skipped"`
}

// Import writes the archive's rows into st. Rows whose key already exists
// are skipped, so importing into a partially seeded store fills the gaps
// without overwriting anything.
func Import(ctx context.Context, st store.TableStore, a *Archive) (*ImportResult, error) {
	res := &ImportResult{}
	if err := importRows(ctx, st, store.ConfigsTable, a.Configs, &res.ConfigsImported, &res.ConfigsSkipped); err != nil {
		return res, err
	}
	if err := importRows(ctx, st, store.MetadataTable, a.Metadata, &res.GenerationsImported, &res.GenerationsSkipped); err != nil {
		return res, err
	}
	return res, nil
}

func importRows(ctx context.Context, st store.TableStore, t store.Table, rows []store.Row, imported, skipped *int) error {
	if err := st.CreateTable(ctx, t); err != nil {
		return fmt.Errorf("failed to create %s: %w", t.Name, err)
	}
	for _, r := range rows {
		err := st.Insert(ctx, t, r.Key, r.Data)
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			*skipped++
		case err != nil:
			return fmt.Errorf("failed to import %s row %d: %w", t.Name, r.Key, err)
		default:
			*imported++
		}
	}
	return nil
}

// DefaultDir returns <simulations root>/_archives.
func DefaultDir(simulationsRoot string) string {
	return filepath.Join(simulationsRoot, constants.ArchivesDir)
}

// Path returns a timestamped archive path for studyName in dir.
func Path(dir, studyName string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", studyName, now.UTC().Format("20060102-150405"), FileSuffix))
}

// Info describes an archive file on disk.
type Info struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Study     string    `json:"study"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns the archives in dir for studyName, newest first. An empty
// studyName lists every archive. Files whose header cannot be read are
// skipped.
func List(dir, studyName string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileSuffix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := ReadHeader(path)
		if err != nil {
			continue
		}
		if studyName != "" && h.Study != studyName {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: path, Size: fi.Size(), Study: h.Study, CreatedAt: h.CreatedAt})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Rotate keeps the newest keep archives of studyName in dir and deletes the
// rest. keep <= 0 keeps everything.
func Rotate(dir, studyName string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	infos, err := List(dir, studyName)
	if err != nil {
		return nil, err
	}
	if len(infos) <= keep {
		return nil, nil
	}

	var deleted []string
	for _, info := range infos[keep:] {
		if err := os.Remove(info.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(info.Path), err)
		}
		deleted = append(deleted, info.Path)
	}
	return deleted, nil
}
