package lut

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Save writes the table to path.  The data goes to a temporary file in the
// same directory which is then renamed over path, so readers see either the
// old table or the new one and never a partial write.
func Save(t LookupTable, path string) error {
	if t.Empty() {
		return errors.Wrap(ErrInvalidTable, "refusing to save an empty table")
	}
	buf, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encoding lookup table")
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "saving lookup table to %s", path)
	}
	tmp := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}
	if _, err = f.Write(buf); err != nil {
		cleanup()
		return errors.Wrapf(err, "saving lookup table to %s", path)
	}
	if err = f.Sync(); err != nil {
		cleanup()
		return errors.Wrapf(err, "saving lookup table to %s", path)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "saving lookup table to %s", path)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "saving lookup table to %s", path)
	}
	logrus.WithFields(logrus.Fields{"path": path, "points": t.Len(), "order": t.Order()}).Info("lookup table saved")
	return nil
}

// Load reads a table from path.  A missing file yields ErrNotFound, anything
// unreadable as a table yields ErrCorrupt.
func Load(path string) (LookupTable, error) {
	var t LookupTable
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, errors.Wrap(ErrNotFound, path)
		}
		return t, errors.Wrapf(err, "loading lookup table from %s", path)
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return t, errors.Wrapf(ErrCorrupt, "%s is empty", path)
	}
	if err = t.UnmarshalJSON(buf); err != nil {
		return LookupTable{}, errors.WithMessage(err, path)
	}
	return t, nil
}
