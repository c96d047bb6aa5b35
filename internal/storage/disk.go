package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to the database in WAL or rollback mode.
var sqliteSidecars = []string{"", "-wal", "-shm", "-journal"}

// UsageBytes reports the on-disk footprint of the configured object store: the SQLite
// database plus its sidecar files, or the whole Badger directory. A store that has not
// been created yet uses 0 bytes.
func UsageBytes(backend, sqlitePath, badgerPath string) (int64, error) {
	switch backend {
	case "sqlite", "":
		if sqlitePath == "" || sqlitePath == ":memory:" {
			return 0, nil
		}
		var total int64
		for _, suffix := range sqliteSidecars {
			n, err := pathSize(sqlitePath + suffix)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	case "badger":
		return pathSize(badgerPath)
	default:
		return 0, fmt.Errorf("unknown storage backend: %s", backend)
	}
}

// pathSize sums a file or a directory tree. Missing paths count as 0.
func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
