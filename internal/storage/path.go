package storage

import (
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	unsafeFilenameRunes  = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// RawUploadKey addresses an uploaded file by its content:
// raw/<sha256>/<filename>.
func RawUploadKey(sum [32]byte, filename string) (string, error) {
	name, err := safeFilename(filename)
	if err != nil {
		return "", err
	}
	return path.Join("raw", hex.EncodeToString(sum[:]), name), nil
}

// SnapshotKey places a table snapshot under the UTC day it was taken:
// snapshots/<table>/<yyyy-mm-dd>/<table>.parquet.
func SnapshotKey(tableName string, at time.Time) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(
		"snapshots",
		tableName,
		at.UTC().Format("2006-01-02"),
		tableName+".parquet",
	), nil
}

func safeFilename(filename string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	base = strings.Trim(unsafeFilenameRunes.ReplaceAllString(base, "_"), "._-")
	if len(base) > 128 {
		base = base[len(base)-128:]
		base = strings.TrimLeft(base, "._-")
	}
	if err := validatePathComponent(base, "filename"); err != nil {
		return "", err
	}
	return base, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
