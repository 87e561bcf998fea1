package ingest

import (
	"path"
	"strings"
)

type Kind string

const (
	KindCSV  Kind = "csv"
	KindXLSX Kind = "xlsx"
	KindXLS  Kind = "xls"
)

// KindFromFilename maps a filename extension onto a file kind. The second
// result is false for extensions the pipeline does not recognise.
func KindFromFilename(filename string) (Kind, bool) {
	name := strings.ReplaceAll(filename, `\`, "/")
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "csv":
		return KindCSV, true
	case "xlsx":
		return KindXLSX, true
	case "xls":
		return KindXLS, true
	default:
		return "", false
	}
}

func ParseKind(raw string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindCSV, KindXLSX, KindXLS:
		return k, true
	default:
		return "", false
	}
}
