package schema

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxIdentifierLength is the postgres NAMEDATALEN limit; sqlite has none, so
// the stricter bound applies everywhere.
const MaxIdentifierLength = 63

const (
	columnPrefix      = "col_"
	tablePrefix       = "table_"
	fallbackTableName = "uploaded_data"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Names tracks the identifiers already handed out within one scope.
type Names struct {
	used map[string]struct{}
}

func NewNames(existing ...string) *Names {
	n := &Names{used: make(map[string]struct{}, len(existing))}
	for _, name := range existing {
		n.used[name] = struct{}{}
	}
	return n
}

func (n *Names) Sanitize(raw string) string {
	return Sanitize(raw, n.used)
}

// Sanitize turns a raw column label into a lowercase identifier over
// [a-z0-9_] that is unique within used, and records it there. Collisions get
// _2, _3, ... in call order, so the same label sequence always produces the
// same identifiers.
func Sanitize(raw string, used map[string]struct{}) string {
	if used == nil {
		used = map[string]struct{}{}
	}
	base := normalize(raw)
	if base == "" || startsWithDigit(base) || IsReserved(base) {
		base = columnPrefix + base
	}
	base = truncate(base, MaxIdentifierLength)
	name := disambiguate(base, func(candidate string) bool {
		_, taken := used[candidate]
		return taken
	})
	used[name] = struct{}{}
	return name
}

// TableName derives a table name from an uploaded filename: the stem without
// extension, folded like a column label, prefixed with table_ unless it starts
// with a letter, and disambiguated against taken.
func TableName(filename string, taken func(string) bool) string {
	base := normalize(fileStem(filename))
	switch {
	case base == "":
		base = fallbackTableName
	case !isASCIILetter(base[0]), IsReserved(base), hasInternalPrefix(base):
		base = tablePrefix + base
	}
	base = truncate(base, MaxIdentifierLength)
	if taken == nil {
		return base
	}
	return disambiguate(base, taken)
}

func IsIdentifier(name string) bool {
	return len(name) <= MaxIdentifierLength && identifierPattern.MatchString(name)
}

func IsReserved(word string) bool {
	_, ok := reservedWords[strings.ToLower(word)]
	return ok
}

func normalize(raw string) string {
	folded := strings.ToLower(foldAccents(raw))
	var b strings.Builder
	b.Grow(len(folded))
	pendingUnderscore := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingUnderscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingUnderscore = false
			b.WriteRune(r)
			continue
		}
		pendingUnderscore = true
	}
	return b.String()
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func disambiguate(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for n := 2; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		candidate := truncate(base, MaxIdentifierLength-len(suffix)) + suffix
		if !taken(candidate) {
			return candidate
		}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func fileStem(filename string) string {
	name := filename
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func isASCIILetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

// sqlite refuses user tables named sqlite_*, and sheetql_* is where the
// catalog metadata lives.
func hasInternalPrefix(name string) bool {
	for _, prefix := range []string{"sqlite_", "sheetql_", "pg_"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

var reservedWords = toSet(
	"all", "alter", "analyse", "analyze", "and", "any", "array", "as", "asc", "between",
	"both", "by", "case", "cast", "check", "collate", "column", "constraint", "create",
	"cross", "current_date", "current_time", "current_timestamp", "current_user",
	"default", "deferrable", "delete", "desc", "distinct", "do", "drop", "else", "end",
	"except", "exists", "false", "fetch", "for", "foreign", "from", "full", "grant",
	"group", "having", "in", "index", "initially", "inner", "insert", "intersect", "into",
	"is", "join", "lateral", "leading", "left", "like", "limit", "localtime",
	"localtimestamp", "natural", "not", "null", "offset", "on", "only", "or", "order",
	"outer", "over", "placing", "primary", "references", "returning", "right", "rowid",
	"select", "session_user", "set", "some", "symmetric", "table", "then", "to",
	"trailing", "true", "union", "unique", "update", "user", "using", "values",
	"variadic", "when", "where", "window", "with",
)

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
