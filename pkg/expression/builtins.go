package expression

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// builtinFunc implements one entry of the fixed built-in catalog. Errors
// returned here are wrapped by resolveFnCall as "Function <name> failed: ...".
type builtinFunc func(args []any) (any, error)

var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		// Date/time
		"now":        fnNow,
		"date":       fnDate,
		"time":       fnTime,
		"timestamp":  fnTimestamp,
		"formatDate": fnFormatDate,
		"addDays":    fnAddDays,
		"addHours":   fnAddHours,
		"addMinutes": fnAddMinutes,

		// Env
		"env":        fnEnv,
		"hasEnv":     fnHasEnv,
		"envDefault": fnEnvDefault,

		// FS
		"fileExists": fnFileExists,
		"readFile":   fnReadFile,
		"readJson":   fnReadJson,
		"fileSize":   fnFileSize,
		"fileName":   fnFileName,
		"fileExt":    fnFileExt,
		"filePath":   fnFilePath,
		"joinPath":   fnJoinPath,

		// Strings
		"upper":      fnUpper,
		"lower":      fnLower,
		"trim":       fnTrim,
		"replace":    fnReplace,
		"substring":  fnSubstring,
		"length":     fnLength,
		"split":      fnSplit,
		"join":       fnJoin,
		"startsWith": fnStartsWith,
		"endsWith":   fnEndsWith,
		"contains":   fnContains,

		// Arrays
		"first": fnFirst,
		"last":  fnLast,
		"at":    fnAt,
		"slice": fnSlice,

		// Math
		"add":      fnAdd,
		"subtract": fnSubtract,
		"multiply": fnMultiply,
		"divide":   fnDivide,
		"round":    fnRound,
		"floor":    fnFloor,
		"ceil":     fnCeil,
		"random":   fnRandom,

		// Utility
		"default":   fnDefault,
		"empty":     fnEmpty,
		"notEmpty":  fnNotEmpty,
		"toNumber":  fnToNumber,
		"toString":  fnToString,
		"toBoolean": fnToBoolean,
		"toJson":    fnToJson,
		"fromJson":  fnFromJson,
	}
}

// --- date/time -------------------------------------------------------------

// dateFormatTokens maps the spec's fixed format tokens to Go's reference-time
// layout, applied longest-token-first so "mm" doesn't collide with "MM".
var dateFormatTokens = []struct {
	token  string
	layout string
}{
	{"YYYY", "2006"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

func toGoLayout(fmtStr string) string {
	out := fmtStr
	for _, t := range dateFormatTokens {
		out = strings.ReplaceAll(out, t.token, t.layout)
	}
	return out
}

const defaultDateFormat = "YYYY-MM-DD"
const defaultTimeFormat = "HH:mm:ss"

func fnNow(args []any) (any, error) {
	return time.Now().UTC(), nil
}

func fnDate(args []any) (any, error) {
	format := defaultDateFormat
	if len(args) > 0 {
		if s, ok := args[0].(string); ok && s != "" {
			format = s
		}
	}
	return time.Now().UTC().Format(toGoLayout(format)), nil
}

func fnTime(args []any) (any, error) {
	format := defaultTimeFormat
	if len(args) > 0 {
		if s, ok := args[0].(string); ok && s != "" {
			format = s
		}
	}
	return time.Now().UTC().Format(toGoLayout(format)), nil
}

func fnTimestamp(args []any) (any, error) {
	return time.Now().UTC().UnixMilli(), nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid date %q", t)
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("invalid date value %v", v)
	}
}

func fnFormatDate(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("formatDate requires a date argument")
	}
	t, err := toTime(args[0])
	if err != nil {
		return nil, err
	}
	format := defaultDateFormat
	if len(args) > 1 {
		if s, ok := args[1].(string); ok && s != "" {
			format = s
		}
	}
	return t.Format(toGoLayout(format)), nil
}

func toDuration(n any) (int, error) {
	switch v := n.(type) {
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected numeric amount")
	}
}

func fnAddDays(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("addDays requires date and n")
	}
	t, err := toTime(args[0])
	if err != nil {
		return nil, err
	}
	n, err := toDuration(args[1])
	if err != nil {
		return nil, err
	}
	return t.AddDate(0, 0, n), nil
}

func fnAddHours(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("addHours requires date and n")
	}
	t, err := toTime(args[0])
	if err != nil {
		return nil, err
	}
	n, err := toDuration(args[1])
	if err != nil {
		return nil, err
	}
	return t.Add(time.Duration(n) * time.Hour), nil
}

func fnAddMinutes(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("addMinutes requires date and n")
	}
	t, err := toTime(args[0])
	if err != nil {
		return nil, err
	}
	n, err := toDuration(args[1])
	if err != nil {
		return nil, err
	}
	return t.Add(time.Duration(n) * time.Minute), nil
}

// --- env ---------------------------------------------------------------

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string", i)
	}
	return s, nil
}

func fnEnv(args []any) (any, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return os.Getenv(name), nil
}

func fnHasEnv(args []any) (any, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	_, ok := os.LookupEnv(name)
	return ok, nil
}

func fnEnvDefault(args []any) (any, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	def := ""
	if len(args) > 1 {
		def = fmt.Sprint(args[1])
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	return def, nil
}

// --- fs ------------------------------------------------------------------

func fnFileExists(args []any) (any, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(path)
	return statErr == nil, nil
}

func fnReadFile(args []any) (any, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func fnReadJson(args []any) (any, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return out, nil
}

func fnFileSize(args []any) (any, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return info.Size(), nil
}

func fnFileName(args []any) (any, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return filepath.Base(path), nil
}

func fnFileExt(args []any) (any, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return filepath.Ext(path), nil
}

func fnFilePath(args []any) (any, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return filepath.Dir(path), nil
}

func fnJoinPath(args []any) (any, error) {
	parts := make([]string, 0, len(args))
	for i := range args {
		s, err := argString(args, i)
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	return filepath.Join(parts...), nil
}

// --- strings ---------------------------------------------------------------

func fnUpper(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func fnLower(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func fnTrim(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func fnReplace(args []any) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("replace requires (s, search, replacement)")
	}
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	search, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	repl, err := argString(args, 2)
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(s, search, repl), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number")
	}
}

func fnSubstring(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("substring requires (s, start, end?)")
	}
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	start, err := toInt(args[1])
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	end := len(runes)
	if len(args) > 2 && args[2] != nil {
		end, err = toInt(args[2])
		if err != nil {
			return nil, err
		}
	}
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start > end {
		return "", nil
	}
	return string(runes[start:end]), nil
}

// fnLength is polymorphic over strings, arrays, and maps per spec.
func fnLength(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("length requires one argument")
	}
	switch v := args[0].(type) {
	case string:
		return int64(len([]rune(v))), nil
	case []any:
		return int64(len(v)), nil
	case map[string]any:
		return int64(len(v)), nil
	case nil:
		return int64(0), nil
	default:
		return nil, fmt.Errorf("length is not defined for this value")
	}
}

func fnSplit(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("split requires (s, sep)")
	}
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	sep, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func fnJoin(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("join requires an array argument")
	}
	arr, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("join requires an array argument")
	}
	sep := ""
	if len(args) > 1 {
		if s, ok := args[1].(string); ok {
			sep = s
		}
	}
	parts := make([]string, len(arr))
	for i, v := range arr {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, sep), nil
}

func fnStartsWith(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	prefix, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return strings.HasPrefix(s, prefix), nil
}

func fnEndsWith(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	suffix, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return strings.HasSuffix(s, suffix), nil
}

func fnContains(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	sub, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return strings.Contains(s, sub), nil
}

// --- arrays ------------------------------------------------------------

func asArray(v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array")
	}
	return arr, nil
}

func fnFirst(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("first requires an array argument")
	}
	arr, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, nil
	}
	return arr[0], nil
}

func fnLast(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("last requires an array argument")
	}
	arr, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, nil
	}
	return arr[len(arr)-1], nil
}

func fnAt(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("at requires (arr, i)")
	}
	arr, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	i, err := toInt(args[1])
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(arr) {
		return nil, fmt.Errorf("index %d out of range", i)
	}
	return arr[i], nil
}

func fnSlice(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("slice requires (arr, start, end?)")
	}
	arr, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	start, err := toInt(args[1])
	if err != nil {
		return nil, err
	}
	end := len(arr)
	if len(args) > 2 && args[2] != nil {
		end, err = toInt(args[2])
		if err != nil {
			return nil, err
		}
	}
	if start < 0 {
		start = 0
	}
	if end > len(arr) {
		end = len(arr)
	}
	if start > end {
		return []any{}, nil
	}
	return arr[start:end], nil
}

// --- math ------------------------------------------------------------

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number")
	}
}

func fnAdd(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("add requires two numbers")
	}
	a, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	b, err := toFloat(args[1])
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

func fnSubtract(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("subtract requires two numbers")
	}
	a, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	b, err := toFloat(args[1])
	if err != nil {
		return nil, err
	}
	return a - b, nil
}

func fnMultiply(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("multiply requires two numbers")
	}
	a, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	b, err := toFloat(args[1])
	if err != nil {
		return nil, err
	}
	return a * b, nil
}

func fnDivide(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("divide requires two numbers")
	}
	a, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	b, err := toFloat(args[1])
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, fmt.Errorf("Division by zero")
	}
	return a / b, nil
}

func fnRound(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("round requires a number")
	}
	n, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	dp := 0
	if len(args) > 1 {
		dp, err = toInt(args[1])
		if err != nil {
			return nil, err
		}
	}
	mult := math.Pow(10, float64(dp))
	return math.Round(n*mult) / mult, nil
}

func fnFloor(args []any) (any, error) {
	n, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	return math.Floor(n), nil
}

func fnCeil(args []any) (any, error) {
	n, err := toFloat(args[0])
	if err != nil {
		return nil, err
	}
	return math.Ceil(n), nil
}

func fnRandom(args []any) (any, error) {
	min, max := 0.0, 1.0
	var err error
	if len(args) > 0 && args[0] != nil {
		min, err = toFloat(args[0])
		if err != nil {
			return nil, err
		}
	}
	if len(args) > 1 && args[1] != nil {
		max, err = toFloat(args[1])
		if err != nil {
			return nil, err
		}
	}
	if max < min {
		return nil, fmt.Errorf("max must be >= min")
	}
	return min + rand.Float64()*(max-min), nil
}

// --- utility ---------------------------------------------------------

func fnDefault(args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("default requires (value, fallback)")
	}
	if args[0] == nil {
		return args[1], nil
	}
	return args[0], nil
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func fnEmpty(args []any) (any, error) {
	if len(args) < 1 {
		return true, nil
	}
	return isEmptyValue(args[0]), nil
}

func fnNotEmpty(args []any) (any, error) {
	if len(args) < 1 {
		return false, nil
	}
	return !isEmptyValue(args[0]), nil
}

func fnToNumber(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("toNumber requires a value")
	}
	switch v := args[0].(type) {
	case int64, float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("value is not convertible to a number")
	}
}

func fnToString(args []any) (any, error) {
	if len(args) < 1 || args[0] == nil {
		return "", nil
	}
	if s, ok := args[0].(string); ok {
		return s, nil
	}
	return fmt.Sprint(args[0]), nil
}

func fnToBoolean(args []any) (any, error) {
	if len(args) < 1 {
		return false, nil
	}
	switch v := args[0].(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return v != "", nil
		}
	case nil:
		return false, nil
	default:
		return true, nil
	}
}

func fnToJson(args []any) (any, error) {
	if len(args) < 1 {
		return "null", nil
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func fnFromJson(args []any) (any, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return out, nil
}
