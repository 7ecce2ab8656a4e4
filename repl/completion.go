package repl

import (
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"rbridge/bridge"
)

// CompletionSource supplies the dynamic completion candidates
type CompletionSource interface {
	DatasetNames() []string
	CurrentColumns() []string
}

// rVocabulary is completed when nothing more specific applies
var rVocabulary = []string{
	"aggregate", "apply", "as.character", "as.factor", "as.numeric", "barplot", "boxplot",
	"c", "cat", "colMeans", "colnames", "cor", "cut", "data.frame", "df", "dim", "function",
	"head", "hist", "ifelse", "is.na", "lapply", "length", "library", "lm", "max", "mean",
	"median", "merge", "min", "names", "ncol", "nrow", "order", "paste", "paste0", "plot",
	"print", "quantile", "range", "rbind", "cbind", "require", "round", "rownames", "sapply",
	"sd", "seq", "sort", "str", "subset", "sum", "summary", "t.test", "table", "tail",
	"tapply", "unique", "var", "which", "with",
}

// Completer implements readline.AutoCompleter for R source and : commands
type Completer struct {
	source CompletionSource
	cache  *ttlcache.Cache[string, []string]
}

// NewCompleter creates a completer whose dynamic lists live for ttl
func NewCompleter(source CompletionSource, ttl time.Duration) *Completer {
	return &Completer{
		source: source,
		cache:  ttlcache.New[string, []string](ttlcache.WithTTL[string, []string](ttl)),
	}
}

// Invalidate drops cached dataset names and columns
func (c *Completer) Invalidate() {
	c.cache.DeleteAll()
}

func (c *Completer) cached(key string, load func() []string) []string {
	if item := c.cache.Get(key); item != nil {
		return item.Value()
	}
	values := load()
	c.cache.Set(key, values, ttlcache.DefaultTTL)
	return values
}

// Do returns the suffixes that complete the word before pos, and the
// length of that word
func (c *Completer) Do(line []rune, pos int) (newLine [][]rune, length int) {
	if pos > len(line) {
		pos = len(line)
	}
	prefix, candidates := c.Candidates(string(line[:pos]))
	for _, cand := range candidates {
		newLine = append(newLine, []rune(cand[len(prefix):]))
	}
	return newLine, len([]rune(prefix))
}

// Candidates returns the word being completed and the full words that
// extend it, sorted
func (c *Completer) Candidates(before string) (string, []string) {
	if strings.HasPrefix(before, ":") {
		return c.commandCandidates(before[1:])
	}

	start := findWordStart(before)
	word := before[start:]
	var pool []string
	if start > 0 && before[start-1] == '$' {
		pool = c.cached("columns", c.source.CurrentColumns)
	} else {
		pool = rVocabulary
	}
	return word, filterPrefix(pool, word)
}

func (c *Completer) commandCandidates(text string) (string, []string) {
	name, arg, hasArg := strings.Cut(text, " ")
	if !hasArg {
		var names []string
		for _, cmd := range commands {
			names = append(names, cmd.name)
		}
		return name, filterPrefix(names, name)
	}

	arg = strings.TrimLeft(arg, " ")
	var pool []string
	switch name {
	case "use", "fetch":
		pool = c.cached("datasets", c.source.DatasetNames)
	case "preset":
		pool = bridge.PresetNames()
	case "format":
		pool = []string{"json", "text", "yaml"}
	case "markdown":
		pool = []string{"off", "on"}
	}
	return arg, filterPrefix(pool, arg)
}

// findWordStart finds where the identifier ending at the end of line
// starts. Identifiers are letters, digits, underscores and dots.
func findWordStart(line string) int {
	start := len(line)
	for start > 0 {
		r := line[start-1]
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '.' {
			start--
		} else {
			break
		}
	}
	return start
}

func filterPrefix(pool []string, prefix string) []string {
	seen := make(map[string]bool, len(pool))
	var out []string
	for _, s := range pool {
		if strings.HasPrefix(s, prefix) && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
