package bridge

import "sort"

// Preset is a canned analysis of df
type Preset struct {
	Name  string `json:"name" yaml:"name"`
	Title string `json:"title" yaml:"title"`
	Code  string `json:"code" yaml:"code"`
}

var presets = map[string]Preset{
	"summary": {
		Name:  "summary",
		Title: "Summary statistics",
		Code:  "summary(df)",
	},
	"structure": {
		Name:  "structure",
		Title: "Detailed structure",
		Code: `if (requireNamespace("summarytools", quietly = TRUE)) {
  print(summarytools::dfSummary(df))
} else {
  cat("Using base R for detailed summary (summarytools package not available)\n\n")
  str(df)
  cat("\n--- Summary Statistics ---\n")
  print(summary(df))
  cat("\n--- Column Types ---\n")
  print(sapply(df, function(x) class(x)[1]))
  cat("\n--- First Rows ---\n")
  print(head(df))
}`,
	},
	"missing": {
		Name:  "missing",
		Title: "Missing values",
		Code: `na_counts <- sapply(df, function(x) sum(is.na(x)))
na_share <- round(100 * na_counts / nrow(df), 1)
print(data.frame(missing = na_counts, percent = na_share))
cat("\nComplete rows:", sum(complete.cases(df)), "of", nrow(df), "\n")`,
	},
	"correlation": {
		Name:  "correlation",
		Title: "Correlation of numeric columns",
		Code: `num_df <- df[sapply(df, is.numeric)]
if (ncol(num_df) < 2) {
  cat("Need at least two numeric columns for a correlation matrix\n")
} else {
  correlation_matrix <- cor(num_df, use = "complete.obs")
  print(round(correlation_matrix, 2))
  heatmap(correlation_matrix, symm = TRUE, main = "Correlation")
}`,
	},
	"describe": {
		Name:  "describe",
		Title: "Per-column description",
		Code: `if (requireNamespace("psych", quietly = TRUE)) {
  print(psych::describe(df))
} else {
  num_vars <- names(df)[sapply(df, is.numeric)]
  if (length(num_vars) > 0) {
    stats <- do.call(rbind, lapply(num_vars, function(v) {
      x <- df[[v]]
      data.frame(variable = v, mean = mean(x, na.rm = TRUE), sd = sd(x, na.rm = TRUE),
                 min = min(x, na.rm = TRUE), median = median(x, na.rm = TRUE),
                 max = max(x, na.rm = TRUE), missing = sum(is.na(x)))
    }))
    print(stats, row.names = FALSE)
  }
  for (v in setdiff(names(df), num_vars)) {
    cat("\n", v, ":\n", sep = "")
    print(head(sort(table(df[[v]], useNA = "ifany"), decreasing = TRUE), 10))
  }
}`,
	},
}

// Presets returns the preset analyses ordered by name
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PresetNames returns the preset names in order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for _, p := range Presets() {
		names = append(names, p.Name)
	}
	return names
}

// LookupPreset finds a preset by name
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}
