package advisory

import (
	"net/url"
	"sort"

	"github.com/samber/lo"

	"github.com/jenkins-canary/canary/cvss"
	"github.com/jenkins-canary/canary/jenkinsurl"
)

// Normalize prepares a raw record for merging: the advisory URL is
// canonicalized and stripped of query/fragment, advisory id and published
// date are derived from the URL's trailing date segment when absent, warning
// ids are de-duplicated and sorted, and findings without a warning id are
// dropped. Normalizing first keeps the dedupe key stable regardless of the
// order records were collected in.
func Normalize(r Record) Record {
	if r.Source == SourceJenkins && r.Type == TypeAdvisory {
		if r.URL != "" {
			r.URL = jenkinsurl.Normalize(r.URL)
		}
		if derived := jenkinsurl.DateFromAdvisoryURL(r.URL); derived != "" {
			if r.AdvisoryID == "" {
				r.AdvisoryID = derived
			}
			if r.PublishedDate == "" {
				r.PublishedDate = derived
			}
		}
	}

	r.SecurityWarningIDs = lo.Uniq(r.SecurityWarningIDs)
	sort.Strings(r.SecurityWarningIDs)

	var findings []Finding
	for _, v := range r.Vulnerabilities {
		if v.SecurityWarningID == "" {
			continue
		}
		findings = append(findings, v)
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].SecurityWarningID < findings[j].SecurityWarningID
	})
	r.Vulnerabilities = findings

	return r
}

// Merge folds next into base and returns the new base. Both inputs are
// expected to be normalized and share the same dedupe key. Every rule only
// performs empty-to-non-empty transitions (never non-empty to a different
// non-empty value), which keeps the fold associative and order-independent.
func Merge(base, next Record) Record {
	// URL: prefer the canonical host, but never overwrite a present
	// canonical-host URL with anything else.
	if next.URL != "" {
		if base.URL == "" || (host(next.URL) == jenkinsurl.CanonicalHost && host(base.URL) != jenkinsurl.CanonicalHost) {
			base.URL = next.URL
		}
	}

	base.SecurityWarningIDs = lo.Uniq(append(base.SecurityWarningIDs, next.SecurityWarningIDs...))
	sort.Strings(base.SecurityWarningIDs)

	base.ActiveSecurityWarning = base.ActiveSecurityWarning || next.ActiveSecurityWarning

	// published_date: keep the earliest. Lexicographic comparison is valid
	// because the format is fixed YYYY-MM-DD.
	if base.PublishedDate == "" || (next.PublishedDate != "" && next.PublishedDate < base.PublishedDate) {
		base.PublishedDate = next.PublishedDate
	}

	if base.Title == "" {
		base.Title = next.Title
	}

	base.Vulnerabilities = mergeFindings(base.Vulnerabilities, next.Vulnerabilities)
	base.SeveritySummary = summarize(base, next)

	return base
}

// MergeAll deduplicates raw records by dedupe key and folds each group into
// one canonical record. Output is sorted by (published_date, plugin_id,
// advisory_id) for reproducible diffs.
func MergeAll(records []Record) []Record {
	merged := map[Key]Record{}
	counts := map[Key]int{}

	for _, raw := range records {
		r := Normalize(raw)
		k := r.Key()
		counts[k]++

		base, ok := merged[k]
		if !ok {
			merged[k] = r
			continue
		}
		merged[k] = Merge(base, r)
	}

	out := make([]Record, 0, len(merged))
	for k, r := range merged {
		if counts[k] > 1 {
			r.MergedFromCount = counts[k]
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedDate != out[j].PublishedDate {
			return out[i].PublishedDate < out[j].PublishedDate
		}
		if out[i].PluginID != out[j].PluginID {
			return out[i].PluginID < out[j].PluginID
		}
		return out[i].AdvisoryID < out[j].AdvisoryID
	})
	return out
}

func mergeFindings(base, next []Finding) []Finding {
	byID := map[string]Finding{}
	for _, v := range base {
		byID[v.SecurityWarningID] = v
	}

	for _, v := range next {
		b, ok := byID[v.SecurityWarningID]
		if !ok {
			byID[v.SecurityWarningID] = v
			continue
		}

		// Field-by-field: fill empty fields only, never replace the whole
		// object.
		if b.URLFragment == "" {
			b.URLFragment = v.URLFragment
		}
		if b.SeverityLabel == "" {
			b.SeverityLabel = v.SeverityLabel
			if b.SeverityLabel != "" {
				b.SeveritySource = v.SeveritySource
			}
		}
		if b.SeveritySource == "" {
			b.SeveritySource = v.SeveritySource
		}
		b.CVSS = mergeCVSS(b.CVSS, v.CVSS)

		byID[v.SecurityWarningID] = b
	}

	ids := lo.Keys(byID)
	sort.Strings(ids)

	out := make([]Finding, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// mergeCVSS never writes through either input pointer; the fold stays free
// of side effects on the caller's records.
func mergeCVSS(base, next *CVSS) *CVSS {
	if next == nil {
		return base
	}
	if base == nil {
		c := *next
		return &c
	}
	c := *base
	if c.Version == "" {
		c.Version = next.Version
	}
	if c.Vector == "" {
		c.Vector = next.Vector
	}
	if c.BaseScore == nil {
		c.BaseScore = next.BaseScore
	}
	if c.URL == "" {
		c.URL = next.URL
	}
	return &c
}

// summarize recomputes the severity rollup after a merge. When findings are
// present the summary is a pure function of them; otherwise the two stored
// summaries are combined by rank/maximum, which is order-independent.
func summarize(base, next Record) *SeveritySummary {
	if len(base.Vulnerabilities) > 0 {
		return summaryFromFindings(base.Vulnerabilities)
	}

	combined := combineSummaries(base.SeveritySummary, next.SeveritySummary)
	return combined
}

func summaryFromFindings(findings []Finding) *SeveritySummary {
	var labels []string
	var maxScore *float64
	for _, v := range findings {
		if v.SeverityLabel != "" {
			labels = append(labels, v.SeverityLabel)
		}
		if v.CVSS != nil && v.CVSS.BaseScore != nil {
			if maxScore == nil || *v.CVSS.BaseScore > *maxScore {
				s := *v.CVSS.BaseScore
				maxScore = &s
			}
		}
	}

	summary := &SeveritySummary{MaxCVSSBaseScore: maxScore}
	if label, ok := cvss.MaxSeverityLabel(labels); ok {
		summary.MaxSeverityLabel = label
	}
	if summary.MaxSeverityLabel == "" && summary.MaxCVSSBaseScore == nil {
		return nil
	}
	return summary
}

func combineSummaries(a, b *SeveritySummary) *SeveritySummary {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	out := &SeveritySummary{
		MaxSeverityLabel: a.MaxSeverityLabel,
		MaxCVSSBaseScore: a.MaxCVSSBaseScore,
	}
	if cvss.SeverityRank(b.MaxSeverityLabel) > cvss.SeverityRank(out.MaxSeverityLabel) {
		out.MaxSeverityLabel = b.MaxSeverityLabel
	}
	if b.MaxCVSSBaseScore != nil && (out.MaxCVSSBaseScore == nil || *b.MaxCVSSBaseScore > *out.MaxCVSSBaseScore) {
		out.MaxCVSSBaseScore = b.MaxCVSSBaseScore
	}
	return out
}

func host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
