package advisory

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"github.com/jenkins-canary/canary/cvss"
	"github.com/jenkins-canary/canary/jenkinsurl"
)

var (
	securityIDRegexp   = regexp.MustCompile(`\bSECURITY-\d+\b`)
	severityLineRegexp = regexp.MustCompile(`(?i)\b(SECURITY-\d+)\b\s+is\s+considered\s+\b(low|medium|high|critical)\b`)
	calculatorRegexp   = regexp.MustCompile(`(?i)https?://www\.first\.org/cvss/calculator/[^"'\s>]+`)
	whitespaceRegexp   = regexp.MustCompile(`\s+`)
)

// Warning is the upstream securityWarnings entry associated with an
// advisory URL: the finding id plus whether the maintainer feed currently
// marks it active.
type Warning struct {
	ID     string
	Active bool
}

// Title extracts the first <title> element content, whitespace-collapsed.
// Unparseable content yields "".
func Title(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	title := doc.Find("title").First().Text()
	return strings.TrimSpace(whitespaceRegexp.ReplaceAllString(title, " "))
}

// SeverityLabels parses Jenkins advisory severity lines of the form
// "SECURITY-1234 is considered high" anywhere in the document into a
// finding-id -> severity-word mapping.
func SeverityLabels(html string) map[string]string {
	out := map[string]string{}
	for _, m := range severityLineRegexp.FindAllStringSubmatch(html, -1) {
		out[strings.ToUpper(m[1])] = strings.ToLower(m[2])
	}
	return out
}

// Sections splits the document into per-finding chunks, each running from
// one SECURITY-id occurrence to the next (or end of document). When the same
// id appears twice, the longer chunk wins (more context).
func Sections(html string) map[string]string {
	matches := securityIDRegexp.FindAllStringIndex(html, -1)
	if matches == nil {
		return map[string]string{}
	}

	out := map[string]string{}
	for i, m := range matches {
		sid := strings.ToUpper(html[m[0]:m[1]])
		end := len(html)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		chunk := html[m[0]:end]
		if len(chunk) > len(out[sid]) {
			out[sid] = chunk
		}
	}
	return out
}

// CVSSBySecurityID finds, within each finding's section chunk, a FIRST.org
// calculator URL carrying a CVSS vector in its fragment and evaluates it.
func CVSSBySecurityID(html string) map[string]CVSS {
	out := map[string]CVSS{}
	for sid, chunk := range Sections(html) {
		cvssURL := calculatorRegexp.FindString(chunk)
		if cvssURL == "" {
			continue
		}

		version, vector := parseVectorFromURL(cvssURL)
		if vector == "" {
			continue
		}

		block := CVSS{
			Version: version,
			Vector:  vector,
			URL:     cvssURL,
		}
		if score, ok := cvss.BaseScore(vector); ok {
			block.BaseScore = &score
		}
		out[sid] = block
	}
	return out
}

// parseVectorFromURL extracts (version, vector) from a calculator URL whose
// fragment carries the vector, e.g. .../calculator/3.0#CVSS:3.0/AV:N/...
func parseVectorFromURL(rawURL string) (version, vector string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ""
	}
	frag := u.Fragment
	if !strings.HasPrefix(frag, "CVSS:") {
		return "", ""
	}
	vpart, _, _ := strings.Cut(frag, "/")
	_, version, _ = strings.Cut(vpart, ":")
	return version, frag
}

// BuildRecord assembles one canonical advisory record from a fetched
// advisory page and the upstream warnings known to point at it. Absence of
// any parseable structure yields a record with empty findings and empty
// title, not an error.
func BuildRecord(pluginID, pageURL, html string, warnings []Warning) Record {
	pageURL = jenkinsurl.Normalize(pageURL)

	labels := SeverityLabels(html)
	cvssByID := CVSSBySecurityID(html)

	published := jenkinsurl.DateFromAdvisoryURL(pageURL)

	var warningIDs []string
	active := false
	for _, w := range warnings {
		if w.ID == "" {
			continue
		}
		warningIDs = append(warningIDs, w.ID)
		active = active || w.Active
	}
	sortedIDs := lo.Uniq(warningIDs)
	sort.Strings(sortedIDs)

	findings := make([]Finding, 0, len(sortedIDs))
	for _, wid := range sortedIDs {
		v := Finding{
			SecurityWarningID: wid,
			URLFragment:       pageURL + "#" + wid,
		}
		if label := labels[wid]; label != "" {
			v.SeverityLabel = label
			v.SeveritySource = SeveritySourceAdvisory
		}
		if block, ok := cvssByID[wid]; ok {
			c := block
			v.CVSS = &c
		}

		// Derive a severity label from CVSS when the advisory text does not
		// state one.
		if v.SeverityLabel == "" && v.CVSS != nil && v.CVSS.BaseScore != nil {
			v.SeverityLabel = cvss.SeverityFromScore(*v.CVSS.BaseScore)
			v.SeveritySource = SeveritySourceCVSS
		}

		findings = append(findings, v)
	}

	return Record{
		Source:                SourceJenkins,
		Type:                  TypeAdvisory,
		AdvisoryID:            published,
		PublishedDate:         published,
		PluginID:              pluginID,
		Title:                 Title(html),
		URL:                   pageURL,
		SecurityWarningIDs:    sortedIDs,
		ActiveSecurityWarning: active,
		Vulnerabilities:       findings,
		SeveritySummary:       summaryFromFindings(findings),
	}
}
