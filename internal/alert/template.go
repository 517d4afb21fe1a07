package alert

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/dmarin/newswatch/internal/store"
)

var alertTemplate = template.Must(template.New("alert").Parse(`<html>
<body style="font-family: Arial, sans-serif; color: #222;">
	<h2 style="color: #b00020;">High-Impact Market News</h2>
	<h3><a href="{{.URL}}">{{.Title}}</a></h3>
	<p>
		<strong>Source:</strong> {{.Source}}<br>
		<strong>Impact:</strong> {{.ImpactScore}}/10<br>
		<strong>Sentiment:</strong> {{.Sentiment}}<br>
		<strong>Recommendation:</strong> {{.Recommendation}}<br>
		<strong>Instruments:</strong> {{.InstrumentList}}<br>
		<strong>Confidence:</strong> {{printf "%.0f%%" .ConfidencePct}}
	</p>
	<p>{{.Summary}}</p>
	<hr>
	<p style="font-size: 12px; color: #888;">Sent by newswatch. Published {{.Published}}.</p>
</body>
</html>`))

type alertData struct {
	URL            string
	Title          string
	Source         string
	ImpactScore    int
	Sentiment      string
	Recommendation string
	InstrumentList string
	ConfidencePct  float64
	Summary        string
	Published      string
}

// renderAlert builds subject, HTML body, and plain-text body for one article.
func renderAlert(a *store.Article) (subject, htmlBody, textBody string, err error) {
	instruments := "none identified"
	if len(a.Instruments) > 0 {
		instruments = strings.Join(a.Instruments, ", ")
	}

	data := alertData{
		URL:            a.URL,
		Title:          a.Title,
		Source:         a.Source,
		ImpactScore:    a.ImpactScore,
		Sentiment:      a.Sentiment,
		Recommendation: a.Recommendation,
		InstrumentList: instruments,
		ConfidencePct:  a.Confidence * 100,
		Summary:        a.Summary,
		Published:      a.PublishedAt.Format("2006-01-02 15:04 MST"),
	}

	var html strings.Builder
	if err := alertTemplate.Execute(&html, data); err != nil {
		return "", "", "", fmt.Errorf("render alert template: %w", err)
	}

	subject = fmt.Sprintf("[newswatch] Impact %d/10: %s", a.ImpactScore, a.Title)

	var text strings.Builder
	fmt.Fprintf(&text, "High-impact market news\n\n%s\n%s\n\n", a.Title, a.URL)
	fmt.Fprintf(&text, "Source: %s\nImpact: %d/10\nSentiment: %s\nRecommendation: %s\nInstruments: %s\n\n",
		a.Source, a.ImpactScore, a.Sentiment, a.Recommendation, instruments)
	fmt.Fprintf(&text, "%s\n", a.Summary)

	return subject, html.String(), text.String(), nil
}
