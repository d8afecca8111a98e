package reporter

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"

	"github.com/shopspring/decimal"
)

var htmlFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(models.AmountPlaces) },
	"pct":   func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	"time":  func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	"statusClass": func(s models.Status) string {
		switch s {
		case models.StatusMajorAnomaly:
			return "err"
		case models.StatusMinorAnomaly:
			return "warn"
		case models.StatusAwaitingDeposit, models.StatusNotFound:
			return "info"
		default:
			return "ok"
		}
	},
}

var htmlReport = template.Must(template.New("report").Funcs(htmlFuncs).Parse(`<!DOCTYPE html>
<html lang="it">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: "Segoe UI", sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
th, td { border: 1px solid #ddd; padding: 4px 10px; text-align: left; }
th { background: #3498db; color: #fff; }
td.num { text-align: right; }
.ok { color: #2ecc71; } .warn { color: #f39c12; } .err { color: #e74c3c; } .info { color: #00bcd4; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Period {{.Report.From}} to {{.Report.To}}, generated {{time .Report.GeneratedAt}}</p>

<h2>Summary</h2>
<table>
<tr><th>Days checked</th><td class="num">{{.Report.TotalDays}}</td></tr>
<tr><th>Balanced days</th><td class="num">{{.Report.BalancedDays}}</td></tr>
<tr><th>Anomalous days</th><td class="num">{{.Report.AnomalousDays}} ({{pct .Report.AnomalyRate}})</td></tr>
</table>

{{if .Report.ByCategory}}
<h2>Anomalies by category</h2>
<table>
<tr><th>Category</th><th>Count</th><th>Abs. difference</th></tr>
{{range .Report.ByCategory}}<tr><td>{{.Category}}</td><td class="num">{{.Count}}</td><td class="num">{{money .TotalDifference}}</td></tr>
{{end}}</table>
{{end}}

{{if .Report.CriticalPlants}}
<h2>Critical plants</h2>
<table>
<tr><th>Plant</th><th>Name</th><th>Anomaly rate</th><th>Days</th><th>Abs. difference</th></tr>
{{range .Report.CriticalPlants}}<tr><td>{{.PlantID}}</td><td>{{.Name}}</td><td class="num err">{{pct .AnomalyRate}}</td><td class="num">{{.DaysChecked}}</td><td class="num">{{money .TotalDifference}}</td></tr>
{{end}}</table>
{{end}}

{{if .Trend}}
<h2>Weekly trend</h2>
<table>
<tr><th>Day</th><th>Days</th><th>Anomalous</th><th>Rate</th></tr>
{{range .Trend}}<tr><td>{{.Name}}</td><td class="num">{{.TotalDays}}</td><td class="num">{{.AnomalousDays}}</td><td class="num">{{pct .Rate}}</td></tr>
{{end}}</table>
{{end}}

{{if .Patterns}}
<h2>Recurring patterns</h2>
<table>
<tr><th>Plant</th><th>Category</th><th>Occurrences</th><th>Avg. difference</th><th>Severity</th></tr>
{{range .Patterns}}<tr><td>{{.PlantID}}</td><td>{{.Category}}</td><td class="num">{{.OccurrenceCount}}</td><td class="num">{{money .AverageAbsoluteDifference}}</td><td>{{.Severity}}</td></tr>
{{end}}</table>
{{end}}

{{if .Anomalies}}
<h2>Anomaly details</h2>
<table>
<tr><th>Date</th><th>Plant</th><th>Category</th><th>Theoretical</th><th>Actual</th><th>Difference</th><th>Status</th><th>Note</th></tr>
{{range $e := .Anomalies}}{{range $e.Details}}<tr><td>{{$e.Date}}</td><td>{{$e.PlantID}} {{$e.PlantName}}</td><td>{{.Category}}</td><td class="num">{{money .TheoreticalValue}}</td><td class="num">{{money .ActualValue}}</td><td class="num">{{money .Difference}}</td><td class="{{statusClass .Status}}">{{.Status}}</td><td>{{.Note}}</td></tr>
{{end}}{{end}}</table>
{{if .Hidden}}<p>... and {{.Hidden}} more anomalous days</p>{{end}}
{{end}}
</body>
</html>
`))

type htmlView struct {
	Title     string
	Report    *AnomalyReport
	Trend     []WeekdayTrend
	Patterns  []models.AnomalyPattern
	Anomalies []AnomalyEntry
	Hidden    int
}

func (rg *ReportGenerator) generateHTMLReport(report *AnomalyReport, writer io.Writer) error {
	view := htmlView{Title: rg.config.Title, Report: report}
	if rg.config.IncludeTrend && report.TotalDays > 0 {
		view.Trend = report.WeeklyTrend
	}
	if rg.config.IncludePatterns {
		view.Patterns = report.Patterns
	}
	if rg.config.IncludeDetails {
		view.Anomalies, view.Hidden = rg.limitEntries(report.Anomalies)
	}
	if err := htmlReport.Execute(writer, view); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return nil
}
