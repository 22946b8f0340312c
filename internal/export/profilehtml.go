package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/couchcryptid/flood-metrics-service/internal/domain"
	"github.com/couchcryptid/flood-metrics-service/internal/profile"
)

// SectionProfile is one cross-section's computed profile, keyed by the
// section's feature ID.
type SectionProfile struct {
	ID     string
	Points []profile.ProfilePoint
}

// WriteProfileBundle writes a single HTML document with one interactive
// terrain/water-surface chart per cross-section.
func WriteProfileBundle(path string, sections []SectionProfile) error {
	artifact := filepath.Base(path)

	page := components.NewPage()
	page.PageTitle = "Cross-Section Profiles"
	for _, section := range sections {
		page.AddCharts(profileChart(section))
	}

	f, err := os.Create(path)
	if err != nil {
		return &domain.ExportError{Artifact: artifact, Err: err}
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return &domain.ExportError{Artifact: artifact, Err: err}
	}
	if err := f.Close(); err != nil {
		return &domain.ExportError{Artifact: artifact, Err: err}
	}
	return nil
}

func profileChart(section SectionProfile) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Cross-Section %s", section.ID),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Station"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Elevation"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	stations := make([]string, len(section.Points))
	ground := make([]opts.LineData, len(section.Points))
	water := make([]opts.LineData, len(section.Points))
	for i, pt := range section.Points {
		stations[i] = strconv.FormatFloat(pt.Distance, 'f', 2, 64)
		ground[i] = lineValue(pt.Ground)
		water[i] = lineValue(pt.Water)
	}

	line.SetXAxis(stations).
		AddSeries("Terrain", ground).
		AddSeries("Water Surface", water)
	return line
}

// lineValue maps undefined statistics to echarts' missing-value marker so
// charts show gaps instead of zeros.
func lineValue(s domain.Stat) opts.LineData {
	if !s.Defined {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: s.Value}
}
